package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/ariefcatur/go-restaurant-orders/internal/ordersvc"
	"github.com/ariefcatur/go-restaurant-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// StatusCache is the fast path for GET /orders/{id}/status.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.CachedStatus, error)
	Put(ctx context.Context, o *orders.Order) error
}

type OrdersHandler struct {
	Service *ordersvc.Service
	// Status may be nil; the status endpoint then always reads the repository.
	Status StatusCache
}

type statusReq struct {
	Status  string `json:"status"`
	Notes   string `json:"notes"`
	Version int64  `json:"version"`
}

type cancelReq struct {
	Reason  string `json:"reason"`
	Version int64  `json:"version"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.placeOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/number/{number}", h.getOrderByNumber)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Patch("/orders/{id}/status", h.updateStatus)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Patch("/orders/{id}/items/{itemId}/status", h.updateItemStatus)
	r.Post("/orders/{id}/reconcile", h.reconcile)
}

// decodeBody reads a JSON body; an empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req ordersvc.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.PlaceOrder(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.ListFilter{
		RestaurantID: q.Get("restaurant_id"),
		Status:       orders.Status(q.Get("status")),
	}
	var err error
	if f.Page, err = intParam(q.Get("page")); err != nil {
		badRequest(w, "page must be an integer")
		return
	}
	if f.PageSize, err = intParam(q.Get("page_size")); err != nil {
		badRequest(w, "page_size must be an integer")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	page, err := h.Service.ListOrders(ctx, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.GetOrderByNumber(ctx, chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Status != nil {
		cs, err := h.Status.Get(ctx, orderID)
		if err == nil {
			writeJSON(w, http.StatusOK, cs)
			return
		}
		if !errors.Is(err, redisx.ErrCacheMiss) {
			log.Warn().Err(err).Str("order_id", orderID).Msg("status cache read failed")
		}
	}

	// 2) repository
	o, err := h.Service.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, redisx.CachedStatus{OrderID: o.ID, Status: o.Status, Version: o.Version, UpdatedAt: o.UpdatedAt})
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o *orders.Order) {
	if h.Status == nil {
		return
	}
	if err := h.Status.Put(ctx, o); err != nil {
		log.Warn().Err(err).Str("order_id", o.ID).Msg("status cache write failed")
	}
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.UpdateOrderStatus(ctx, ordersvc.StatusUpdate{
		OrderID:         chi.URLParam(r, "id"),
		Status:          orders.Status(req.Status),
		Note:            req.Notes,
		ExpectedVersion: req.Version,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.CancelOrder(ctx, chi.URLParam(r, "id"), req.Reason, req.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateItemStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Service.UpdateItemStatus(ctx, ordersvc.ItemStatusUpdate{
		OrderID:         chi.URLParam(r, "id"),
		ItemID:          chi.URLParam(r, "itemId"),
		Status:          orders.ItemStatus(req.Status),
		Note:            req.Notes,
		ExpectedVersion: req.Version,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.Reconcile(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
