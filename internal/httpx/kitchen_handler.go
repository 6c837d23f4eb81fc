package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/kitchen"
	"github.com/go-chi/chi/v5"
)

type KitchenHandler struct {
	Queue *kitchen.Queue
	Now   func() time.Time
}

type versionReq struct {
	Version int64 `json:"version"`
}

func (h *KitchenHandler) Register(r chi.Router) {
	r.Get("/kitchen/board", h.board)
	r.Post("/kitchen/orders/{id}/items/{itemId}/ready", h.itemReady)
	r.Post("/kitchen/orders/{id}/complete", h.complete)
}

func (h *KitchenHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *KitchenHandler) board(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"orders": h.Queue.Board(h.now())})
}

func (h *KitchenHandler) itemReady(w http.ResponseWriter, r *http.Request) {
	var req versionReq
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Queue.MarkItemReady(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "itemId"), req.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *KitchenHandler) complete(w http.ResponseWriter, r *http.Request) {
	var req versionReq
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Queue.CompleteOrder(ctx, chi.URLParam(r, "id"), req.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
