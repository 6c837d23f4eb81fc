package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-restaurant-orders/internal/events"
	"github.com/ariefcatur/go-restaurant-orders/internal/kitchen"
	"github.com/ariefcatur/go-restaurant-orders/internal/ledger"
	"github.com/ariefcatur/go-restaurant-orders/internal/memstore"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/ariefcatur/go-restaurant-orders/internal/ordersvc"
	"github.com/ariefcatur/go-restaurant-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

type testServer struct {
	router *chi.Mux
	svc    *ordersvc.Service
	queue  *kitchen.Queue
	mr     *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	cache := &redisx.StatusCache{Redis: rdb}

	bus := events.NewBus()
	svc := &ordersvc.Service{
		Repo: memstore.NewOrderRepo(),
		Catalog: memstore.NewCatalog(
			orders.MenuItem{ID: "burger", Name: "Burger", Price: 1000, Available: true},
			orders.MenuItem{ID: "fries", Name: "Fries", Price: 500, Available: true},
		),
		Sequence: &redisx.Sequence{Redis: rdb},
		Ledger: &ledger.Ledger{
			Discounts: memstore.NewDiscounts(orders.DiscountCode{Code: "TENOFF", Kind: orders.DiscountFixed, Amount: 1000}),
			Loyalty:   memstore.NewLoyalty(map[string]int64{"cust-1": 0}),
		},
		Publisher:   bus,
		TaxRate:     decimal.RequireFromString("0.09"),
		PointValue:  1,
		EarnRate:    decimal.NewFromInt(1),
		Now:         func() time.Time { return testNow },
		ServiceName: "test",
	}
	queue := kitchen.NewQueue(svc)
	queue.Now = func() time.Time { return testNow }
	bus.Subscribe(queue.Apply)
	bus.Subscribe(cache.Apply)

	r := NewRouter()
	(&OrdersHandler{Service: svc, Status: cache}).Register(r)
	(&KitchenHandler{Queue: queue, Now: func() time.Time { return testNow.Add(90 * time.Second) }}).Register(r)
	return &testServer{router: r, svc: svc, queue: queue, mr: mr}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const placeBody = `{"restaurant_id":"r-1","type":"DINE_IN","table_id":"t-4","customer_id":"cust-1",
	"items":[{"menu_item_id":"burger","quantity":1},{"menu_item_id":"fries","quantity":1}]}`

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestPlaceOrderAndKitchenFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/orders", placeBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	o := decode[orders.Order](t, rec)
	assert.Equal(t, "20261018-0001", o.OrderNumber)
	assert.EqualValues(t, 1635, o.TotalAmount)
	assert.Contains(t, rec.Body.String(), `"total_amount":"16.35"`)

	rec = s.do(t, http.MethodGet, "/orders/number/20261018-0001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, o.ID, decode[orders.Order](t, rec).ID)

	rec = s.do(t, http.MethodGet, "/kitchen/board", "")
	require.Equal(t, http.StatusOK, rec.Code)
	board := decode[struct {
		Orders []kitchen.View `json:"orders"`
	}](t, rec)
	require.Len(t, board.Orders, 1)
	assert.Equal(t, int64(90), board.Orders[0].ElapsedSeconds)

	rec = s.do(t, http.MethodPatch, fmt.Sprintf("/orders/%s/status", o.ID), `{"status":"CONFIRMED","version":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, it := range o.Items {
		rec = s.do(t, http.MethodPatch, fmt.Sprintf("/orders/%s/items/%s/status", o.ID, it.ID), `{"status":"PREPARING"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	for _, it := range o.Items {
		rec = s.do(t, http.MethodPost, fmt.Sprintf("/kitchen/orders/%s/items/%s/ready", o.ID, it.ID), "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	res := decode[ordersvc.ItemStatusResult](t, rec)
	assert.Equal(t, orders.StatusReady, res.OrderStatus)

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/orders/%s/status", o.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	cs := decode[redisx.CachedStatus](t, rec)
	assert.Equal(t, orders.StatusReady, cs.Status)
	assert.Equal(t, res.Version, cs.Version)

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/kitchen/orders/%s/complete", o.ID), `{"version":0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, orders.StatusCompleted, decode[orders.Order](t, rec).Status)
	assert.Zero(t, s.queue.Len())

	bal, err := s.svc.Ledger.Loyalty.GetBalance(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(16), bal)
}

func TestStatusEndpointFallsBackToRepository(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/orders", placeBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	o := decode[orders.Order](t, rec)

	s.mr.FlushAll()
	rec = s.do(t, http.MethodGet, fmt.Sprintf("/orders/%s/status", o.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusPending, decode[redisx.CachedStatus](t, rec).Status)
	assert.True(t, s.mr.Exists(fmt.Sprintf(redisx.KeyOrderStatus, o.ID)))
}

func TestIdempotencyKeyHeader(t *testing.T) {
	s := newTestServer(t)
	send := func() orders.Order {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(placeBody))
		req.Header.Set("Idempotency-Key", "abc")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
		return decode[orders.Order](t, rec)
	}
	first, second := send(), send()
	assert.Equal(t, first.ID, second.ID)

	rec := s.do(t, http.MethodGet, "/orders?restaurant_id=r-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[orders.Page](t, rec)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 20, page.PageSize)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/orders", placeBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	o := decode[orders.Order](t, rec)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
		kind   string
	}{
		{"bad json", http.MethodPost, "/orders", "{", http.StatusBadRequest, "invalid_request"},
		{"empty order", http.MethodPost, "/orders", `{"restaurant_id":"r-1","type":"DINE_IN","items":[]}`, http.StatusBadRequest, "empty_order"},
		{"unknown menu item", http.MethodPost, "/orders", `{"restaurant_id":"r-1","type":"DINE_IN","items":[{"menu_item_id":"x","quantity":1}]}`, http.StatusUnprocessableEntity, "menu_item_not_found"},
		{"unknown discount", http.MethodPost, "/orders", `{"restaurant_id":"r-1","type":"DINE_IN","discount_code":"NOPE","items":[{"menu_item_id":"fries","quantity":1}]}`, http.StatusUnprocessableEntity, "invalid_discount"},
		{"too many points", http.MethodPost, "/orders", `{"restaurant_id":"r-1","type":"DINE_IN","customer_id":"cust-1","loyalty_points_to_use":5,"items":[{"menu_item_id":"fries","quantity":1}]}`, http.StatusUnprocessableEntity, "insufficient_loyalty_points"},
		{"bad page", http.MethodGet, "/orders?page=x", "", http.StatusBadRequest, "invalid_request"},
		{"missing order", http.MethodGet, "/orders/nope", "", http.StatusNotFound, "order_not_found"},
		{"missing item", http.MethodPatch, "/orders/" + o.ID + "/items/nope/status", `{"status":"READY"}`, http.StatusNotFound, "item_not_found"},
		{"invalid transition", http.MethodPatch, "/orders/" + o.ID + "/status", `{"status":"COMPLETED"}`, http.StatusConflict, "invalid_transition"},
		{"stale version", http.MethodPatch, "/orders/" + o.ID + "/status", `{"status":"CONFIRMED","version":7}`, http.StatusConflict, "version_conflict"},
		{"unknown status", http.MethodPatch, "/orders/" + o.ID + "/status", `{"status":"EATEN"}`, http.StatusBadRequest, "invalid_request"},
		{"cancel without reason", http.MethodPost, "/orders/" + o.ID + "/cancel", `{}`, http.StatusBadRequest, "invalid_request"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.Equal(t, tc.kind, decode[errorResp](t, rec).Code)
		})
	}

	rec = s.do(t, http.MethodGet, "/orders/"+o.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[orders.Order](t, rec).Version)
}

func TestCancelAndReconcile(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/orders", placeBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	o := decode[orders.Order](t, rec)

	rec = s.do(t, http.MethodPost, "/orders/"+o.ID+"/cancel", `{"reason":"customer left","version":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decode[orders.Order](t, rec)
	assert.Equal(t, orders.StatusCancelled, cancelled.Status)
	assert.Zero(t, s.queue.Len())

	rec = s.do(t, http.MethodPost, "/orders/"+o.ID+"/reconcile", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, cancelled.Version, decode[orders.Order](t, rec).Version)
}

func TestStatusFor(t *testing.T) {
	code, kind := statusFor(fmt.Errorf("wrapped: %w", &orders.InvalidDiscountError{Code: "X", Reason: orders.DiscountExpired}))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "invalid_discount", kind)

	code, _ = statusFor(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/orders/missing", "")

	rec := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{code="404",method="GET",route="/orders/{id}"}`)
}
