package kitchen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/events"
	"github.com/ariefcatur/go-restaurant-orders/internal/ledger"
	"github.com/ariefcatur/go-restaurant-orders/internal/memstore"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/ariefcatur/go-restaurant-orders/internal/ordersvc"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 18, 18, 0, 0, 0, time.UTC)

type harness struct {
	svc   *ordersvc.Service
	queue *Queue
	clock time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{clock: t0}
	bus := events.NewBus()
	h.svc = &ordersvc.Service{
		Repo:     memstore.NewOrderRepo(),
		Catalog:  memstore.NewCatalog(orders.MenuItem{ID: "ramen", Name: "Ramen", Price: 1200, Available: true}),
		Sequence: memstore.NewSequence(),
		Ledger: &ledger.Ledger{
			Discounts: memstore.NewDiscounts(),
			Loyalty:   memstore.NewLoyalty(nil),
		},
		Publisher: bus,
		TaxRate:   decimal.RequireFromString("0.08"),
		EarnRate:  decimal.Zero,
		Now:       func() time.Time { return h.clock },
	}
	h.queue = NewQueue(h.svc)
	h.queue.Now = func() time.Time { return h.clock }
	bus.Subscribe(h.queue.Apply)
	return h
}

func (h *harness) place(t *testing.T, prio orders.Priority, at time.Time, n int) *orders.Order {
	t.Helper()
	h.clock = at
	req := ordersvc.PlaceOrderRequest{RestaurantID: "r-1", Type: orders.TypeTakeout, Priority: prio}
	for i := 0; i < n; i++ {
		req.Items = append(req.Items, ordersvc.ItemRequest{MenuItemID: "ramen", Quantity: 1})
	}
	o, err := h.svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	return o
}

func (h *harness) confirm(t *testing.T, o *orders.Order) {
	t.Helper()
	_, err := h.svc.UpdateOrderStatus(context.Background(), ordersvc.StatusUpdate{OrderID: o.ID, Status: orders.StatusConfirmed})
	require.NoError(t, err)
}

func TestBoard_OrderedByPriorityThenAge(t *testing.T) {
	h := newHarness(t)
	a := h.place(t, orders.PriorityNormal, t0, 1)
	b := h.place(t, orders.PriorityRush, t0.Add(5*time.Minute), 1)
	c := h.place(t, orders.PriorityNormal, t0.Add(-2*time.Minute), 1)
	d := h.place(t, orders.PriorityRush, t0.Add(time.Minute), 1)

	board := h.queue.Board(t0.Add(10 * time.Minute))
	require.Len(t, board, 4)
	var ids []string
	for _, v := range board {
		ids = append(ids, v.OrderID)
	}
	assert.Equal(t, []string{d.ID, b.ID, c.ID, a.ID}, ids)
	assert.Equal(t, 9*time.Minute, board[0].Elapsed())
	assert.Equal(t, int64(12*60), board[2].ElapsedSeconds)
}

func TestMarkItemReady_RaisesReadyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.place(t, orders.PriorityNormal, t0, 2)
	h.confirm(t, o)

	var ready []Entry
	h.queue.OnReady(func(e Entry) { ready = append(ready, e) })

	for _, it := range o.Items {
		_, err := h.queue.MarkItemPreparing(ctx, o.ID, it.ID, ordersvc.AnyVersion)
		require.NoError(t, err)
	}
	_, err := h.queue.MarkItemReady(ctx, o.ID, o.Items[0].ID, ordersvc.AnyVersion)
	require.NoError(t, err)
	assert.Empty(t, ready)

	e, ok := h.queue.Entry(o.ID)
	require.True(t, ok)
	assert.Equal(t, orders.StatusInProgress, e.Status)
	assert.Equal(t, orders.ItemReady, e.Items[0].Status)

	res, err := h.queue.MarkItemReady(ctx, o.ID, o.Items[1].ID, ordersvc.AnyVersion)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusReady, res.OrderStatus)
	require.Len(t, ready, 1)
	assert.Equal(t, o.ID, ready[0].OrderID)

	// serving one dish keeps the order READY and does not fire again
	_, err = h.queue.MarkItemServed(ctx, o.ID, o.Items[0].ID, ordersvc.AnyVersion)
	require.NoError(t, err)
	assert.Len(t, ready, 1)
	e, _ = h.queue.Entry(o.ID)
	assert.Len(t, e.Items, 1)
}

func TestCompleteOrder_RemovesEntry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o := h.place(t, orders.PriorityNormal, t0, 1)
	h.confirm(t, o)
	_, err := h.queue.MarkItemPreparing(ctx, o.ID, o.Items[0].ID, ordersvc.AnyVersion)
	require.NoError(t, err)

	_, err = h.queue.CompleteOrder(ctx, o.ID, ordersvc.AnyVersion)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
	assert.Equal(t, 1, h.queue.Len())

	_, err = h.queue.MarkItemReady(ctx, o.ID, o.Items[0].ID, ordersvc.AnyVersion)
	require.NoError(t, err)
	done, err := h.queue.CompleteOrder(ctx, o.ID, ordersvc.AnyVersion)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCompleted, done.Status)
	assert.Equal(t, 0, h.queue.Len())
}

func TestCancelledOrderLeavesBoard(t *testing.T) {
	h := newHarness(t)
	o := h.place(t, orders.PriorityNormal, t0, 1)
	require.Equal(t, 1, h.queue.Len())
	_, err := h.svc.CancelOrder(context.Background(), o.ID, "out of noodles", ordersvc.AnyVersion)
	require.NoError(t, err)
	assert.Equal(t, 0, h.queue.Len())
}

func envelope(t *testing.T, typ string, o orders.Order) orders.Envelope {
	t.Helper()
	ev, err := orders.NewEnvelope(typ, "test", t0, orders.OrderEventPayload{Order: o})
	require.NoError(t, err)
	return ev
}

func TestApply_IgnoresStaleEvents(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(nil)
	o := orders.Order{
		ID: "o-1", OrderNumber: "20261018-0001", Status: orders.StatusInProgress, Version: 5, CreatedAt: t0,
		Items: []orders.OrderItem{{ID: "a", Status: orders.ItemReady}, {ID: "b", Status: orders.ItemPreparing}},
	}
	require.NoError(t, q.Apply(ctx, envelope(t, orders.EventOrderItemStatusChanged, o)))

	older := *o.Clone()
	older.Version = 4
	older.Items[0].Status = orders.ItemPreparing
	require.NoError(t, q.Apply(ctx, envelope(t, orders.EventOrderItemStatusChanged, older)))
	e, _ := q.Entry("o-1")
	assert.Equal(t, orders.ItemReady, e.Items[0].Status)

	closed := *o.Clone()
	closed.Version = 9
	closed.Status = orders.StatusCancelled
	require.NoError(t, q.Apply(ctx, envelope(t, orders.EventOrderStatusChanged, closed)))
	assert.Equal(t, 0, q.Len())

	// a late event from before the cancel must not resurrect the entry
	late := *o.Clone()
	late.Version = 7
	require.NoError(t, q.Apply(ctx, envelope(t, orders.EventOrderItemStatusChanged, late)))
	assert.Equal(t, 0, q.Len())
}

func TestHandleMessage(t *testing.T) {
	q := NewQueue(nil)
	o := orders.Order{
		ID: "o-1", Status: orders.StatusPending, Version: 1, CreatedAt: t0, Priority: orders.PriorityRush,
		Items: []orders.OrderItem{{ID: "a", Name: "Gyoza", Status: orders.ItemPending,
			Modifiers: []orders.Modifier{{ID: "x", Name: "extra sauce"}}}},
	}
	b, err := json.Marshal(envelope(t, orders.EventOrderCreated, o))
	require.NoError(t, err)

	require.NoError(t, q.HandleMessage(context.Background(), kafkago.Message{Value: b}))
	require.NoError(t, q.HandleMessage(context.Background(), kafkago.Message{Value: []byte("not json")}))

	e, ok := q.Entry("o-1")
	require.True(t, ok)
	assert.Equal(t, orders.PriorityRush, e.Priority)
	assert.Equal(t, []string{"extra sauce"}, e.Items[0].Modifiers)
}

func TestMarkItemWithoutService(t *testing.T) {
	q := NewQueue(nil)
	_, err := q.MarkItemReady(context.Background(), "o", "i", 0)
	assert.Error(t, err)
}

func TestLoad_SeedsBoardFromStoredOrders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.place(t, orders.PriorityNormal, t0, 1)
	b := h.place(t, orders.PriorityRush, t0.Add(time.Minute), 2)
	c := h.place(t, orders.PriorityNormal, t0.Add(2*time.Minute), 1)
	h.confirm(t, b)
	_, err := h.svc.CancelOrder(ctx, c.ID, "walked out", ordersvc.AnyVersion)
	require.NoError(t, err)

	// a board started after the orders were placed
	board := NewQueue(h.svc)
	announced := 0
	board.OnReady(func(Entry) { announced++ })
	n, err := board.Load(ctx, h.svc)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	views := board.Board(t0.Add(time.Hour))
	require.Len(t, views, 2)
	assert.Equal(t, b.ID, views[0].OrderID)
	assert.Equal(t, orders.StatusConfirmed, views[0].Status)
	assert.Equal(t, a.ID, views[1].OrderID)
	assert.Zero(t, announced)

	n, err = board.Load(ctx, h.svc)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, board.Len())
}

type pagedLister struct {
	orders []orders.Order
	err    error
	calls  int
}

func (l *pagedLister) ListOrders(ctx context.Context, f orders.ListFilter) (orders.Page, error) {
	l.calls++
	if l.err != nil {
		return orders.Page{}, l.err
	}
	var match []orders.Order
	for _, o := range l.orders {
		if o.Status == f.Status {
			match = append(match, o)
		}
	}
	lo := min((f.Page-1)*f.PageSize, len(match))
	hi := min(lo+f.PageSize, len(match))
	return orders.Page{Orders: match[lo:hi], Page: f.Page, PageSize: f.PageSize, Total: len(match)}, nil
}

func TestLoad_Pages(t *testing.T) {
	src := &pagedLister{}
	for i := 0; i < 2*loadPageSize+50; i++ {
		src.orders = append(src.orders, orders.Order{
			ID: fmt.Sprintf("o-%03d", i), Status: orders.StatusInProgress, Version: 3, CreatedAt: t0,
			Items: []orders.OrderItem{{ID: "a", Status: orders.ItemPreparing}},
		})
	}
	q := NewQueue(nil)
	n, err := q.Load(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2*loadPageSize+50, n)
	assert.Equal(t, 2*loadPageSize+50, q.Len())
	// one empty page per other open status plus three for IN_PROGRESS
	assert.Equal(t, 6, src.calls)
}

func TestLoad_Error(t *testing.T) {
	down := errors.New("db down")
	q := NewQueue(nil)
	_, err := q.Load(context.Background(), &pagedLister{err: down})
	assert.ErrorIs(t, err, down)
}
