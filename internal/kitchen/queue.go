// Package kitchen keeps the kitchen board: one entry per open order with its
// unresolved items, ordered rush first and then oldest first. The board is a
// projection of order events; it never edits orders itself, it asks the order
// service and waits for the resulting event.
package kitchen

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	kafkax "github.com/ariefcatur/go-restaurant-orders/internal/kafka"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/ariefcatur/go-restaurant-orders/internal/ordersvc"
	"github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"
)

// tombstones remember removed orders long enough to drop late events.
const tombstoneTTL = time.Hour

type OrderUpdater interface {
	UpdateItemStatus(ctx context.Context, u ordersvc.ItemStatusUpdate) (*ordersvc.ItemStatusResult, error)
	UpdateOrderStatus(ctx context.Context, u ordersvc.StatusUpdate) (*orders.Order, error)
}

type Item struct {
	ID         string            `json:"id"`
	MenuItemID string            `json:"menu_item_id"`
	Name       string            `json:"name"`
	Quantity   int               `json:"quantity"`
	Notes      string            `json:"notes,omitempty"`
	Modifiers  []string          `json:"modifiers,omitempty"`
	Status     orders.ItemStatus `json:"status"`
}

type Entry struct {
	OrderID     string           `json:"order_id"`
	OrderNumber string           `json:"order_number"`
	Type        orders.OrderType `json:"type"`
	TableID     string           `json:"table_id,omitempty"`
	Priority    orders.Priority  `json:"priority"`
	Status      orders.Status    `json:"status"`
	Version     int64            `json:"version"`
	CreatedAt   time.Time        `json:"created_at"`
	Items       []Item           `json:"items"`
}

// View is an entry as displayed at a given moment.
type View struct {
	Entry
	ElapsedSeconds int64 `json:"elapsed_seconds"`
}

func (v View) Elapsed() time.Duration { return time.Duration(v.ElapsedSeconds) * time.Second }

type tombstone struct {
	version int64
	at      time.Time
}

type Queue struct {
	Orders OrderUpdater
	Now    func() time.Time

	mu        sync.Mutex
	entries   map[string]*Entry
	sorted    []*Entry
	removed   map[string]tombstone
	listeners []func(Entry)
}

func NewQueue(updater OrderUpdater) *Queue {
	return &Queue{
		Orders:  updater,
		entries: map[string]*Entry{},
		removed: map[string]tombstone{},
	}
}

func (q *Queue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

// OnReady registers fn to run whenever an entry turns READY. Listeners run on
// the publishing goroutine after the board is updated and must not block.
func (q *Queue) OnReady(fn func(Entry)) {
	q.mu.Lock()
	q.listeners = append(q.listeners, fn)
	q.mu.Unlock()
}

// Apply folds one order event into the board. Events at or below the version
// already seen for the order are ignored.
func (q *Queue) Apply(ctx context.Context, ev orders.Envelope) error {
	switch ev.EventType {
	case orders.EventOrderCreated, orders.EventOrderStatusChanged, orders.EventOrderItemStatusChanged:
	default:
		return nil
	}
	p, err := ev.OrderPayload()
	if err != nil {
		return err
	}
	q.fold(&p.Order, true)
	return nil
}

// fold puts o on the board, or takes it off, unless the board already holds
// a version at least as new. Ready listeners only run when notify is set.
func (q *Queue) fold(o *orders.Order, notify bool) bool {
	q.mu.Lock()
	cur, exists := q.entries[o.ID]
	if exists && o.Version <= cur.Version {
		q.mu.Unlock()
		return false
	}
	if t, ok := q.removed[o.ID]; ok && o.Version <= t.version {
		q.mu.Unlock()
		return false
	}

	e := entryFrom(o)
	if e == nil {
		q.removeLocked(o.ID, o.Version)
		q.mu.Unlock()
		return false
	}
	becameReady := e.Status == orders.StatusReady && (!exists || cur.Status != orders.StatusReady)
	if exists {
		*cur = *e
	} else {
		q.entries[o.ID] = e
		q.insertLocked(e)
	}
	var listeners []func(Entry)
	if becameReady && notify {
		listeners = slices.Clone(q.listeners)
	}
	snapshot := copyEntry(e)
	q.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
	return true
}

type OrderLister interface {
	ListOrders(ctx context.Context, f orders.ListFilter) (orders.Page, error)
}

const loadPageSize = 100

var openStatuses = []orders.Status{
	orders.StatusPending, orders.StatusConfirmed, orders.StatusInProgress, orders.StatusReady,
}

// Load seeds the board with the open orders src holds and returns how many
// entries it placed. It is meant for startup, before events flow; orders
// already shown at a newer version are kept and no ready listener runs.
func (q *Queue) Load(ctx context.Context, src OrderLister) (int, error) {
	n := 0
	for _, st := range openStatuses {
		for page := 1; ; page++ {
			p, err := src.ListOrders(ctx, orders.ListFilter{Status: st, Page: page, PageSize: loadPageSize})
			if err != nil {
				return n, fmt.Errorf("kitchen: load %s orders: %w", st, err)
			}
			for i := range p.Orders {
				if q.fold(&p.Orders[i], false) {
					n++
				}
			}
			if len(p.Orders) == 0 || page*loadPageSize >= p.Total {
				break
			}
		}
	}
	return n, nil
}

// HandleMessage adapts Apply to a Kafka consumer handler.
func (q *Queue) HandleMessage(ctx context.Context, m kafkago.Message) error {
	ev, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		// a poison message would block the partition forever
		log.Error().Err(err).Int64("offset", m.Offset).Msg("kitchen: undecodable message skipped")
		return nil
	}
	return q.Apply(ctx, ev)
}

// entryFrom returns nil when the order no longer belongs on the board.
func entryFrom(o *orders.Order) *Entry {
	switch o.Status {
	case orders.StatusCompleted, orders.StatusCancelled, orders.StatusRefunded:
		return nil
	}
	e := &Entry{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Type:        o.Type,
		TableID:     o.TableID,
		Priority:    o.Priority,
		Status:      o.Status,
		Version:     o.Version,
		CreatedAt:   o.CreatedAt,
	}
	for _, it := range o.Items {
		if it.Status.Resolved() {
			continue
		}
		ki := Item{
			ID:         it.ID,
			MenuItemID: it.MenuItemID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			Notes:      it.Notes,
			Status:     it.Status,
		}
		for _, m := range it.Modifiers {
			ki.Modifiers = append(ki.Modifiers, m.Name)
		}
		e.Items = append(e.Items, ki)
	}
	if len(e.Items) == 0 {
		return nil
	}
	return e
}

func copyEntry(e *Entry) Entry {
	c := *e
	c.Items = make([]Item, len(e.Items))
	for i, it := range e.Items {
		it.Modifiers = slices.Clone(it.Modifiers)
		c.Items[i] = it
	}
	return c
}

// before orders rush ahead of normal, then oldest first. OrderID breaks ties
// so every entry has a single position.
func before(a, b *Entry) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra > rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

func (q *Queue) insertLocked(e *Entry) {
	i := sort.Search(len(q.sorted), func(i int) bool { return before(e, q.sorted[i]) })
	q.sorted = slices.Insert(q.sorted, i, e)
}

func (q *Queue) removeLocked(orderID string, version int64) {
	now := q.now()
	for id, t := range q.removed {
		if now.Sub(t.at) > tombstoneTTL {
			delete(q.removed, id)
		}
	}
	q.removed[orderID] = tombstone{version: version, at: now}

	e, ok := q.entries[orderID]
	if !ok {
		return
	}
	delete(q.entries, orderID)
	i := sort.Search(len(q.sorted), func(i int) bool { return !before(q.sorted[i], e) })
	if i < len(q.sorted) && q.sorted[i] == e {
		q.sorted = slices.Delete(q.sorted, i, i+1)
	}
}

// Board returns the entries in display order with elapsed time measured at now.
func (q *Queue) Board(now time.Time) []View {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]View, 0, len(q.sorted))
	for _, e := range q.sorted {
		out = append(out, View{
			Entry:          copyEntry(e),
			ElapsedSeconds: int64(now.Sub(e.CreatedAt) / time.Second),
		})
	}
	return out
}

func (q *Queue) Entry(orderID string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[orderID]
	if !ok {
		return Entry{}, false
	}
	return copyEntry(e), true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.sorted)
}

func (q *Queue) markItem(ctx context.Context, orderID, itemID string, st orders.ItemStatus, expectedVersion int64) (*ordersvc.ItemStatusResult, error) {
	if q.Orders == nil {
		return nil, fmt.Errorf("kitchen: no order service configured")
	}
	return q.Orders.UpdateItemStatus(ctx, ordersvc.ItemStatusUpdate{
		OrderID:         orderID,
		ItemID:          itemID,
		Status:          st,
		Note:            "kitchen",
		ExpectedVersion: expectedVersion,
	})
}

func (q *Queue) MarkItemPreparing(ctx context.Context, orderID, itemID string, expectedVersion int64) (*ordersvc.ItemStatusResult, error) {
	return q.markItem(ctx, orderID, itemID, orders.ItemPreparing, expectedVersion)
}

func (q *Queue) MarkItemReady(ctx context.Context, orderID, itemID string, expectedVersion int64) (*ordersvc.ItemStatusResult, error) {
	return q.markItem(ctx, orderID, itemID, orders.ItemReady, expectedVersion)
}

func (q *Queue) MarkItemServed(ctx context.Context, orderID, itemID string, expectedVersion int64) (*ordersvc.ItemStatusResult, error) {
	return q.markItem(ctx, orderID, itemID, orders.ItemServed, expectedVersion)
}

// CompleteOrder closes the order and drops its entry once the order service
// confirms COMPLETED.
func (q *Queue) CompleteOrder(ctx context.Context, orderID string, expectedVersion int64) (*orders.Order, error) {
	if q.Orders == nil {
		return nil, fmt.Errorf("kitchen: no order service configured")
	}
	o, err := q.Orders.UpdateOrderStatus(ctx, ordersvc.StatusUpdate{
		OrderID:         orderID,
		Status:          orders.StatusCompleted,
		Note:            "completed from kitchen",
		ExpectedVersion: expectedVersion,
	})
	if err != nil {
		return nil, err
	}
	if o.Status == orders.StatusCompleted {
		q.mu.Lock()
		q.removeLocked(orderID, o.Version)
		q.mu.Unlock()
	}
	return o, nil
}
