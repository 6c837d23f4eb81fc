// Package memstore keeps orders, catalog, discount codes and loyalty balances
// in memory. It backs the tests and single-process runs without Postgres.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
)

type OrderRepo struct {
	mu       sync.RWMutex
	byID     map[string]*orders.Order
	byNumber map[string]string
	byIdem   map[string]string
}

func NewOrderRepo() *OrderRepo {
	return &OrderRepo{
		byID:     map[string]*orders.Order{},
		byNumber: map[string]string{},
		byIdem:   map[string]string{},
	}
}

var _ orders.Repository = (*OrderRepo)(nil)

func (r *OrderRepo) Create(ctx context.Context, o *orders.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[o.ID]; ok {
		return fmt.Errorf("memstore: order %s already exists", o.ID)
	}
	if _, ok := r.byNumber[o.OrderNumber]; ok {
		return fmt.Errorf("memstore: order number %s already used", o.OrderNumber)
	}
	if o.IdempotencyKey != "" {
		if _, ok := r.byIdem[o.IdempotencyKey]; ok {
			return fmt.Errorf("memstore: idempotency key %s already used", o.IdempotencyKey)
		}
		r.byIdem[o.IdempotencyKey] = o.ID
	}
	r.byID[o.ID] = o.Clone()
	r.byNumber[o.OrderNumber] = o.ID
	return nil
}

func (r *OrderRepo) Get(ctx context.Context, id string) (*orders.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r *OrderRepo) GetByNumber(ctx context.Context, number string) (*orders.Order, error) {
	r.mu.RLock()
	id, ok := r.byNumber[number]
	r.mu.RUnlock()
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return r.Get(ctx, id)
}

func (r *OrderRepo) GetByIdempotencyKey(ctx context.Context, key string) (*orders.Order, error) {
	r.mu.RLock()
	id, ok := r.byIdem[key]
	r.mu.RUnlock()
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return r.Get(ctx, id)
}

func (r *OrderRepo) List(ctx context.Context, f orders.ListFilter) (orders.Page, error) {
	r.mu.RLock()
	var matched []orders.Order
	for _, o := range r.byID {
		if f.RestaurantID != "" && o.RestaurantID != f.RestaurantID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		matched = append(matched, *o.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].OrderNumber > matched[j].OrderNumber
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	p := orders.Page{Page: f.Page, PageSize: f.PageSize, Total: len(matched), Orders: []orders.Order{}}
	start := (f.Page - 1) * f.PageSize
	if start < 0 || start >= len(matched) {
		return p, nil
	}
	end := min(start+f.PageSize, len(matched))
	p.Orders = matched[start:end]
	return p, nil
}

func (r *OrderRepo) Update(ctx context.Context, o *orders.Order, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[o.ID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	if cur.Version != expectedVersion {
		return orders.ErrVersionConflict
	}
	o.Version = expectedVersion + 1
	r.byID[o.ID] = o.Clone()
	return nil
}
