package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/ledger"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
)

type Catalog struct {
	mu    sync.RWMutex
	items map[string]orders.MenuItem
}

func NewCatalog(items ...orders.MenuItem) *Catalog {
	c := &Catalog{items: map[string]orders.MenuItem{}}
	for _, it := range items {
		c.items[it.ID] = it
	}
	return c
}

var _ orders.MenuCatalog = (*Catalog)(nil)

func (c *Catalog) Put(it orders.MenuItem) {
	c.mu.Lock()
	c.items[it.ID] = it
	c.mu.Unlock()
}

func (c *Catalog) GetMenuItem(ctx context.Context, id string) (orders.MenuItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[id]
	if !ok {
		return orders.MenuItem{}, &orders.MenuItemNotFoundError{MenuItemID: id}
	}
	return it, nil
}

// Sequence counts per day key.
type Sequence struct {
	mu   sync.Mutex
	next map[string]int64
}

func NewSequence() *Sequence { return &Sequence{next: map[string]int64{}} }

var _ orders.Sequence = (*Sequence)(nil)

func (s *Sequence) Next(ctx context.Context, day string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[day]++
	return s.next[day], nil
}

type Discounts struct {
	mu    sync.Mutex
	codes map[string]orders.DiscountCode
}

func NewDiscounts(codes ...orders.DiscountCode) *Discounts {
	d := &Discounts{codes: map[string]orders.DiscountCode{}}
	for _, c := range codes {
		d.codes[c.Code] = c
	}
	return d
}

var _ ledger.DiscountCodeStore = (*Discounts)(nil)

func (d *Discounts) Get(ctx context.Context, code string) (orders.DiscountCode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.codes[code]
	if !ok {
		return orders.DiscountCode{}, &orders.InvalidDiscountError{Code: code, Reason: orders.DiscountUnknown}
	}
	return c, nil
}

func (d *Discounts) IncrementRedemption(ctx context.Context, code string, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.codes[code]
	switch {
	case !ok:
		return &orders.InvalidDiscountError{Code: code, Reason: orders.DiscountUnknown}
	case c.Expired(now):
		return &orders.InvalidDiscountError{Code: code, Reason: orders.DiscountExpired}
	case c.Exhausted():
		return &orders.InvalidDiscountError{Code: code, Reason: orders.DiscountExhausted}
	}
	c.RedemptionCount++
	d.codes[code] = c
	return nil
}

func (d *Discounts) DecrementRedemption(ctx context.Context, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.codes[code]
	if !ok {
		return &orders.InvalidDiscountError{Code: code, Reason: orders.DiscountUnknown}
	}
	if c.RedemptionCount > 0 {
		c.RedemptionCount--
	}
	d.codes[code] = c
	return nil
}

type Loyalty struct {
	mu       sync.Mutex
	balances map[string]int64
}

func NewLoyalty(balances map[string]int64) *Loyalty {
	l := &Loyalty{balances: map[string]int64{}}
	for k, v := range balances {
		l.balances[k] = v
	}
	return l
}

var _ ledger.LoyaltyStore = (*Loyalty)(nil)

func (l *Loyalty) GetBalance(ctx context.Context, customerID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[customerID], nil
}

func (l *Loyalty) Debit(ctx context.Context, customerID string, points int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[customerID] < points {
		return orders.ErrInsufficientLoyaltyPoints
	}
	l.balances[customerID] -= points
	return nil
}

func (l *Loyalty) Credit(ctx context.Context, customerID string, points int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[customerID] += points
	return nil
}
