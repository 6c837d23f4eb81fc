package orders

import (
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/money"
	"github.com/shopspring/decimal"
)

type OrderType string

const (
	TypeDineIn   OrderType = "DINE_IN"
	TypeTakeout  OrderType = "TAKEOUT"
	TypeDelivery OrderType = "DELIVERY"
)

func (t OrderType) Valid() bool {
	switch t {
	case TypeDineIn, TypeTakeout, TypeDelivery:
		return true
	}
	return false
}

type Priority string

const (
	PriorityNormal Priority = "NORMAL"
	PriorityRush   Priority = "RUSH"
)

// Rank orders priorities for the kitchen board, higher first.
func (p Priority) Rank() int {
	if p == PriorityRush {
		return 1
	}
	return 0
}

type Modifier struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	PriceAdjustment money.Cents `json:"price_adjustment"`
}

type OrderItem struct {
	ID         string      `json:"id"`
	MenuItemID string      `json:"menu_item_id"`
	Name       string      `json:"name"`
	Quantity   int         `json:"quantity"`
	UnitPrice  money.Cents `json:"unit_price"` // snapshot at order time
	Notes      string      `json:"notes,omitempty"`
	Status     ItemStatus  `json:"status"`
	Modifiers  []Modifier  `json:"modifiers,omitempty"`
	Subtotal   money.Cents `json:"subtotal"`
	TaxAmount  money.Cents `json:"tax_amount"`
}

type StatusEntry struct {
	Status Status    `json:"status"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

// LedgerState records which ledger effects an order has already caused.
// It is persisted with the order and checked under the order's lock.
type LedgerState struct {
	Applied          bool  `json:"applied"`
	DiscountRedeemed bool  `json:"discount_redeemed"`
	PointsDebited    int64 `json:"points_debited"`
	Reversed         bool  `json:"reversed"`
	Credited         bool  `json:"credited"`
	PointsCredited   int64 `json:"points_credited"`
	CreditReversed   bool  `json:"credit_reversed"`
}

type Order struct {
	ID             string    `json:"id"`
	OrderNumber    string    `json:"order_number"`
	RestaurantID   string    `json:"restaurant_id"`
	LocationID     string    `json:"location_id"`
	Type           OrderType `json:"type"`
	TableID        string    `json:"table_id,omitempty"`
	CustomerID     string    `json:"customer_id,omitempty"`
	Priority       Priority  `json:"priority"`
	Status         Status    `json:"status"`
	Notes          string    `json:"notes,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`

	Subtotal              money.Cents `json:"subtotal"`
	TaxAmount             money.Cents `json:"tax_amount"`
	DiscountCode          string      `json:"discount_code,omitempty"`
	DiscountAmount        money.Cents `json:"discount_amount"`
	LoyaltyDiscountAmount money.Cents `json:"loyalty_discount_amount"`
	TipAmount             money.Cents `json:"tip_amount"`
	DeliveryFee           money.Cents `json:"delivery_fee"`
	TotalAmount           money.Cents `json:"total_amount"`
	// LoyaltyPointsUsed is what was actually debited, which can be less than
	// requested: ceil(LoyaltyDiscountAmount / point value).
	LoyaltyPointsUsed     int64       `json:"loyalty_points_used"`
	LoyaltyPointsEarned   int64       `json:"loyalty_points_earned"`

	EstimatedReadyAt time.Time     `json:"estimated_ready_at"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	Version          int64         `json:"version"`
	StatusHistory    []StatusEntry `json:"status_history"`
	Ledger           LedgerState   `json:"ledger"`
	Items            []OrderItem   `json:"items"`
}

// Clone returns a deep copy, so a transition can be attempted without
// touching the stored order.
func (o *Order) Clone() *Order {
	c := *o
	c.StatusHistory = append([]StatusEntry(nil), o.StatusHistory...)
	c.Items = make([]OrderItem, len(o.Items))
	for i, it := range o.Items {
		it.Modifiers = append([]Modifier(nil), it.Modifiers...)
		c.Items[i] = it
	}
	return &c
}

func (o *Order) Item(itemID string) (*OrderItem, bool) {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return &o.Items[i], true
		}
	}
	return nil, false
}

// EverInProgress reports whether the order has been IN_PROGRESS at some point.
func (o *Order) EverInProgress() bool {
	for _, h := range o.StatusHistory {
		if h.Status == StatusInProgress {
			return true
		}
	}
	return false
}

type DiscountKind string

const (
	DiscountPercentage DiscountKind = "PERCENTAGE"
	DiscountFixed      DiscountKind = "FIXED"
)

type DiscountCode struct {
	Code            string          `json:"code"`
	Kind            DiscountKind    `json:"kind"`
	Rate            decimal.Decimal `json:"rate"`   // PERCENTAGE, e.g. 0.10
	Amount          money.Cents     `json:"amount"` // FIXED
	MinSubtotal     money.Cents     `json:"min_subtotal"`
	ExpiresAt       time.Time       `json:"expires_at"` // zero: never expires
	MaxRedemptions  int             `json:"max_redemptions"` // <= 0: unlimited
	RedemptionCount int             `json:"redemption_count"`
}

func (d DiscountCode) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

func (d DiscountCode) Exhausted() bool {
	return d.MaxRedemptions > 0 && d.RedemptionCount >= d.MaxRedemptions
}

type MenuItem struct {
	ID        string
	Name      string
	Price     money.Cents
	Available bool
	Modifiers []Modifier
}

func (m MenuItem) Modifier(id string) (Modifier, bool) {
	for _, md := range m.Modifiers {
		if md.ID == id {
			return md, true
		}
	}
	return Modifier{}, false
}

type ListFilter struct {
	RestaurantID string
	Status       Status // empty: any
	Page         int    // 1-based
	PageSize     int
}

type Page struct {
	Orders   []Order `json:"orders"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
	Total    int     `json:"total"`
}
