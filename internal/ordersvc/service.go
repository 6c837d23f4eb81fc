// Package ordersvc orchestrates the order lifecycle: placing orders, status
// and item transitions, and the ledger effects they trigger. All mutations of
// one order are serialized by a per-order lock; different orders proceed in
// parallel.
package ordersvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/events"
	"github.com/ariefcatur/go-restaurant-orders/internal/ledger"
	"github.com/ariefcatur/go-restaurant-orders/internal/money"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/ariefcatur/go-restaurant-orders/internal/pricing"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// AnyVersion skips the optimistic version check.
const AnyVersion int64 = 0

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxItemQuantity = 1000
	defaultPrep     = 15 * time.Minute
	// items beyond this do not push the estimate further out
	maxEstimateUnits = 20
)

type Service struct {
	Repo      orders.Repository
	Catalog   orders.MenuCatalog
	Sequence  orders.Sequence
	Ledger    *ledger.Ledger
	Publisher events.Publisher

	TaxRate    decimal.Decimal
	PointValue money.Cents
	EarnRate   decimal.Decimal

	// Location decides which calendar day an order number belongs to.
	Location    *time.Location
	BasePrep    time.Duration
	Now         func() time.Time
	ServiceName string

	locks keyedMutex
}

type ItemRequest struct {
	MenuItemID  string   `json:"menu_item_id"`
	Quantity    int      `json:"quantity"`
	ModifierIDs []string `json:"modifier_ids,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

type PlaceOrderRequest struct {
	RestaurantID       string           `json:"restaurant_id"`
	LocationID         string           `json:"location_id"`
	Type               orders.OrderType `json:"type"`
	TableID            string           `json:"table_id,omitempty"`
	CustomerID         string           `json:"customer_id,omitempty"`
	Priority           orders.Priority  `json:"priority,omitempty"`
	Notes              string           `json:"notes,omitempty"`
	Items              []ItemRequest    `json:"items"`
	DiscountCode       string           `json:"discount_code,omitempty"`
	// LoyaltyPointsToUse is an upper bound. When the points are worth more
	// than the amount left to pay, only the points needed are debited; the
	// order's loyalty_points_used reports the actual debit.
	LoyaltyPointsToUse int64            `json:"loyalty_points_to_use,omitempty"`
	Tip                money.Cents      `json:"tip,omitempty"`
	DeliveryFee        money.Cents      `json:"delivery_fee,omitempty"`
	IdempotencyKey     string           `json:"idempotency_key,omitempty"`
}

type StatusUpdate struct {
	OrderID         string
	Status          orders.Status
	Note            string
	ExpectedVersion int64
}

type ItemStatusUpdate struct {
	OrderID         string
	ItemID          string
	Status          orders.ItemStatus
	Note            string
	ExpectedVersion int64
}

// ItemStatusResult is the updated item plus what the change did to its order.
type ItemStatusResult struct {
	Item            orders.OrderItem `json:"item"`
	OrderStatus     orders.Status    `json:"order_status"`
	Version         int64            `json:"version"`
	DerivedStatuses []orders.Status  `json:"derived_statuses,omitempty"`
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*orders.Order, error) {
	if req.IdempotencyKey != "" {
		unlock := s.locks.Lock("idem:" + req.IdempotencyKey)
		defer unlock()
		existing, err := s.Repo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			log.Info().Str("order_id", existing.ID).Str("idempotency_key", req.IdempotencyKey).Msg("order replayed")
			return existing, nil
		}
		if !errors.Is(err, orders.ErrOrderNotFound) {
			return nil, fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	if err := validatePlace(&req); err != nil {
		return nil, err
	}

	items, lines, err := s.resolveItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	in := pricing.Input{
		Lines:              lines,
		LoyaltyPointsToUse: req.LoyaltyPointsToUse,
		Tip:                req.Tip,
		DeliveryFee:        req.DeliveryFee,
		TaxRate:            s.TaxRate,
		PointValue:         s.PointValue,
		EarnRate:           s.EarnRate,
		Now:                now,
	}
	if req.DiscountCode != "" {
		code, err := s.Ledger.Discounts.Get(ctx, req.DiscountCode)
		if err != nil {
			return nil, fmt.Errorf("discount %s: %w", req.DiscountCode, err)
		}
		in.Discount = &code
	}
	if req.LoyaltyPointsToUse > 0 {
		bal, err := s.Ledger.Loyalty.GetBalance(ctx, req.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("loyalty balance: %w", err)
		}
		in.LoyaltyBalance = bal
	}

	res, err := pricing.Compute(in)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Subtotal = res.LineSubtotals[i]
		items[i].TaxAmount = res.LineTax[i]
	}

	o := &orders.Order{
		ID:                    uuid.NewString(),
		RestaurantID:          req.RestaurantID,
		LocationID:            req.LocationID,
		Type:                  req.Type,
		TableID:               req.TableID,
		CustomerID:            req.CustomerID,
		Priority:              req.Priority,
		Status:                orders.StatusPending,
		Notes:                 req.Notes,
		IdempotencyKey:        req.IdempotencyKey,
		Subtotal:              res.Subtotal,
		TaxAmount:             res.TaxAmount,
		DiscountAmount:        res.DiscountAmount,
		LoyaltyDiscountAmount: res.LoyaltyDiscountAmount,
		TipAmount:             res.TipAmount,
		DeliveryFee:           res.DeliveryFee,
		TotalAmount:           res.TotalAmount,
		LoyaltyPointsUsed:     res.LoyaltyPointsUsed,
		LoyaltyPointsEarned:   res.LoyaltyPointsEarned,
		CreatedAt:             now,
		UpdatedAt:             now,
		Version:               1,
		StatusHistory:         []orders.StatusEntry{{Status: orders.StatusPending, Note: "order placed", At: now}},
		Items:                 items,
	}
	if in.Discount != nil {
		o.DiscountCode = in.Discount.Code
	}
	o.EstimatedReadyAt = s.estimateReady(o)

	num, err := s.orderNumber(ctx, now)
	if err != nil {
		return nil, err
	}
	o.OrderNumber = num

	if _, err := s.Ledger.Apply(ctx, o); err != nil {
		return nil, err
	}
	if err := s.Repo.Create(ctx, o); err != nil {
		if rerr := s.Ledger.Reverse(ctx, o); rerr != nil {
			log.Error().Err(rerr).Str("order_id", o.ID).Msg("ledger compensation failed after create error")
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	log.Info().Str("order_id", o.ID).Str("order_number", o.OrderNumber).
		Str("total", o.TotalAmount.String()).Int("items", len(o.Items)).Msg("order placed")
	ordersPlaced.WithLabelValues(string(o.Type)).Inc()
	s.publish(ctx, orders.EventOrderCreated, orders.OrderEventPayload{Order: *o})
	return o, nil
}

