// Package ledger applies and reverses the discount-code and loyalty-point
// side effects of an order. Every operation is idempotent per order through
// the flags in orders.LedgerState; callers hold the order's lock and persist
// the flags together with the order.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/rs/zerolog/log"
)

type DiscountCodeStore interface {
	// Get returns an *orders.InvalidDiscountError with reason unknown when
	// the code does not exist.
	Get(ctx context.Context, code string) (orders.DiscountCode, error)
	// IncrementRedemption atomically takes one redemption slot if the code
	// is still active at now and not exhausted.
	IncrementRedemption(ctx context.Context, code string, now time.Time) error
	DecrementRedemption(ctx context.Context, code string) error
}

type LoyaltyStore interface {
	GetBalance(ctx context.Context, customerID string) (int64, error)
	// Debit fails with orders.ErrInsufficientLoyaltyPoints rather than
	// letting the balance go negative.
	Debit(ctx context.Context, customerID string, points int64) error
	Credit(ctx context.Context, customerID string, points int64) error
}

type Receipt struct {
	OrderID          string `json:"order_id"`
	DiscountCode     string `json:"discount_code,omitempty"`
	DiscountRedeemed bool   `json:"discount_redeemed"`
	PointsDebited    int64  `json:"points_debited"`
	AlreadyApplied   bool   `json:"already_applied"`
}

type Ledger struct {
	Discounts DiscountCodeStore
	Loyalty   LoyaltyStore
	Now       func() time.Time
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Apply takes the discount redemption slot and debits the loyalty points the
// order was priced with. Both happen or neither does.
func (l *Ledger) Apply(ctx context.Context, o *orders.Order) (Receipt, error) {
	rc := Receipt{OrderID: o.ID, DiscountCode: o.DiscountCode}
	if o.Ledger.Applied {
		rc.DiscountRedeemed = o.Ledger.DiscountRedeemed
		rc.PointsDebited = o.Ledger.PointsDebited
		rc.AlreadyApplied = true
		return rc, nil
	}

	if o.DiscountCode != "" {
		if err := l.Discounts.IncrementRedemption(ctx, o.DiscountCode, l.now()); err != nil {
			return Receipt{}, fmt.Errorf("ledger: redeem %s: %w", o.DiscountCode, err)
		}
		rc.DiscountRedeemed = true
	}

	if o.LoyaltyPointsUsed > 0 {
		if o.CustomerID == "" {
			l.undoRedemption(ctx, o, rc)
			return Receipt{}, &orders.InvalidRequestError{Field: "customer_id", Reason: "required to redeem loyalty points"}
		}
		if err := l.Loyalty.Debit(ctx, o.CustomerID, o.LoyaltyPointsUsed); err != nil {
			l.undoRedemption(ctx, o, rc)
			return Receipt{}, fmt.Errorf("ledger: debit %d points: %w", o.LoyaltyPointsUsed, err)
		}
		rc.PointsDebited = o.LoyaltyPointsUsed
	}

	o.Ledger.Applied = true
	o.Ledger.DiscountRedeemed = rc.DiscountRedeemed
	o.Ledger.PointsDebited = rc.PointsDebited
	return rc, nil
}

func (l *Ledger) undoRedemption(ctx context.Context, o *orders.Order, rc Receipt) {
	if !rc.DiscountRedeemed {
		return
	}
	if err := l.Discounts.DecrementRedemption(ctx, o.DiscountCode); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Str("code", o.DiscountCode).Msg("ledger: failed to release redemption slot")
	}
}

// Reverse undoes everything Apply and CreditEarned did for the order.
func (l *Ledger) Reverse(ctx context.Context, o *orders.Order) error {
	if o.Ledger.Reversed {
		return nil
	}

	if o.Ledger.Credited && !o.Ledger.CreditReversed && o.Ledger.PointsCredited > 0 {
		// Clawback is bounded by what is left; the balance never goes negative.
		bal, err := l.Loyalty.GetBalance(ctx, o.CustomerID)
		if err != nil {
			return fmt.Errorf("ledger: balance for clawback: %w", err)
		}
		take := min(bal, o.Ledger.PointsCredited)
		if take > 0 {
			if err := l.Loyalty.Debit(ctx, o.CustomerID, take); err != nil {
				return fmt.Errorf("ledger: claw back %d points: %w", take, err)
			}
		}
		if take < o.Ledger.PointsCredited {
			log.Warn().Str("order_id", o.ID).Int64("credited", o.Ledger.PointsCredited).Int64("clawed_back", take).
				Msg("ledger: earned points already spent, partial clawback")
		}
		o.Ledger.CreditReversed = true
	}

	if o.Ledger.Applied {
		if o.Ledger.PointsDebited > 0 {
			if err := l.Loyalty.Credit(ctx, o.CustomerID, o.Ledger.PointsDebited); err != nil {
				return fmt.Errorf("ledger: refund %d points: %w", o.Ledger.PointsDebited, err)
			}
			o.Ledger.PointsDebited = 0
		}
		if o.Ledger.DiscountRedeemed {
			if err := l.Discounts.DecrementRedemption(ctx, o.DiscountCode); err != nil {
				return fmt.Errorf("ledger: release %s: %w", o.DiscountCode, err)
			}
			o.Ledger.DiscountRedeemed = false
		}
	}

	o.Ledger.Reversed = true
	return nil
}

var ErrNotCompleted = errors.New("ledger: order is not completed")

// CreditEarned adds the points earned by a completed order, once.
func (l *Ledger) CreditEarned(ctx context.Context, o *orders.Order) error {
	if o.Ledger.Credited {
		return nil
	}
	if o.Status != orders.StatusCompleted {
		return ErrNotCompleted
	}
	if o.CustomerID != "" && o.LoyaltyPointsEarned > 0 {
		if err := l.Loyalty.Credit(ctx, o.CustomerID, o.LoyaltyPointsEarned); err != nil {
			return fmt.Errorf("ledger: credit %d points: %w", o.LoyaltyPointsEarned, err)
		}
		o.Ledger.PointsCredited = o.LoyaltyPointsEarned
	}
	o.Ledger.Credited = true
	return nil
}
