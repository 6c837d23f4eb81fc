// Package pricing computes order totals. Everything is integer cents; rates
// are decimals and every rounding step is explicit.
package pricing

import (
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/money"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/shopspring/decimal"
)

type Line struct {
	UnitPrice money.Cents
	Modifiers []money.Cents
	Quantity  int
}

// MaxAmount bounds every amount the engine accepts or produces. Sums of a
// handful of bounded amounts stay well inside int64.
const MaxAmount money.Cents = 1_000_000_000_000_000

func outOfRange(field string) error {
	return &orders.InvalidRequestError{Field: field, Reason: "amount out of range"}
}

// Subtotal is (unit price + modifier adjustments) * quantity. Negative
// adjustments can bring the unit price down to zero, not below.
func (l Line) Subtotal() (money.Cents, error) {
	if l.Quantity <= 0 {
		return 0, &orders.InvalidRequestError{Field: "quantity", Reason: "must be positive"}
	}
	if l.UnitPrice < -MaxAmount || l.UnitPrice > MaxAmount {
		return 0, outOfRange("unit_price")
	}
	unit := l.UnitPrice
	for _, m := range l.Modifiers {
		if m < -MaxAmount || m > MaxAmount {
			return 0, outOfRange("modifier")
		}
		unit += m
	}
	unit = money.Max(unit, 0)
	if unit > MaxAmount || (unit > 0 && money.Cents(l.Quantity) > MaxAmount/unit) {
		return 0, outOfRange("quantity")
	}
	return unit * money.Cents(l.Quantity), nil
}

type Input struct {
	Lines              []Line
	Discount           *orders.DiscountCode
	LoyaltyPointsToUse int64
	LoyaltyBalance     int64
	Tip                money.Cents
	DeliveryFee        money.Cents
	TaxRate            decimal.Decimal
	PointValue         money.Cents     // value of one loyalty point
	EarnRate           decimal.Decimal // points earned per currency unit of the final total
	Now                time.Time
}

type Result struct {
	Subtotal              money.Cents
	TaxAmount             money.Cents
	DiscountAmount        money.Cents
	LoyaltyDiscountAmount money.Cents
	LoyaltyPointsUsed     int64
	TipAmount             money.Cents
	DeliveryFee           money.Cents
	TotalAmount           money.Cents
	LoyaltyPointsEarned   int64
	LineSubtotals         []money.Cents
	LineTax               []money.Cents
}

func Compute(in Input) (Result, error) {
	if len(in.Lines) == 0 {
		return Result{}, orders.ErrEmptyOrder
	}
	if in.Tip < 0 {
		return Result{}, &orders.InvalidRequestError{Field: "tip", Reason: "must not be negative"}
	}
	if in.DeliveryFee < 0 {
		return Result{}, &orders.InvalidRequestError{Field: "delivery_fee", Reason: "must not be negative"}
	}
	if in.LoyaltyPointsToUse < 0 {
		return Result{}, &orders.InvalidRequestError{Field: "loyalty_points", Reason: "must not be negative"}
	}
	if in.Tip > MaxAmount {
		return Result{}, outOfRange("tip")
	}
	if in.DeliveryFee > MaxAmount {
		return Result{}, outOfRange("delivery_fee")
	}
	if in.TaxRate.IsNegative() || in.EarnRate.IsNegative() {
		return Result{}, &orders.InvalidRequestError{Field: "rate", Reason: "must not be negative"}
	}
	if in.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return Result{}, &orders.InvalidRequestError{Field: "tax_rate", Reason: "must not exceed 1"}
	}

	r := Result{
		TipAmount:     in.Tip,
		DeliveryFee:   in.DeliveryFee,
		LineSubtotals: make([]money.Cents, len(in.Lines)),
	}
	for i, l := range in.Lines {
		sub, err := l.Subtotal()
		if err != nil {
			return Result{}, err
		}
		if sub > MaxAmount-r.Subtotal {
			return Result{}, outOfRange("subtotal")
		}
		r.LineSubtotals[i] = sub
		r.Subtotal += sub
	}

	r.TaxAmount = r.Subtotal.MulRoundBank(in.TaxRate)
	r.LineTax = AllocateTax(r.TaxAmount, r.LineSubtotals)

	if in.Discount != nil {
		amt, err := discountAmount(*in.Discount, r.Subtotal, in.Now)
		if err != nil {
			return Result{}, err
		}
		r.DiscountAmount = amt
	}

	if in.LoyaltyPointsToUse > 0 {
		if in.LoyaltyPointsToUse > in.LoyaltyBalance {
			return Result{}, orders.ErrInsufficientLoyaltyPoints
		}
		if in.PointValue <= 0 {
			return Result{}, &orders.InvalidRequestError{Field: "loyalty_points", Reason: "redemption is disabled"}
		}
		limit := money.Max(r.Subtotal+r.TaxAmount-r.DiscountAmount, 0)
		r.LoyaltyDiscountAmount = limit
		if money.Cents(in.LoyaltyPointsToUse) <= limit/in.PointValue {
			r.LoyaltyDiscountAmount = money.Cents(in.LoyaltyPointsToUse) * in.PointValue
		}
		// Only burn the points needed to produce the (possibly capped) amount.
		needed := (int64(r.LoyaltyDiscountAmount) + int64(in.PointValue) - 1) / int64(in.PointValue)
		r.LoyaltyPointsUsed = min(in.LoyaltyPointsToUse, needed)
	}

	r.TotalAmount = money.Max(r.Subtotal+r.TaxAmount-r.DiscountAmount-r.LoyaltyDiscountAmount+r.TipAmount+r.DeliveryFee, 0)
	r.LoyaltyPointsEarned = r.TotalAmount.Decimal().Mul(in.EarnRate).Floor().IntPart()
	return r, nil
}

func discountAmount(d orders.DiscountCode, subtotal money.Cents, now time.Time) (money.Cents, error) {
	switch {
	case d.Expired(now):
		return 0, &orders.InvalidDiscountError{Code: d.Code, Reason: orders.DiscountExpired}
	case d.Exhausted():
		return 0, &orders.InvalidDiscountError{Code: d.Code, Reason: orders.DiscountExhausted}
	case subtotal < d.MinSubtotal:
		return 0, &orders.InvalidDiscountError{Code: d.Code, Reason: orders.DiscountBelowMinimum}
	}
	switch d.Kind {
	case orders.DiscountPercentage:
		return money.Min(subtotal.MulRoundBank(d.Rate), subtotal), nil
	case orders.DiscountFixed:
		return money.Min(d.Amount, subtotal), nil
	}
	return 0, &orders.InvalidDiscountError{Code: d.Code, Reason: orders.DiscountUnknown}
}

// AllocateTax splits tax across lines in proportion to their subtotals.
// Shares are floored; the residual cents go to the last line so the shares
// always sum to tax.
func AllocateTax(tax money.Cents, subtotals []money.Cents) []money.Cents {
	shares := make([]money.Cents, len(subtotals))
	if len(subtotals) == 0 {
		return shares
	}
	var total money.Cents
	for _, s := range subtotals {
		total += s
	}
	if total == 0 {
		shares[len(shares)-1] = tax
		return shares
	}
	var allocated money.Cents
	for i := 0; i < len(subtotals)-1; i++ {
		// tax*subtotal can exceed int64 for large orders
		q, _ := decimal.NewFromInt(int64(tax)).Mul(decimal.NewFromInt(int64(subtotals[i]))).
			QuoRem(decimal.NewFromInt(int64(total)), 0)
		shares[i] = money.Cents(q.IntPart())
		allocated += shares[i]
	}
	shares[len(shares)-1] = tax - allocated
	return shares
}
