// Package money holds integer minor-unit amounts. Arithmetic stays in cents;
// decimals only appear when parsing or formatting at the edges.
package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is an amount in minor currency units.
type Cents int64

func (c Cents) Decimal() decimal.Decimal { return decimal.New(int64(c), -2) }

// String formats the amount with exactly two decimals, e.g. "16.35".
func (c Cents) String() string { return c.Decimal().StringFixed(2) }

// Parse accepts "16.35", "16.3" or "16". More than two decimals is an error.
func Parse(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return FromDecimal(d)
}

func FromDecimal(d decimal.Decimal) (Cents, error) {
	shifted := d.Shift(2)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("money: %s has more than 2 decimal places", d.String())
	}
	return Cents(shifted.IntPart()), nil
}

// MulRoundBank multiplies by a rate and rounds half-to-even to whole cents.
func (c Cents) MulRoundBank(rate decimal.Decimal) Cents {
	return Cents(decimal.NewFromInt(int64(c)).Mul(rate).RoundBank(0).IntPart())
}

func Min(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}

func Max(a, b Cents) Cents {
	if a > b {
		return a
	}
	return b
}

func (c Cents) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts both "16.35" and 16.35.
func (c *Cents) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("money: %w", err)
	}
	v, err := FromDecimal(d)
	if err != nil {
		return err
	}
	*c = v
	return nil
}
