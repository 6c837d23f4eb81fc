package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/ledger"
	"github.com/ariefcatur/go-restaurant-orders/internal/money"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Catalog struct{ DB *pgxpool.Pool }

var _ orders.MenuCatalog = (*Catalog)(nil)

func (c *Catalog) GetMenuItem(ctx context.Context, id string) (orders.MenuItem, error) {
	var (
		mi    orders.MenuItem
		price int64
	)
	err := c.DB.QueryRow(ctx, `SELECT id, name, price_cents, available FROM menu_items WHERE id = $1`, id).
		Scan(&mi.ID, &mi.Name, &price, &mi.Available)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.MenuItem{}, &orders.MenuItemNotFoundError{MenuItemID: id}
	}
	if err != nil {
		return orders.MenuItem{}, err
	}
	mi.Price = money.Cents(price)

	rows, err := c.DB.Query(ctx, `
		SELECT id, name, price_adjustment_cents FROM menu_item_modifiers WHERE menu_item_id = $1 ORDER BY id`, id)
	if err != nil {
		return orders.MenuItem{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			m   orders.Modifier
			adj int64
		)
		if err := rows.Scan(&m.ID, &m.Name, &adj); err != nil {
			return orders.MenuItem{}, err
		}
		m.PriceAdjustment = money.Cents(adj)
		mi.Modifiers = append(mi.Modifiers, m)
	}
	return mi, rows.Err()
}

// Put inserts or replaces a menu item and its modifiers.
func (c *Catalog) Put(ctx context.Context, mi orders.MenuItem) error {
	tx, err := c.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO menu_items (id, name, price_cents, available) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price_cents = EXCLUDED.price_cents,
			available = EXCLUDED.available, updated_at = now()`,
		mi.ID, mi.Name, int64(mi.Price), mi.Available)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM menu_item_modifiers WHERE menu_item_id = $1`, mi.ID); err != nil {
		return err
	}
	for _, m := range mi.Modifiers {
		if _, err := tx.Exec(ctx, `
			INSERT INTO menu_item_modifiers (menu_item_id, id, name, price_adjustment_cents) VALUES ($1, $2, $3, $4)`,
			mi.ID, m.ID, m.Name, int64(m.PriceAdjustment)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

type Loyalty struct{ DB *pgxpool.Pool }

var _ ledger.LoyaltyStore = (*Loyalty)(nil)

func (l *Loyalty) GetBalance(ctx context.Context, customerID string) (int64, error) {
	var bal int64
	err := l.DB.QueryRow(ctx, `SELECT points_balance FROM loyalty_accounts WHERE customer_id = $1`, customerID).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return bal, err
}

func (l *Loyalty) Debit(ctx context.Context, customerID string, points int64) error {
	tag, err := l.DB.Exec(ctx, `
		UPDATE loyalty_accounts SET points_balance = points_balance - $2, updated_at = now()
		WHERE customer_id = $1 AND points_balance >= $2`, customerID, points)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return orders.ErrInsufficientLoyaltyPoints
	}
	return nil
}

func (l *Loyalty) Credit(ctx context.Context, customerID string, points int64) error {
	_, err := l.DB.Exec(ctx, `
		INSERT INTO loyalty_accounts (customer_id, points_balance) VALUES ($1, $2)
		ON CONFLICT (customer_id) DO UPDATE
		SET points_balance = loyalty_accounts.points_balance + EXCLUDED.points_balance, updated_at = now()`,
		customerID, points)
	return err
}

type Discounts struct{ DB *pgxpool.Pool }

var _ ledger.DiscountCodeStore = (*Discounts)(nil)

func (d *Discounts) Get(ctx context.Context, code string) (orders.DiscountCode, error) {
	var (
		dc                  orders.DiscountCode
		kind, rate          string
		amount, minSubtotal int64
		expiresAt           *time.Time
	)
	err := d.DB.QueryRow(ctx, `
		SELECT code, kind, rate::text, amount_cents, min_subtotal_cents, expires_at, max_redemptions, redemption_count
		FROM discount_codes WHERE code = $1`, code).
		Scan(&dc.Code, &kind, &rate, &amount, &minSubtotal, &expiresAt, &dc.MaxRedemptions, &dc.RedemptionCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return dc, &orders.InvalidDiscountError{Code: code, Reason: orders.DiscountUnknown}
	}
	if err != nil {
		return dc, err
	}
	dc.Kind = orders.DiscountKind(kind)
	if dc.Rate, err = decimal.NewFromString(rate); err != nil {
		return dc, fmt.Errorf("discount %s rate: %w", code, err)
	}
	dc.Amount, dc.MinSubtotal = money.Cents(amount), money.Cents(minSubtotal)
	if expiresAt != nil {
		dc.ExpiresAt = *expiresAt
	}
	return dc, nil
}

// IncrementRedemption takes a slot with one conditional UPDATE, so two orders
// racing for the last redemption cannot both win.
func (d *Discounts) IncrementRedemption(ctx context.Context, code string, now time.Time) error {
	tag, err := d.DB.Exec(ctx, `
		UPDATE discount_codes SET redemption_count = redemption_count + 1
		WHERE code = $1
		  AND (expires_at IS NULL OR expires_at > $2)
		  AND (max_redemptions <= 0 OR redemption_count < max_redemptions)`, code, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	dc, err := d.Get(ctx, code)
	if err != nil {
		return err
	}
	if dc.Expired(now) {
		return &orders.InvalidDiscountError{Code: code, Reason: orders.DiscountExpired}
	}
	return &orders.InvalidDiscountError{Code: code, Reason: orders.DiscountExhausted}
}

func (d *Discounts) DecrementRedemption(ctx context.Context, code string) error {
	tag, err := d.DB.Exec(ctx, `
		UPDATE discount_codes SET redemption_count = GREATEST(redemption_count - 1, 0) WHERE code = $1`, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &orders.InvalidDiscountError{Code: code, Reason: orders.DiscountUnknown}
	}
	return nil
}

// Put inserts or replaces a discount code definition.
func (d *Discounts) Put(ctx context.Context, dc orders.DiscountCode) error {
	var expires *time.Time
	if !dc.ExpiresAt.IsZero() {
		expires = &dc.ExpiresAt
	}
	_, err := d.DB.Exec(ctx, `
		INSERT INTO discount_codes (code, kind, rate, amount_cents, min_subtotal_cents, expires_at, max_redemptions, redemption_count)
		VALUES ($1, $2, $3::text::numeric, $4, $5, $6, $7, $8)
		ON CONFLICT (code) DO UPDATE SET kind = EXCLUDED.kind, rate = EXCLUDED.rate, amount_cents = EXCLUDED.amount_cents,
			min_subtotal_cents = EXCLUDED.min_subtotal_cents, expires_at = EXCLUDED.expires_at,
			max_redemptions = EXCLUDED.max_redemptions`,
		dc.Code, string(dc.Kind), dc.Rate.String(), int64(dc.Amount), int64(dc.MinSubtotal), expires,
		dc.MaxRedemptions, dc.RedemptionCount)
	return err
}
