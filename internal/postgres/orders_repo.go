package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-restaurant-orders/internal/money"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderRepo stores orders in three tables: the order row with its ledger
// flags, its items, and its append-only status history.
type OrderRepo struct{ DB *pgxpool.Pool }

var _ orders.Repository = (*OrderRepo)(nil)

const orderColumns = `
	id, order_number, restaurant_id, location_id, type, table_id, customer_id, priority, status, notes,
	COALESCE(idempotency_key, ''),
	subtotal_cents, tax_cents, discount_code, discount_cents, loyalty_discount_cents, tip_cents,
	delivery_fee_cents, total_cents, loyalty_points_used, loyalty_points_earned,
	ledger_applied, ledger_discount_redeemed, ledger_points_debited, ledger_reversed,
	ledger_credited, ledger_points_credited, ledger_credit_reversed,
	estimated_ready_at, created_at, updated_at, version`

func (r *OrderRepo) Create(ctx context.Context, o *orders.Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, order_number, restaurant_id, location_id, type, table_id, customer_id, priority, status, notes,
			idempotency_key,
			subtotal_cents, tax_cents, discount_code, discount_cents, loyalty_discount_cents, tip_cents,
			delivery_fee_cents, total_cents, loyalty_points_used, loyalty_points_earned,
			ledger_applied, ledger_discount_redeemed, ledger_points_debited, ledger_reversed,
			ledger_credited, ledger_points_credited, ledger_credit_reversed,
			estimated_ready_at, created_at, updated_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, NULLIF($11, ''),
			$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,
			$22,$23,$24,$25,$26,$27,$28,
			$29,$30,$31,$32)`,
		o.ID, o.OrderNumber, o.RestaurantID, o.LocationID, string(o.Type), o.TableID, o.CustomerID,
		string(o.Priority), string(o.Status), o.Notes,
		o.IdempotencyKey,
		int64(o.Subtotal), int64(o.TaxAmount), o.DiscountCode, int64(o.DiscountAmount),
		int64(o.LoyaltyDiscountAmount), int64(o.TipAmount), int64(o.DeliveryFee), int64(o.TotalAmount),
		o.LoyaltyPointsUsed, o.LoyaltyPointsEarned,
		o.Ledger.Applied, o.Ledger.DiscountRedeemed, o.Ledger.PointsDebited, o.Ledger.Reversed,
		o.Ledger.Credited, o.Ledger.PointsCredited, o.Ledger.CreditReversed,
		o.EstimatedReadyAt, o.CreatedAt, o.UpdatedAt, o.Version,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for i, it := range o.Items {
		mods, err := json.Marshal(nonNil(it.Modifiers))
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO order_items (order_id, id, position, menu_item_id, name, quantity, unit_price_cents,
				notes, status, modifiers, subtotal_cents, tax_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			o.ID, it.ID, i, it.MenuItemID, it.Name, it.Quantity, int64(it.UnitPrice),
			it.Notes, string(it.Status), mods, int64(it.Subtotal), int64(it.TaxAmount))
	}
	queueHistory(batch, o.ID, o.StatusHistory, 0)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert order children: %w", err)
	}
	return tx.Commit(ctx)
}

func nonNil(m []orders.Modifier) []orders.Modifier {
	if m == nil {
		return []orders.Modifier{}
	}
	return m
}

func queueHistory(b *pgx.Batch, orderID string, h []orders.StatusEntry, from int) {
	for i := from; i < len(h); i++ {
		b.Queue(`INSERT INTO order_status_history (order_id, seq, status, note, at) VALUES ($1,$2,$3,$4,$5)`,
			orderID, i, string(h[i].Status), h[i].Note, h[i].At)
	}
}

func (r *OrderRepo) Get(ctx context.Context, id string) (*orders.Order, error) {
	return r.getBy(ctx, `id = $1`, id)
}

func (r *OrderRepo) GetByNumber(ctx context.Context, number string) (*orders.Order, error) {
	return r.getBy(ctx, `order_number = $1`, number)
}

func (r *OrderRepo) GetByIdempotencyKey(ctx context.Context, key string) (*orders.Order, error) {
	return r.getBy(ctx, `idempotency_key = $1`, key)
}

func (r *OrderRepo) getBy(ctx context.Context, where string, arg any) (*orders.Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o                                            orders.Order
		typ, prio, status                            string
		sub, tax, disc, loyaltyDisc, tip, fee, total int64
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.RestaurantID, &o.LocationID, &typ, &o.TableID, &o.CustomerID, &prio, &status, &o.Notes,
		&o.IdempotencyKey,
		&sub, &tax, &o.DiscountCode, &disc, &loyaltyDisc, &tip,
		&fee, &total, &o.LoyaltyPointsUsed, &o.LoyaltyPointsEarned,
		&o.Ledger.Applied, &o.Ledger.DiscountRedeemed, &o.Ledger.PointsDebited, &o.Ledger.Reversed,
		&o.Ledger.Credited, &o.Ledger.PointsCredited, &o.Ledger.CreditReversed,
		&o.EstimatedReadyAt, &o.CreatedAt, &o.UpdatedAt, &o.Version,
	)
	if err != nil {
		return nil, err
	}
	o.Type, o.Priority, o.Status = orders.OrderType(typ), orders.Priority(prio), orders.Status(status)
	o.Subtotal, o.TaxAmount, o.DiscountAmount = money.Cents(sub), money.Cents(tax), money.Cents(disc)
	o.LoyaltyDiscountAmount, o.TipAmount = money.Cents(loyaltyDisc), money.Cents(tip)
	o.DeliveryFee, o.TotalAmount = money.Cents(fee), money.Cents(total)
	return &o, nil
}

func (r *OrderRepo) loadChildren(ctx context.Context, o *orders.Order) error {
	rows, err := r.DB.Query(ctx, `
		SELECT id, menu_item_id, name, quantity, unit_price_cents, notes, status, modifiers, subtotal_cents, tax_cents
		FROM order_items WHERE order_id = $1 ORDER BY position`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it                  orders.OrderItem
			status              string
			mods                []byte
			unit, subtotal, tax int64
		)
		if err := rows.Scan(&it.ID, &it.MenuItemID, &it.Name, &it.Quantity, &unit, &it.Notes, &status, &mods, &subtotal, &tax); err != nil {
			return err
		}
		if err := json.Unmarshal(mods, &it.Modifiers); err != nil {
			return fmt.Errorf("decode modifiers of item %s: %w", it.ID, err)
		}
		if len(it.Modifiers) == 0 {
			it.Modifiers = nil
		}
		it.Status = orders.ItemStatus(status)
		it.UnitPrice, it.Subtotal, it.TaxAmount = money.Cents(unit), money.Cents(subtotal), money.Cents(tax)
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	hrows, err := r.DB.Query(ctx, `SELECT status, note, at FROM order_status_history WHERE order_id = $1 ORDER BY seq`, o.ID)
	if err != nil {
		return err
	}
	defer hrows.Close()
	for hrows.Next() {
		var (
			e      orders.StatusEntry
			status string
		)
		if err := hrows.Scan(&status, &e.Note, &e.At); err != nil {
			return err
		}
		e.Status = orders.Status(status)
		o.StatusHistory = append(o.StatusHistory, e)
	}
	return hrows.Err()
}

func (r *OrderRepo) List(ctx context.Context, f orders.ListFilter) (orders.Page, error) {
	p := orders.Page{Page: f.Page, PageSize: f.PageSize, Orders: []orders.Order{}}
	where := `($1 = '' OR restaurant_id = $1) AND ($2 = '' OR status = $2)`

	if err := r.DB.QueryRow(ctx, `SELECT count(*) FROM orders WHERE `+where, f.RestaurantID, string(f.Status)).Scan(&p.Total); err != nil {
		return p, err
	}
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where+`
		ORDER BY created_at DESC, order_number DESC LIMIT $3 OFFSET $4`,
		f.RestaurantID, string(f.Status), f.PageSize, (f.Page-1)*f.PageSize)
	if err != nil {
		return p, err
	}
	var list []*orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return p, err
		}
		list = append(list, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return p, err
	}
	for _, o := range list {
		if err := r.loadChildren(ctx, o); err != nil {
			return p, err
		}
		p.Orders = append(p.Orders, *o)
	}
	return p, nil
}

// Update writes the mutable parts of o when the stored version is still
// expectedVersion: status, ledger flags, item statuses and new history
// entries. Everything else is fixed at creation.
func (r *OrderRepo) Update(ctx context.Context, o *orders.Order, expectedVersion int64) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var tag pgconn.CommandTag
	tag, err = tx.Exec(ctx, `
		UPDATE orders SET
			status = $3, updated_at = $4, version = $2 + 1,
			ledger_applied = $5, ledger_discount_redeemed = $6, ledger_points_debited = $7, ledger_reversed = $8,
			ledger_credited = $9, ledger_points_credited = $10, ledger_credit_reversed = $11
		WHERE id = $1 AND version = $2`,
		o.ID, expectedVersion, string(o.Status), o.UpdatedAt,
		o.Ledger.Applied, o.Ledger.DiscountRedeemed, o.Ledger.PointsDebited, o.Ledger.Reversed,
		o.Ledger.Credited, o.Ledger.PointsCredited, o.Ledger.CreditReversed,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, o.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return orders.ErrOrderNotFound
		}
		return orders.ErrVersionConflict
	}

	var stored int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM order_status_history WHERE order_id = $1`, o.ID).Scan(&stored); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, it := range o.Items {
		batch.Queue(`UPDATE order_items SET status = $3 WHERE order_id = $1 AND id = $2`, o.ID, it.ID, string(it.Status))
	}
	queueHistory(batch, o.ID, o.StatusHistory, stored)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("update order children: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	o.Version = expectedVersion + 1
	return nil
}
