package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h:5432/db?sslmode=disable", migrateURL("postgres://u:p@h:5432/db?sslmode=disable"))
	assert.Equal(t, "pgx5://h/db", migrateURL("postgresql://h/db"))
	assert.Equal(t, "pgx5://h/db", migrateURL("pgx5://h/db"))
}

// testPool connects to POSTGRES_TEST_DSN and applies migrations; tests that
// need a database are skipped without it.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	require.NoError(t, Migrate(dsn))
	pool, err := Connect(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func sampleOrder() *orders.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.NewString()
	return &orders.Order{
		ID:               id,
		OrderNumber:      "T-" + id[:8],
		RestaurantID:     "r-" + id[:8],
		Type:             orders.TypeDineIn,
		Priority:         orders.PriorityRush,
		Status:           orders.StatusPending,
		IdempotencyKey:   "idem-" + id,
		Subtotal:         1500,
		TaxAmount:        135,
		TotalAmount:      1635,
		EstimatedReadyAt: now.Add(15 * time.Minute),
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
		StatusHistory:    []orders.StatusEntry{{Status: orders.StatusPending, Note: "order placed", At: now}},
		Items: []orders.OrderItem{
			{ID: uuid.NewString(), MenuItemID: "burger", Name: "Burger", Quantity: 1, UnitPrice: 1000,
				Status: orders.ItemPending, Subtotal: 1000, TaxAmount: 90,
				Modifiers: []orders.Modifier{{ID: "cheese", Name: "Cheese", PriceAdjustment: 0}}},
			{ID: uuid.NewString(), MenuItemID: "fries", Name: "Fries", Quantity: 1, UnitPrice: 500,
				Status: orders.ItemPending, Subtotal: 500, TaxAmount: 45},
		},
	}
}

func TestOrderRepo_RoundTripAndCAS(t *testing.T) {
	ctx := context.Background()
	repo := &OrderRepo{DB: testPool(t)}
	o := sampleOrder()
	require.NoError(t, repo.Create(ctx, o))

	got, err := repo.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNumber, got.OrderNumber)
	assert.Equal(t, o.TotalAmount, got.TotalAmount)
	assert.Equal(t, o.Priority, got.Priority)
	assert.True(t, o.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, o.Items, got.Items)
	require.Len(t, got.StatusHistory, 1)
	assert.Equal(t, "order placed", got.StatusHistory[0].Note)

	next := got.Clone()
	require.NoError(t, next.TransitionTo(orders.StatusConfirmed, "", next.UpdatedAt))
	_, err = next.TransitionItem(next.Items[0].ID, orders.ItemPreparing, "", next.UpdatedAt)
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, next, 1))
	assert.Equal(t, int64(2), next.Version)

	assert.ErrorIs(t, repo.Update(ctx, got, 1), orders.ErrVersionConflict)

	stored, err := repo.GetByNumber(ctx, o.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusInProgress, stored.Status)
	assert.Equal(t, orders.ItemPreparing, stored.Items[0].Status)
	assert.Len(t, stored.StatusHistory, 3)

	byKey, err := repo.GetByIdempotencyKey(ctx, o.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, o.ID, byKey.ID)

	_, err = repo.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	page, err := repo.List(ctx, orders.ListFilter{RestaurantID: o.RestaurantID, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestLedgerStores(t *testing.T) {
	ctx := context.Background()
	pool := testPool(t)
	loyalty := &Loyalty{DB: pool}
	discounts := &Discounts{DB: pool}
	cust := "cust-" + uuid.NewString()
	code := "CODE-" + uuid.NewString()[:8]
	now := time.Now().UTC()

	require.NoError(t, loyalty.Credit(ctx, cust, 10))
	assert.ErrorIs(t, loyalty.Debit(ctx, cust, 11), orders.ErrInsufficientLoyaltyPoints)
	require.NoError(t, loyalty.Debit(ctx, cust, 4))
	bal, err := loyalty.GetBalance(ctx, cust)
	require.NoError(t, err)
	assert.Equal(t, int64(6), bal)

	require.NoError(t, discounts.Put(ctx, orders.DiscountCode{
		Code: code, Kind: orders.DiscountPercentage, Rate: decimal.RequireFromString("0.1"), MaxRedemptions: 1,
	}))
	dc, err := discounts.Get(ctx, code)
	require.NoError(t, err)
	assert.True(t, dc.Rate.Equal(decimal.RequireFromString("0.1")))

	require.NoError(t, discounts.IncrementRedemption(ctx, code, now))
	assert.ErrorIs(t, discounts.IncrementRedemption(ctx, code, now), orders.ErrInvalidDiscount)
	require.NoError(t, discounts.DecrementRedemption(ctx, code))
	require.NoError(t, discounts.IncrementRedemption(ctx, code, now))
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	c := &Catalog{DB: testPool(t)}
	id := "item-" + uuid.NewString()[:8]
	require.NoError(t, c.Put(ctx, orders.MenuItem{ID: id, Name: "Taco", Price: 450, Available: true,
		Modifiers: []orders.Modifier{{ID: "no-onion", Name: "No onion", PriceAdjustment: -25}}}))

	mi, err := c.GetMenuItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Taco", mi.Name)
	require.Len(t, mi.Modifiers, 1)

	_, err = c.GetMenuItem(ctx, "missing-"+id)
	assert.ErrorIs(t, err, orders.ErrMenuItemNotFound)
}
