package orders

import "context"

// Repository persists orders. Update is a compare-and-swap on Version: it
// fails with ErrVersionConflict when the stored version is not
// expectedVersion, and stores o with Version = expectedVersion+1.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	// GetByIdempotencyKey returns ErrOrderNotFound when the key is unused.
	GetByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	List(ctx context.Context, f ListFilter) (Page, error)
	Update(ctx context.Context, o *Order, expectedVersion int64) error
}

type MenuCatalog interface {
	// GetMenuItem returns an error matching ErrMenuItemNotFound for unknown ids.
	GetMenuItem(ctx context.Context, id string) (MenuItem, error)
}

// Sequence hands out order numbers, unique within a day key. Gaps are fine.
type Sequence interface {
	Next(ctx context.Context, day string) (int64, error)
}
