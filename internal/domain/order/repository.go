package order

import "context"

type Repository interface {
	// Insert writes the order, its lines and its payment records as one
	// atomic operation. It fails with ErrConflict when the id or the
	// idempotency key is already taken.
	Insert(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]*Order, error)
	FindByIdempotency(ctx context.Context, userID, key string) (*Order, error)
}
