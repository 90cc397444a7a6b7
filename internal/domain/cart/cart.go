package cart

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidQuantity = errors.New("cart: quantity must be greater than zero")

// Line is one (owner, product, quantity) entry. Lines live from add-to-cart
// until the user removes them or a committed checkout consumes them.
type Line struct {
	UserID    string
	ProductID string
	Quantity  int
	AddedAt   time.Time
}

type Repository interface {
	Lines(ctx context.Context, userID string) ([]Line, error)
	Add(ctx context.Context, line Line) error
	// RemoveLines deletes the given products from the owner's cart.
	// Removing an already-removed line is a no-op.
	RemoveLines(ctx context.Context, userID string, productIDs []string) error
}
