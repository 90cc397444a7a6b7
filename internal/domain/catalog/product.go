package catalog

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("catalog: product not found")

// Product is a catalog entry. UnitPrice is expressed in the currency's minor
// unit (cents). Stock is mutated exclusively through the inventory ledger;
// everything else here is read-only catalog data.
type Product struct {
	ID        string
	Name      string
	UnitPrice int64
	Stock     int
	UpdatedAt time.Time
}

type Repository interface {
	Get(ctx context.Context, productID string) (*Product, error)
	List(ctx context.Context) ([]*Product, error)
}
