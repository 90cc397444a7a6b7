package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hamzaMissewi/storefront-checkout/internal/domain/catalog"
	"github.com/hamzaMissewi/storefront-checkout/internal/domain/inventory"
)

// ProductStore holds the catalog and is the inventory ledger over it.
// Reserve executes the check-and-decrement under one lock so the stock
// counter is linearizable per product: concurrent reservations never
// oversell. Release restores stock but never past the catalog maximum
// recorded when the product was put.
type ProductStore struct {
	mu       sync.Mutex
	products map[string]*catalog.Product
	maxStock map[string]int
}

func NewProductStore() *ProductStore {
	return &ProductStore{
		products: make(map[string]*catalog.Product),
		maxStock: make(map[string]int),
	}
}

// Put inserts or replaces a catalog entry. The entry's stock becomes the
// product's catalog maximum for Release capping.
func (s *ProductStore) Put(p *catalog.Product) {
	if p == nil || p.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *p
	clone.UpdatedAt = time.Now().UTC()
	s.products[p.ID] = &clone
	s.maxStock[p.ID] = p.Stock
}

func (s *ProductStore) Get(ctx context.Context, productID string) (*catalog.Product, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *ProductStore) List(ctx context.Context) ([]*catalog.Product, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*catalog.Product, 0, len(s.products))
	for _, p := range s.products {
		clone := *p
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Reserve atomically decrements stock when at least quantity units remain.
func (s *ProductStore) Reserve(ctx context.Context, productID string, quantity int) error {
	_ = ctx
	if quantity <= 0 {
		return inventory.ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return inventory.ErrNotFound
	}
	if p.Stock < quantity {
		return &inventory.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: p.Stock,
		}
	}
	p.Stock -= quantity
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Release reverses a reservation. Safe to call more than once: stock is
// capped at the catalog maximum, and releasing an unknown product is a no-op.
func (s *ProductStore) Release(ctx context.Context, productID string, quantity int) error {
	_ = ctx
	if quantity <= 0 {
		return inventory.ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return nil
	}
	p.Stock += quantity
	if max, tracked := s.maxStock[productID]; tracked && p.Stock > max {
		p.Stock = max
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}
