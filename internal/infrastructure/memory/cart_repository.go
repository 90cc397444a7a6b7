package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/hamzaMissewi/storefront-checkout/internal/domain/cart"
)

// CartRepository stores cart lines per owner. RemoveLines is idempotent:
// removing a product that is no longer in the cart is a no-op, so a retried
// reconciliation cannot corrupt the cart.
type CartRepository struct {
	mu    sync.RWMutex
	lines map[string]map[string]domain.Line // userID -> productID -> line
}

func NewCartRepository() *CartRepository {
	return &CartRepository{
		lines: make(map[string]map[string]domain.Line),
	}
}

func (r *CartRepository) Lines(ctx context.Context, userID string) ([]domain.Line, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Line, 0, len(r.lines[userID]))
	for _, l := range r.lines[userID] {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.Before(out[j].AddedAt) })
	return out, nil
}

// Add inserts a line, merging quantities when the product is already carted.
func (r *CartRepository) Add(ctx context.Context, line domain.Line) error {
	_ = ctx
	if line.Quantity <= 0 {
		return domain.ErrInvalidQuantity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lines[line.UserID] == nil {
		r.lines[line.UserID] = make(map[string]domain.Line)
	}
	if existing, ok := r.lines[line.UserID][line.ProductID]; ok {
		existing.Quantity += line.Quantity
		r.lines[line.UserID][line.ProductID] = existing
		return nil
	}
	if line.AddedAt.IsZero() {
		line.AddedAt = time.Now().UTC()
	}
	r.lines[line.UserID][line.ProductID] = line
	return nil
}

func (r *CartRepository) RemoveLines(ctx context.Context, userID string, productIDs []string) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	owned := r.lines[userID]
	if owned == nil {
		return nil
	}
	for _, id := range productIDs {
		delete(owned, id)
	}
	return nil
}
