package paymentsim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	dompayment "github.com/hamzaMissewi/storefront-checkout/internal/domain/payment"
)

// Mode selects the simulator's deterministic behaviour.
type Mode int

const (
	// ModeApprove authorizes every request.
	ModeApprove Mode = iota
	// ModeDecline refuses every request.
	ModeDecline
	// ModeHang blocks until the caller's context expires, standing in for
	// an unreachable or timing-out gateway.
	ModeHang
)

// Gateway is a deterministic stand-in for the external payment provider,
// used in development and tests. It honours idempotency keys the way a real
// gateway does: a repeated request with a known key returns the original
// authorization instead of minting a new one.
type Gateway struct {
	mu      sync.Mutex
	mode    Mode
	latency time.Duration
	byKey   map[string]*dompayment.Authorization
	calls   int
}

func New(mode Mode) *Gateway {
	return &Gateway{
		mode:  mode,
		byKey: make(map[string]*dompayment.Authorization),
	}
}

// SetMode switches behaviour between calls; useful for retry tests.
func (g *Gateway) SetMode(mode Mode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mode = mode
}

// SetLatency makes every call take at least d before responding.
func (g *Gateway) SetLatency(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latency = d
}

// Calls reports how many authorization attempts reached the simulator.
func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *Gateway) CreateAuthorization(ctx context.Context, req dompayment.AuthorizationRequest) (*dompayment.Authorization, error) {
	g.mu.Lock()
	g.calls++
	mode, latency := g.mode, g.latency
	if req.IdempotencyKey != "" {
		if auth, ok := g.byKey[req.IdempotencyKey]; ok {
			replay := *auth
			g.mu.Unlock()
			return &replay, nil
		}
	}
	g.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	switch mode {
	case ModeDecline:
		return nil, fmt.Errorf("%w: card refused by issuer", dompayment.ErrDeclined)
	case ModeHang:
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ref := "sim_" + uuid.NewString()
	auth := &dompayment.Authorization{
		Reference:    ref,
		ClientSecret: ref + "_secret",
		Amount:       req.Amount,
		Currency:     req.Currency,
	}

	g.mu.Lock()
	if req.IdempotencyKey != "" {
		g.byKey[req.IdempotencyKey] = auth
	}
	g.mu.Unlock()

	replay := *auth
	return &replay, nil
}
