package payment

import (
	"context"
	"errors"
)

var (
	// ErrDeclined means the gateway processed the request and refused it.
	ErrDeclined = errors.New("payment: authorization declined")
	// ErrUnavailable means the gateway could not be reached or timed out.
	// A timeout is never treated as success.
	ErrUnavailable = errors.New("payment: gateway unavailable")
)

// AuthorizationRequest describes a single authorization attempt. Amount is in
// the currency's minor unit. The idempotency key makes a retried call after a
// network timeout return the original authorization instead of charging twice.
type AuthorizationRequest struct {
	Amount         int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// Authorization is the gateway's handle for an approved charge.
type Authorization struct {
	Reference    string
	ClientSecret string
	Amount       int64
	Currency     string
}

// Gateway is the external payment collaborator.
type Gateway interface {
	CreateAuthorization(ctx context.Context, req AuthorizationRequest) (*Authorization, error)
}
