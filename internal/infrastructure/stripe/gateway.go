package stripe

import (
	"context"
	"errors"
	"fmt"

	dompayment "github.com/hamzaMissewi/storefront-checkout/internal/domain/payment"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// Gateway creates Stripe PaymentIntents as checkout authorizations. Amounts
// are already minor units, matching Stripe's wire format, and the caller's
// idempotency key is forwarded so a retried request cannot double-charge.
type Gateway struct {
	api *client.API
}

func NewGateway(apiKey string) *Gateway {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &Gateway{api: api}
}

func (g *Gateway) CreateAuthorization(ctx context.Context, req dompayment.AuthorizationRequest) (*dompayment.Authorization, error) {
	params := &stripeapi.PaymentIntentParams{
		Params: stripeapi.Params{
			Context:        ctx,
			IdempotencyKey: stripeapi.String(req.IdempotencyKey),
		},
		Amount:   stripeapi.Int64(req.Amount),
		Currency: stripeapi.String(req.Currency),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}

	return &dompayment.Authorization{
		Reference:    pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}

func mapStripeError(err error) error {
	var sErr *stripeapi.Error
	if errors.As(err, &sErr) && sErr.Type == stripeapi.ErrorTypeCard {
		return fmt.Errorf("%w: %s", dompayment.ErrDeclined, sErr.Msg)
	}
	return fmt.Errorf("%w: %w", dompayment.ErrUnavailable, err)
}
