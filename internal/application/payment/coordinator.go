package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	dompayment "github.com/hamzaMissewi/storefront-checkout/internal/domain/payment"
	"github.com/hamzaMissewi/storefront-checkout/internal/pkg/logging"
	"github.com/hamzaMissewi/storefront-checkout/internal/pkg/metrics"
	"go.uber.org/zap"
)

// Coordinator fronts the external payment gateway. Every call carries an
// idempotency key and an explicit deadline; a timed-out call is reported as a
// gateway failure, never as success.
type Coordinator struct {
	gateway  dompayment.Gateway
	timeout  time.Duration
	currency string
	met      *metrics.Metrics
}

func NewCoordinator(gateway dompayment.Gateway, timeout time.Duration, currency string, met *metrics.Metrics) *Coordinator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Coordinator{
		gateway:  gateway,
		timeout:  timeout,
		currency: currency,
		met:      met,
	}
}

// Authorize requests an authorization for the given minor-unit amount.
// Returned errors wrap either payment.ErrDeclined or payment.ErrUnavailable
// so the caller can distinguish a refusal from an unreachable gateway.
func (c *Coordinator) Authorize(ctx context.Context, amount int64, idempotencyKey string, metadata map[string]string) (*dompayment.Authorization, error) {
	logger := logging.FromContext(ctx).With(zap.String("component", "payment_coordinator"))

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	auth, err := c.gateway.CreateAuthorization(callCtx, dompayment.AuthorizationRequest{
		Amount:         amount,
		Currency:       c.currency,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
	})
	elapsed := time.Since(start)

	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(callCtx.Err(), context.DeadlineExceeded):
		outcome = "timeout"
		err = fmt.Errorf("%w: authorization timed out after %s", dompayment.ErrUnavailable, c.timeout)
	case errors.Is(err, dompayment.ErrDeclined):
		outcome = "declined"
	default:
		outcome = "error"
		if !errors.Is(err, dompayment.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", dompayment.ErrUnavailable, err)
		}
	}

	if c.met != nil {
		c.met.GatewayRequests.WithLabelValues(outcome).Inc()
		c.met.GatewayDuration.Observe(elapsed.Seconds())
	}

	if err != nil {
		logger.Warn("gateway_authorize_failed",
			zap.String("outcome", outcome),
			zap.Int64("amount", amount),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, err
	}

	logger.Info("gateway_authorize_ok",
		zap.String("reference", auth.Reference),
		zap.Int64("amount", amount),
		zap.Duration("elapsed", elapsed),
	)
	return auth, nil
}
