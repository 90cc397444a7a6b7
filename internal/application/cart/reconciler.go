package cart

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	domcart "github.com/hamzaMissewi/storefront-checkout/internal/domain/cart"
	domorder "github.com/hamzaMissewi/storefront-checkout/internal/domain/order"
	domoutbox "github.com/hamzaMissewi/storefront-checkout/internal/domain/outbox"
	"github.com/hamzaMissewi/storefront-checkout/internal/pkg/logging"
)

// Reconciler removes ordered lines from a user's cart once an order commits.
// It reacts to committed events rather than running inside the checkout so a
// cart hiccup can never fail a paid order. Removal is idempotent: lines the
// user already removed, or that a redelivered event names twice, are skipped
// without error.
type Reconciler struct {
	carts  domcart.Repository
	logger *zap.Logger
}

func NewReconciler(carts domcart.Repository, logger *zap.Logger) *Reconciler {
	return &Reconciler{carts: carts, logger: logger}
}

// Register subscribes the reconciler to committed-order events.
func (r *Reconciler) Register(sub domoutbox.Subscriber) {
	sub.Subscribe(domorder.EventCommitted, r.handle)
}

func (r *Reconciler) handle(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domorder.CommittedEvent)
	if !ok {
		return fmt.Errorf("cart: unexpected event type %T", e)
	}
	return r.Reconcile(ctx, evt.UserID, evt.ProductIDs)
}

// Reconcile drops the given product lines from the user's cart. Quantities
// are not decremented: an ordered line is gone, whatever amount remained.
func (r *Reconciler) Reconcile(ctx context.Context, userID string, productIDs []string) error {
	if userID == "" || len(productIDs) == 0 {
		return nil
	}

	logger := r.logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}

	if err := r.carts.RemoveLines(ctx, userID, productIDs); err != nil {
		logger.Error("cart_reconcile_failed",
			zap.String("user_id", userID),
			zap.Strings("product_ids", productIDs),
			zap.Error(err),
		)
		return fmt.Errorf("cart: reconcile user %s: %w", userID, err)
	}

	logger.Info("cart_reconciled",
		zap.String("user_id", userID),
		zap.Strings("product_ids", productIDs),
	)
	return nil
}
