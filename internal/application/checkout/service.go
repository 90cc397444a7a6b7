package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hamzaMissewi/storefront-checkout/internal/application/pricing"
	"github.com/hamzaMissewi/storefront-checkout/internal/domain/catalog"
	"github.com/hamzaMissewi/storefront-checkout/internal/domain/inventory"
	domorder "github.com/hamzaMissewi/storefront-checkout/internal/domain/order"
	domoutbox "github.com/hamzaMissewi/storefront-checkout/internal/domain/outbox"
	dompayment "github.com/hamzaMissewi/storefront-checkout/internal/domain/payment"
	"github.com/hamzaMissewi/storefront-checkout/internal/infrastructure/recovery"
	"github.com/hamzaMissewi/storefront-checkout/internal/pkg/logging"
	"github.com/hamzaMissewi/storefront-checkout/internal/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrValidation = errors.New("checkout: invalid request")
	// ErrPaymentFailed wraps the gateway error after all reservations have
	// been released; distinct from stock errors so clients can retry the
	// payment without changing the cart.
	ErrPaymentFailed = errors.New("checkout: payment authorization failed")
	// ErrPersistence marks the one failure that cannot be rolled back: the
	// authorization exists externally but the order write failed. The
	// recovery journal holds the full order for reconciliation.
	ErrPersistence = errors.New("checkout: order could not be persisted")
)

const publishTimeout = 300 * time.Millisecond

// Ledger is the inventory collaborator; see domain/inventory.
type Ledger interface {
	Reserve(ctx context.Context, productID string, quantity int) error
	Release(ctx context.Context, productID string, quantity int) error
}

// Authorizer is the payment coordinator's contract.
type Authorizer interface {
	Authorize(ctx context.Context, amount int64, idempotencyKey string, metadata map[string]string) (*dompayment.Authorization, error)
}

type IDGenerator interface {
	NewID() string
}

type Sequencer interface {
	Next() string
}

// Request is one checkout attempt. IdempotencyKey, when set, makes a retried
// identical request return the already-committed order instead of charging
// and ordering twice.
type Request struct {
	UserID            string
	Items             []ItemRequest
	ShippingAddressID string
	ShippingMethod    string
	IdempotencyKey    string
}

type ItemRequest struct {
	ProductID string
	Quantity  int
}

// Service is the order assembler: it drives a checkout through
// validating -> stock_reserved -> priced -> payment_authorized -> committed,
// releasing every reservation on any failure past the reservation step.
// Product stock is touched only through the ledger; the order write is one
// atomic repository call and is the commit point.
type Service struct {
	products catalog.Repository
	ledger   Ledger
	orders   domorder.Repository
	policy   pricing.Policy
	payments Authorizer
	journal  recovery.Journal
	bus      domoutbox.Publisher

	ids      IDGenerator
	seq      Sequencer
	currency string

	met    *metrics.Metrics
	tracer trace.Tracer
}

func NewService(
	products catalog.Repository,
	ledger Ledger,
	orders domorder.Repository,
	policy pricing.Policy,
	payments Authorizer,
	journal recovery.Journal,
	bus domoutbox.Publisher,
	ids IDGenerator,
	seq Sequencer,
	currency string,
	met *metrics.Metrics,
) *Service {
	return &Service{
		products: products,
		ledger:   ledger,
		orders:   orders,
		policy:   policy,
		payments: payments,
		journal:  journal,
		bus:      bus,
		ids:      ids,
		seq:      seq,
		currency: currency,
		met:      met,
		tracer:   otel.Tracer("storefront.checkout"),
	}
}

// reservation tracks one applied stock decrement so it can be compensated.
type reservation struct {
	productID string
	quantity  int
}

// Execute runs one checkout. On success the returned order is committed and
// its cart lines are being reconciled; on failure the error is one of the
// typed taxonomy errors and no partial order is observable.
func (s *Service) Execute(ctx context.Context, req Request) (_ *domorder.Order, err error) {
	logger := logging.FromContext(ctx).With(
		zap.String("component", "checkout"),
		zap.String("user_id", req.UserID),
	)

	ctx, span := s.tracer.Start(ctx, "checkout.execute",
		trace.WithAttributes(
			attribute.String("checkout.user_id", req.UserID),
			attribute.Int("checkout.items", len(req.Items)),
		),
	)
	start := time.Now()
	outcome := "committed"
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, outcome)
		}
		span.End()
		if s.met != nil {
			s.met.CheckoutRequests.WithLabelValues(outcome).Inc()
			s.met.CheckoutDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		}
	}()

	if err := validate(req); err != nil {
		outcome = "rejected"
		return nil, err
	}

	// Idempotent replay: an identical retry after a timeout returns the
	// order committed by the first attempt.
	if req.IdempotencyKey != "" {
		existing, lookupErr := s.orders.FindByIdempotency(ctx, req.UserID, req.IdempotencyKey)
		switch {
		case lookupErr == nil:
			outcome = "replayed"
			span.AddEvent("checkout.idempotent_replay",
				trace.WithAttributes(attribute.String("order.id", existing.ID)))
			logger.Info("checkout_idempotent_replay", zap.String("order_id", existing.ID))
			return existing, nil
		case errors.Is(lookupErr, domorder.ErrNotFound):
		default:
			outcome = "error"
			return nil, fmt.Errorf("checkout: idempotency lookup: %w", lookupErr)
		}
	}

	// VALIDATING: every product must exist and cover its requested quantity
	// before any reservation is attempted, so either all lines reserve or
	// none do.
	lines, err := s.snapshotLines(ctx, req.Items)
	if err != nil {
		outcome = "rejected"
		logger.Info("checkout_rejected", zap.Error(err))
		return nil, err
	}
	span.AddEvent("checkout.validated")

	entity, err := domorder.New(
		s.ids.NewID(), s.seq.Next(),
		req.UserID, req.ShippingAddressID, req.ShippingMethod, req.IdempotencyKey,
		lines,
	)
	if err != nil {
		outcome = "rejected"
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	logger = logger.With(zap.String("order_id", entity.ID), zap.String("order_number", entity.Number))
	span.SetAttributes(attribute.String("order.number", entity.Number))

	// STOCK_RESERVED: reserve line by line; the validation pass cannot rule
	// out a concurrent checkout winning the race, so a mid-set failure
	// releases everything reserved so far.
	reserved, err := s.reserveAll(ctx, lines)
	if err != nil {
		s.releaseAll(ctx, logger, reserved)
		outcome = "rejected"
		logger.Info("checkout_reservation_lost_race", zap.Error(err))
		return nil, err
	}
	if err := entity.MarkStockReserved(); err != nil {
		s.releaseAll(ctx, logger, reserved)
		outcome = "error"
		return nil, err
	}
	span.AddEvent("checkout.stock_reserved")

	// PRICED: pure computation over the snapshotted unit prices.
	totals, err := s.policy.Price(lineInputs(lines))
	if err != nil {
		s.releaseAll(ctx, logger, reserved)
		_ = entity.RollBack()
		outcome = "error"
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := entity.SetTotals(totals.Subtotal, totals.Tax, totals.Shipping, totals.Total); err != nil {
		s.releaseAll(ctx, logger, reserved)
		_ = entity.RollBack()
		outcome = "error"
		return nil, err
	}
	span.AddEvent("checkout.priced", trace.WithAttributes(attribute.Int64("order.total", totals.Total)))

	// PAYMENT_AUTHORIZED: gateway failure of any kind (decline, timeout,
	// unreachable) releases all reservations; no order is persisted.
	payKey := paymentKey(req.UserID, req.IdempotencyKey, entity.ID)
	auth, err := s.payments.Authorize(ctx, totals.Total, payKey, map[string]string{
		"order_number": entity.Number,
		"user_id":      entity.UserID,
	})
	if err != nil {
		s.releaseAll(ctx, logger, reserved)
		_ = entity.RollBack()
		outcome = "payment_failed"
		logger.Warn("checkout_payment_failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}
	// The gateway replays the original authorization for a known key; if
	// that amount no longer matches what this request priced, the
	// authorization cannot pay for this order.
	if auth.Amount != totals.Total {
		s.releaseAll(ctx, logger, reserved)
		_ = entity.RollBack()
		outcome = "payment_failed"
		logger.Warn("checkout_authorization_amount_mismatch",
			zap.Int64("authorized", auth.Amount),
			zap.Int64("priced", totals.Total),
		)
		return nil, fmt.Errorf("%w: authorized amount %d does not match priced total %d",
			ErrPaymentFailed, auth.Amount, totals.Total)
	}
	if err := entity.AttachAuthorization(domorder.PaymentRecord{
		ID:           s.ids.NewID(),
		Amount:       auth.Amount,
		Currency:     auth.Currency,
		GatewayRef:   auth.Reference,
		ClientSecret: auth.ClientSecret,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		s.releaseAll(ctx, logger, reserved)
		_ = entity.RollBack()
		outcome = "error"
		return nil, err
	}
	span.AddEvent("checkout.payment_authorized",
		trace.WithAttributes(attribute.String("payment.reference", auth.Reference)))

	// COMMITTED: the single durable write. If it fails, money is already
	// committed externally, so the order is journaled for reconciliation
	// instead of rolled back; reservations stay applied because the journaled
	// order still claims those units.
	if err := entity.Commit(); err != nil {
		s.releaseAll(ctx, logger, reserved)
		outcome = "error"
		return nil, err
	}
	if err := s.orders.Insert(ctx, entity); err != nil {
		if errors.Is(err, domorder.ErrConflict) && req.IdempotencyKey != "" {
			// A concurrent identical request committed first. The gateway
			// already replayed the same authorization for payKey, so
			// compensating our reservation leaves exactly one order's worth
			// of stock claimed.
			if existing, lookupErr := s.orders.FindByIdempotency(ctx, req.UserID, req.IdempotencyKey); lookupErr == nil {
				s.releaseAll(ctx, logger, reserved)
				outcome = "replayed"
				logger.Info("checkout_conflict_replay", zap.String("order_id", existing.ID))
				return existing, nil
			}
		}
		outcome = "persistence_failed"
		s.journalFailure(ctx, logger, entity, payKey, err)
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	span.AddEvent("checkout.committed")
	logger.Info("checkout_committed",
		zap.Int64("total", entity.Total),
		zap.Int("lines", len(entity.Lines)),
	)

	s.publishCommitted(ctx, logger, entity)
	return entity, nil
}

func validate(req Request) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrValidation)
	}
	if req.ShippingAddressID == "" {
		return fmt.Errorf("%w: shipping address is required", ErrValidation)
	}
	if req.ShippingMethod == "" {
		return fmt.Errorf("%w: shipping method is required", ErrValidation)
	}
	for _, it := range req.Items {
		if it.ProductID == "" {
			return fmt.Errorf("%w: product id is required", ErrValidation)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for %s must be greater than zero", ErrValidation, it.ProductID)
		}
	}
	return nil
}

// snapshotLines checks existence and current stock for every item and
// freezes the catalog unit prices into order lines.
func (s *Service) snapshotLines(ctx context.Context, items []ItemRequest) ([]domorder.Line, error) {
	lines := make([]domorder.Line, 0, len(items))
	for _, it := range items {
		p, err := s.products.Get(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, it.ProductID)
			}
			return nil, fmt.Errorf("checkout: load product %s: %w", it.ProductID, err)
		}
		if p.Stock < it.Quantity {
			return nil, &inventory.InsufficientStockError{
				ProductID: it.ProductID,
				Requested: it.Quantity,
				Available: p.Stock,
			}
		}
		lines = append(lines, domorder.Line{
			ProductID: p.ID,
			Quantity:  it.Quantity,
			UnitPrice: p.UnitPrice,
			Total:     pricing.LineTotal(p.UnitPrice, it.Quantity),
		})
	}
	return lines, nil
}

func (s *Service) reserveAll(ctx context.Context, lines []domorder.Line) ([]reservation, error) {
	reserved := make([]reservation, 0, len(lines))
	for _, l := range lines {
		if err := s.ledger.Reserve(ctx, l.ProductID, l.Quantity); err != nil {
			return reserved, err
		}
		reserved = append(reserved, reservation{productID: l.ProductID, quantity: l.Quantity})
	}
	return reserved, nil
}

// releaseAll compensates reservations in reverse order. Release failures are
// logged, not returned: compensation is best-effort and the memory ledger
// cannot fail, but a storage-backed one could.
func (s *Service) releaseAll(ctx context.Context, logger *zap.Logger, reserved []reservation) {
	for i := len(reserved) - 1; i >= 0; i-- {
		r := reserved[i]
		if err := s.ledger.Release(ctx, r.productID, r.quantity); err != nil {
			logger.Error("checkout_release_failed",
				zap.String("product_id", r.productID),
				zap.Int("quantity", r.quantity),
				zap.Error(err),
			)
		}
	}
}

// journalFailure records the authorized-but-unpersisted order. This path must
// not lose the record: a journal failure on top of a persistence failure is
// escalated as loudly as the logger allows.
func (s *Service) journalFailure(ctx context.Context, logger *zap.Logger, o *domorder.Order, payKey string, cause error) {
	rec := recovery.Record{
		IdempotencyKey: payKey,
		OrderID:        o.ID,
		OrderNumber:    o.Number,
		UserID:         o.UserID,
		Amount:         o.Total,
		Currency:       s.currency,
		Lines:          append([]domorder.Line(nil), o.Lines...),
	}
	if len(o.Payments) > 0 {
		rec.GatewayRef = o.Payments[len(o.Payments)-1].GatewayRef
	}

	if err := s.journal.Append(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("checkout_recovery_journal_failed",
			zap.String("payment_idempotency_key", payKey),
			zap.String("gateway_ref", rec.GatewayRef),
			zap.NamedError("persist_error", cause),
			zap.Error(err),
		)
		return
	}
	if s.met != nil {
		s.met.RecoveryRecords.Inc()
	}
	logger.Error("order_persist_failed_after_auth",
		zap.String("payment_idempotency_key", payKey),
		zap.String("gateway_ref", rec.GatewayRef),
		zap.Error(cause),
	)
}

func (s *Service) publishCommitted(ctx context.Context, logger *zap.Logger, o *domorder.Order) {
	if s.bus == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	evt := domorder.NewCommittedEvent(o)
	if err := s.bus.Publish(pubCtx, evt); err != nil {
		if s.met != nil {
			s.met.EventPublishFailures.WithLabelValues(evt.EventName()).Inc()
		}
		logger.Warn("order_committed_event_publish_failed", zap.Error(err))
	}
}

func lineInputs(lines []domorder.Line) []pricing.LineInput {
	in := make([]pricing.LineInput, len(lines))
	for i, l := range lines {
		in[i] = pricing.LineInput{UnitPrice: l.UnitPrice, Quantity: l.Quantity}
	}
	return in
}

// paymentKey derives the gateway idempotency key: the caller's key scoped by
// user when provided (so client retries dedupe at the gateway, but one user's
// key can never replay another user's authorization), else the order id.
func paymentKey(userID, requestKey, orderID string) string {
	if requestKey != "" {
		return "pay-" + userID + "/" + requestKey
	}
	return "pay-" + orderID
}
