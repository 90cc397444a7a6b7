package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hamzaMissewi/storefront-checkout/internal/application/checkout"
	apppayment "github.com/hamzaMissewi/storefront-checkout/internal/application/payment"
	"github.com/hamzaMissewi/storefront-checkout/internal/application/pricing"
	"github.com/hamzaMissewi/storefront-checkout/internal/domain/catalog"
	"github.com/hamzaMissewi/storefront-checkout/internal/domain/inventory"
	domorder "github.com/hamzaMissewi/storefront-checkout/internal/domain/order"
	domoutbox "github.com/hamzaMissewi/storefront-checkout/internal/domain/outbox"
	dompayment "github.com/hamzaMissewi/storefront-checkout/internal/domain/payment"
	"github.com/hamzaMissewi/storefront-checkout/internal/infrastructure/id"
	"github.com/hamzaMissewi/storefront-checkout/internal/infrastructure/memory"
	"github.com/hamzaMissewi/storefront-checkout/internal/infrastructure/paymentsim"
	"github.com/hamzaMissewi/storefront-checkout/internal/infrastructure/recovery"
	"github.com/hamzaMissewi/storefront-checkout/internal/infrastructure/sequence"
	"github.com/hamzaMissewi/storefront-checkout/internal/pkg/metrics"
)

var testPolicy = pricing.Policy{TaxRateBps: 800, FreeShippingOver: 10000, ShippingFee: 999}

type recordingBus struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (b *recordingBus) Publish(_ context.Context, e domoutbox.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func (b *recordingBus) committed() []domorder.CommittedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domorder.CommittedEvent
	for _, e := range b.events {
		if evt, ok := e.(domorder.CommittedEvent); ok {
			out = append(out, evt)
		}
	}
	return out
}

type fixture struct {
	store   *memory.ProductStore
	orders  *memory.OrderRepository
	journal *recovery.MemoryJournal
	gateway *paymentsim.Gateway
	bus     *recordingBus
	svc     *checkout.Service
}

type fixtureOpt func(*fixture)

func withOrders(repo *memory.OrderRepository) fixtureOpt {
	return func(f *fixture) { f.orders = repo }
}

func newFixture(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()

	f := &fixture{
		store:   memory.NewProductStore(),
		orders:  memory.NewOrderRepository(),
		journal: recovery.NewMemoryJournal(),
		gateway: paymentsim.New(paymentsim.ModeApprove),
		bus:     &recordingBus{},
	}
	for _, opt := range opts {
		opt(f)
	}

	f.store.Put(&catalog.Product{ID: "p1", Name: "Walnut Desk", UnitPrice: 5000, Stock: 5})
	f.store.Put(&catalog.Product{ID: "p2", Name: "Desk Lamp", UnitPrice: 2500, Stock: 3})

	coordinator := apppayment.NewCoordinator(f.gateway, 200*time.Millisecond, "usd", metrics.NewNop())
	f.svc = checkout.NewService(
		f.store, f.store, f.orders, testPolicy, coordinator, f.journal, f.bus,
		id.NewUUIDGenerator(), sequence.NewCounter("ORD-", 6, 0), "usd", metrics.NewNop(),
	)
	return f
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	p, err := f.store.Get(context.Background(), productID)
	if err != nil {
		t.Fatalf("Get %s: %v", productID, err)
	}
	return p.Stock
}

func validRequest() checkout.Request {
	return checkout.Request{
		UserID:            "u1",
		Items:             []checkout.ItemRequest{{ProductID: "p1", Quantity: 2}},
		ShippingAddressID: "addr1",
		ShippingMethod:    "standard",
	}
}

func TestExecuteCommitsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Execute(ctx, validRequest())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if o.Status != domorder.StatusCommitted {
		t.Fatalf("status = %s, want committed", o.Status)
	}
	if o.Number != "ORD-000001" {
		t.Fatalf("order number = %q, want ORD-000001", o.Number)
	}
	// 2 x 50.00: subtotal 100.00 is not strictly over the threshold,
	// so shipping still applies.
	if o.Subtotal != 10000 || o.Tax != 800 || o.Shipping != 999 || o.Total != 11799 {
		t.Fatalf("totals = %d/%d/%d/%d, want 10000/800/999/11799", o.Subtotal, o.Tax, o.Shipping, o.Total)
	}
	if len(o.Lines) != 1 || o.Lines[0].UnitPrice != 5000 || o.Lines[0].Total != 10000 {
		t.Fatalf("unexpected lines: %+v", o.Lines)
	}
	if len(o.Payments) != 1 || o.Payments[0].Status != domorder.PaymentStatusAuthorized || o.Payments[0].GatewayRef == "" {
		t.Fatalf("unexpected payments: %+v", o.Payments)
	}
	if got := f.stock(t, "p1"); got != 3 {
		t.Fatalf("stock = %d, want 3", got)
	}

	stored, err := f.orders.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("order not durable: %v", err)
	}
	if stored.Total != o.Total {
		t.Fatalf("stored total = %d, want %d", stored.Total, o.Total)
	}

	events := f.bus.committed()
	if len(events) != 1 {
		t.Fatalf("expected 1 committed event, got %d", len(events))
	}
	if events[0].UserID != "u1" || len(events[0].ProductIDs) != 1 || events[0].ProductIDs[0] != "p1" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestExecuteRejectsWithoutSideEffects(t *testing.T) {
	ctx := context.Background()

	assertNoSideEffects := func(t *testing.T, f *fixture) {
		t.Helper()
		if got := f.stock(t, "p1"); got != 5 {
			t.Fatalf("p1 stock = %d, want untouched 5", got)
		}
		if got := f.stock(t, "p2"); got != 3 {
			t.Fatalf("p2 stock = %d, want untouched 3", got)
		}
		if f.gateway.Calls() != 0 {
			t.Fatalf("gateway must not be called, got %d calls", f.gateway.Calls())
		}
		if events := f.bus.committed(); len(events) != 0 {
			t.Fatalf("no events expected, got %d", len(events))
		}
		if orders, _ := f.orders.ListByUser(ctx, "u1"); len(orders) != 0 {
			t.Fatalf("no orders expected, got %d", len(orders))
		}
	}

	t.Run("unknown product", func(t *testing.T) {
		f := newFixture(t)
		req := validRequest()
		req.Items = append(req.Items, checkout.ItemRequest{ProductID: "ghost", Quantity: 1})

		_, err := f.svc.Execute(ctx, req)
		if !errors.Is(err, catalog.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		assertNoSideEffects(t, f)
	})

	t.Run("insufficient stock cites the product", func(t *testing.T) {
		f := newFixture(t)
		req := validRequest()
		req.Items = []checkout.ItemRequest{{ProductID: "p2", Quantity: 10}}

		_, err := f.svc.Execute(ctx, req)
		var stockErr *inventory.InsufficientStockError
		if !errors.As(err, &stockErr) {
			t.Fatalf("expected InsufficientStockError, got %v", err)
		}
		if stockErr.ProductID != "p2" || stockErr.Requested != 10 || stockErr.Available != 3 {
			t.Fatalf("unexpected detail: %+v", stockErr)
		}
		assertNoSideEffects(t, f)
	})

	t.Run("one short line rejects the whole cart", func(t *testing.T) {
		f := newFixture(t)
		req := validRequest()
		req.Items = []checkout.ItemRequest{
			{ProductID: "p1", Quantity: 1},
			{ProductID: "p2", Quantity: 4},
		}

		if _, err := f.svc.Execute(ctx, req); !errors.Is(err, inventory.ErrInsufficientStock) {
			t.Fatalf("expected ErrInsufficientStock, got %v", err)
		}
		assertNoSideEffects(t, f)
	})

	t.Run("validation failures", func(t *testing.T) {
		mutations := map[string]func(*checkout.Request){
			"missing user":      func(r *checkout.Request) { r.UserID = "" },
			"no items":          func(r *checkout.Request) { r.Items = nil },
			"missing address":   func(r *checkout.Request) { r.ShippingAddressID = "" },
			"missing method":    func(r *checkout.Request) { r.ShippingMethod = "" },
			"zero quantity":     func(r *checkout.Request) { r.Items[0].Quantity = 0 },
			"negative quantity": func(r *checkout.Request) { r.Items[0].Quantity = -1 },
			"empty product id":  func(r *checkout.Request) { r.Items[0].ProductID = "" },
		}
		for name, mutate := range mutations {
			t.Run(name, func(t *testing.T) {
				f := newFixture(t)
				req := validRequest()
				mutate(&req)
				if _, err := f.svc.Execute(ctx, req); !errors.Is(err, checkout.ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				assertNoSideEffects(t, f)
			})
		}
	})
}

func TestExecuteGatewayFailureRollsBack(t *testing.T) {
	ctx := context.Background()

	t.Run("decline", func(t *testing.T) {
		f := newFixture(t)
		f.gateway.SetMode(paymentsim.ModeDecline)

		_, err := f.svc.Execute(ctx, validRequest())
		if !errors.Is(err, checkout.ErrPaymentFailed) {
			t.Fatalf("expected ErrPaymentFailed, got %v", err)
		}
		if !errors.Is(err, dompayment.ErrDeclined) {
			t.Fatalf("decline should be distinguishable, got %v", err)
		}
		if errors.Is(err, inventory.ErrInsufficientStock) {
			t.Fatal("payment failure must not look like a stock failure")
		}

		if got := f.stock(t, "p1"); got != 5 {
			t.Fatalf("stock = %d, want restored 5", got)
		}
		if orders, _ := f.orders.ListByUser(ctx, "u1"); len(orders) != 0 {
			t.Fatalf("no order must be persisted, got %d", len(orders))
		}
	})

	t.Run("timeout is failure, never success", func(t *testing.T) {
		f := newFixture(t)
		f.gateway.SetMode(paymentsim.ModeHang)

		_, err := f.svc.Execute(ctx, validRequest())
		if !errors.Is(err, checkout.ErrPaymentFailed) {
			t.Fatalf("expected ErrPaymentFailed, got %v", err)
		}
		if !errors.Is(err, dompayment.ErrUnavailable) {
			t.Fatalf("timeout should map to ErrUnavailable, got %v", err)
		}

		if got := f.stock(t, "p1"); got != 5 {
			t.Fatalf("stock = %d, want restored 5", got)
		}
		if orders, _ := f.orders.ListByUser(ctx, "u1"); len(orders) != 0 {
			t.Fatalf("no order must be persisted, got %d", len(orders))
		}
	})
}

// failingOrderRepo accepts reads but refuses inserts, standing in for a
// storage outage at the commit point.
type failingOrderRepo struct {
	*memory.OrderRepository
}

func (r *failingOrderRepo) Insert(context.Context, *domorder.Order) error {
	return errors.New("disk full")
}

func TestExecutePersistenceFailureJournalsOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	failing := &failingOrderRepo{OrderRepository: memory.NewOrderRepository()}
	coordinator := apppayment.NewCoordinator(f.gateway, 200*time.Millisecond, "usd", metrics.NewNop())
	svc := checkout.NewService(
		f.store, f.store, failing, testPolicy, coordinator, f.journal, f.bus,
		id.NewUUIDGenerator(), sequence.NewCounter("ORD-", 6, 0), "usd", metrics.NewNop(),
	)

	req := validRequest()
	req.IdempotencyKey = "retry-1"
	_, err := svc.Execute(ctx, req)
	if !errors.Is(err, checkout.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}

	pending, jErr := f.journal.Pending(ctx)
	if jErr != nil {
		t.Fatalf("Pending: %v", jErr)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 recovery record, got %d", len(pending))
	}
	rec := pending[0]
	if rec.IdempotencyKey != "pay-u1/retry-1" {
		t.Fatalf("record keyed %q, want pay-u1/retry-1", rec.IdempotencyKey)
	}
	if rec.GatewayRef == "" {
		t.Fatal("record must carry the gateway reference")
	}
	if rec.Amount != 11799 || len(rec.Lines) != 1 {
		t.Fatalf("record must carry the full order: %+v", rec)
	}

	// The authorized payment still claims those units; reconciliation,
	// not rollback, settles them.
	if got := f.stock(t, "p1"); got != 3 {
		t.Fatalf("stock = %d, want 3 (reservation kept)", got)
	}
	if events := f.bus.committed(); len(events) != 0 {
		t.Fatalf("no committed event may be published, got %d", len(events))
	}
}

func TestExecuteIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req := validRequest()
	req.IdempotencyKey = "client-key-1"

	first, err := f.svc.Execute(ctx, req)
	if err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	second, err := f.svc.Execute(ctx, req)
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("replay returned a different order: %s vs %s", first.ID, second.ID)
	}
	if f.gateway.Calls() != 1 {
		t.Fatalf("gateway called %d times, want 1", f.gateway.Calls())
	}
	if got := f.stock(t, "p1"); got != 3 {
		t.Fatalf("stock = %d, want 3 (reserved once)", got)
	}
	if orders, _ := f.orders.ListByUser(ctx, "u1"); len(orders) != 1 {
		t.Fatalf("expected exactly one order, got %d", len(orders))
	}
}

// Idempotency keys are chosen by clients, so two users picking the same
// string must get two independent orders; neither may see the other's
// authorization or fall into the recovery path.
func TestExecuteIdempotencyKeyIsScopedPerUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	reqA := validRequest()
	reqA.IdempotencyKey = "shared-key"
	first, err := f.svc.Execute(ctx, reqA)
	if err != nil {
		t.Fatalf("user A Execute: %v", err)
	}

	reqB := validRequest()
	reqB.UserID = "u2"
	reqB.IdempotencyKey = "shared-key"
	second, err := f.svc.Execute(ctx, reqB)
	if err != nil {
		t.Fatalf("user B Execute: %v", err)
	}

	if first.ID == second.ID {
		t.Fatalf("users must not share an order: %s", first.ID)
	}
	if second.UserID != "u2" {
		t.Fatalf("second order owned by %q, want u2", second.UserID)
	}
	if f.gateway.Calls() != 2 {
		t.Fatalf("gateway called %d times, want 2 (one authorization per user)", f.gateway.Calls())
	}
	if got := f.stock(t, "p1"); got != 1 {
		t.Fatalf("stock = %d, want 1 (two independent reservations)", got)
	}
	if pending, _ := f.journal.Pending(ctx); len(pending) != 0 {
		t.Fatalf("no recovery record may be written, got %d", len(pending))
	}
	ordersB, _ := f.orders.ListByUser(ctx, "u2")
	if len(ordersB) != 1 {
		t.Fatalf("user B must own exactly one order, got %d", len(ordersB))
	}
}

// mismatchedAuthorizer authorizes a different amount than requested, the way
// a replayed gateway authorization for a stale cart would.
type mismatchedAuthorizer struct {
	amount int64
}

func (a mismatchedAuthorizer) Authorize(_ context.Context, _ int64, _ string, _ map[string]string) (*dompayment.Authorization, error) {
	return &dompayment.Authorization{Reference: "auth_stale", Amount: a.amount, Currency: "usd"}, nil
}

func TestExecuteRejectsAuthorizationAmountMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	svc := checkout.NewService(
		f.store, f.store, f.orders, testPolicy, mismatchedAuthorizer{amount: 5}, f.journal, f.bus,
		id.NewUUIDGenerator(), sequence.NewCounter("ORD-", 6, 0), "usd", metrics.NewNop(),
	)

	_, err := svc.Execute(ctx, validRequest())
	if !errors.Is(err, checkout.ErrPaymentFailed) {
		t.Fatalf("expected ErrPaymentFailed, got %v", err)
	}
	if got := f.stock(t, "p1"); got != 5 {
		t.Fatalf("stock = %d, want restored 5", got)
	}
	if orders, _ := f.orders.ListByUser(ctx, "u1"); len(orders) != 0 {
		t.Fatalf("no order must be persisted, got %d", len(orders))
	}
}

// Two identical requests racing under one idempotency key: whichever loses
// the insert compensates its reservation and returns the winner's order, so
// the client sees one order and the ledger one reservation.
func TestExecuteConcurrentDuplicateKeyCommitsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req := validRequest()
	req.IdempotencyKey = "dup-key"

	var wg sync.WaitGroup
	results := make([]*domorder.Order, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.svc.Execute(ctx, req)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Execute %d: %v", i, err)
		}
	}
	if results[0].ID != results[1].ID {
		t.Fatalf("both callers must see the same order: %s vs %s", results[0].ID, results[1].ID)
	}
	if orders, _ := f.orders.ListByUser(ctx, "u1"); len(orders) != 1 {
		t.Fatalf("expected exactly one stored order, got %d", len(orders))
	}
	if got := f.stock(t, "p1"); got != 3 {
		t.Fatalf("stock = %d, want 3 (reserved once after compensation)", got)
	}
	if pending, _ := f.journal.Pending(ctx); len(pending) != 0 {
		t.Fatalf("no recovery record may be written, got %d", len(pending))
	}
}

// raceLedger lets reservations for one product fail even though validation
// saw enough stock, emulating a concurrent checkout winning the race between
// the validation pass and the reservation pass.
type raceLedger struct {
	*memory.ProductStore
	failProduct string
}

func (l *raceLedger) Reserve(ctx context.Context, productID string, qty int) error {
	if productID == l.failProduct {
		return &inventory.InsufficientStockError{ProductID: productID, Requested: qty, Available: 0}
	}
	return l.ProductStore.Reserve(ctx, productID, qty)
}

func TestExecuteReleasesEarlierLinesWhenOneReservationFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	coordinator := apppayment.NewCoordinator(f.gateway, 200*time.Millisecond, "usd", metrics.NewNop())
	svc := checkout.NewService(
		f.store, &raceLedger{ProductStore: f.store, failProduct: "p2"}, f.orders,
		testPolicy, coordinator, f.journal, f.bus,
		id.NewUUIDGenerator(), sequence.NewCounter("ORD-", 6, 0), "usd", metrics.NewNop(),
	)

	req := validRequest()
	req.Items = []checkout.ItemRequest{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
	}

	if _, err := svc.Execute(ctx, req); !errors.Is(err, inventory.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if got := f.stock(t, "p1"); got != 5 {
		t.Fatalf("p1 stock = %d, want released back to 5", got)
	}
	if f.gateway.Calls() != 0 {
		t.Fatalf("gateway must not be called, got %d", f.gateway.Calls())
	}
}

func TestExecuteConcurrentCheckoutsNeverOversell(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req := func() checkout.Request {
		r := validRequest()
		r.Items = []checkout.ItemRequest{{ProductID: "p1", Quantity: 3}}
		return r
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = f.svc.Execute(ctx, req())
		}()
	}
	wg.Wait()

	var committed, insufficient int
	for _, err := range results {
		switch {
		case err == nil:
			committed++
		case errors.Is(err, inventory.ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if committed != 1 || insufficient != 1 {
		t.Fatalf("exactly one checkout should win: committed=%d insufficient=%d", committed, insufficient)
	}
	if got := f.stock(t, "p1"); got != 2 {
		t.Fatalf("stock = %d, want 2", got)
	}
}

func TestExecuteOrderNumbersIncrease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var prev string
	for i := 0; i < 3; i++ {
		req := validRequest()
		req.Items = []checkout.ItemRequest{{ProductID: "p2", Quantity: 1}}
		o, err := f.svc.Execute(ctx, req)
		if err != nil {
			t.Fatalf("Execute %d: %v", i, err)
		}
		if prev != "" && o.Number <= prev {
			t.Fatalf("order numbers must increase: %q after %q", o.Number, prev)
		}
		prev = o.Number
	}
}
