package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	appcart "github.com/hamzaMissewi/storefront-checkout/internal/application/cart"
	"github.com/hamzaMissewi/storefront-checkout/internal/application/checkout"
	apppayment "github.com/hamzaMissewi/storefront-checkout/internal/application/payment"
	"github.com/hamzaMissewi/storefront-checkout/internal/application/pricing"
	"github.com/hamzaMissewi/storefront-checkout/internal/config"
	dompayment "github.com/hamzaMissewi/storefront-checkout/internal/domain/payment"
	"github.com/hamzaMissewi/storefront-checkout/internal/infrastructure/id"
	"github.com/hamzaMissewi/storefront-checkout/internal/infrastructure/memory"
	"github.com/hamzaMissewi/storefront-checkout/internal/infrastructure/outbox"
	"github.com/hamzaMissewi/storefront-checkout/internal/infrastructure/paymentsim"
	"github.com/hamzaMissewi/storefront-checkout/internal/infrastructure/recovery"
	"github.com/hamzaMissewi/storefront-checkout/internal/infrastructure/sequence"
	stripegw "github.com/hamzaMissewi/storefront-checkout/internal/infrastructure/stripe"
	"github.com/hamzaMissewi/storefront-checkout/internal/pkg/logging"
	"github.com/hamzaMissewi/storefront-checkout/internal/pkg/metrics"
	httppresentation "github.com/hamzaMissewi/storefront-checkout/internal/presentation/http"
)

func main() {
	cfg := config.FromEnv()

	baseLogger := logging.MustNewLogger(cfg.ServiceName, cfg.Env)
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	systemLogger := logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	met := metrics.New(registry)

	products := memory.NewProductStore()
	seedCatalog(products)
	orders := memory.NewOrderRepository()
	carts := memory.NewCartRepository()

	journal, err := recovery.OpenPebble(cfg.RecoveryDir)
	if err != nil {
		systemLogger.Fatal("recovery_journal_open_failed",
			zap.String("dir", cfg.RecoveryDir),
			zap.Error(err),
		)
	}
	defer func() { _ = journal.Close() }()
	reportPendingRecoveries(systemLogger, journal)

	bus := outbox.NewBus(baseLogger)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	appcart.NewReconciler(carts, baseLogger).Register(bus)

	coordinator := apppayment.NewCoordinator(gatewayFromConfig(cfg, systemLogger), cfg.GatewayTimeout, cfg.Currency, met)

	svc := checkout.NewService(
		products, products, orders,
		pricing.Policy{
			TaxRateBps:       cfg.TaxRateBps,
			FreeShippingOver: cfg.FreeShippingOver,
			ShippingFee:      cfg.ShippingFee,
		},
		coordinator, journal, bus,
		id.NewUUIDGenerator(),
		sequence.NewCounter(cfg.OrderNumberPrefix, cfg.OrderNumberWidth, 0),
		cfg.Currency, met,
	)

	handler := httppresentation.NewHandler(svc, orders, products, carts, baseLogger, met)

	root := chi.NewRouter()
	root.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	root.Mount("/", handler.Router())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		systemLogger.Info("http_server_start",
			zap.String("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error",
				zap.Error(err),
			)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error",
			zap.Error(err),
		)
	} else {
		systemLogger.Info("http_server_stopped")
	}
}

// gatewayFromConfig picks the real Stripe gateway when a secret key is
// configured and falls back to the deterministic simulator otherwise.
func gatewayFromConfig(cfg config.Config, logger *zap.Logger) dompayment.Gateway {
	if cfg.StripeAPIKey != "" {
		logger.Info("payment_gateway_selected", zap.String("gateway", "stripe"))
		return stripegw.NewGateway(cfg.StripeAPIKey)
	}
	logger.Info("payment_gateway_selected", zap.String("gateway", "simulator"))
	return paymentsim.New(paymentsim.ModeApprove)
}

// reportPendingRecoveries surfaces orders that were authorized but never
// persisted, so an operator can reconcile them against the gateway.
func reportPendingRecoveries(logger *zap.Logger, journal recovery.Journal) {
	pending, err := journal.Pending(context.Background())
	if err != nil {
		logger.Error("recovery_journal_scan_failed", zap.Error(err))
		return
	}
	for _, rec := range pending {
		logger.Warn("recovery_record_pending",
			zap.String("payment_idempotency_key", rec.IdempotencyKey),
			zap.String("order_number", rec.OrderNumber),
			zap.String("gateway_ref", rec.GatewayRef),
			zap.Int64("amount", rec.Amount),
		)
	}
	if len(pending) == 0 {
		logger.Info("recovery_journal_clean")
	}
}

func seedCatalog(store *memory.ProductStore) {
	for _, p := range memory.DemoCatalog() {
		store.Put(p)
	}
}
