package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-checkout/internal/checkout"
	"github.com/joao-fontenele/orderflow-checkout/internal/clients"
	"github.com/joao-fontenele/orderflow-checkout/internal/config"
	"github.com/joao-fontenele/orderflow-checkout/internal/idempotency"
	"github.com/joao-fontenele/orderflow-checkout/internal/messaging"
	"github.com/joao-fontenele/orderflow-checkout/internal/orders"
	"github.com/joao-fontenele/orderflow-checkout/internal/outbox"
	"github.com/joao-fontenele/orderflow-checkout/internal/telemetry"
)

type settings struct {
	port               string
	postgresURL        string
	kafkaBrokers       []string
	cartURL            string
	catalogURL         string
	callTimeout        time.Duration
	maxRetries         int
	sagaTimeout        time.Duration
	taxRate            decimal.Decimal
	shippingCost       decimal.Decimal
	reconcileInterval  time.Duration
	reconcileGrace     time.Duration
	retention          time.Duration
	outboxPollInterval time.Duration
}

func loadSettings() (settings, error) {
	s := settings{
		port:         config.String("PORT", "8081"),
		kafkaBrokers: config.List("KAFKA_BROKERS"),
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	s.postgresURL, err = config.Required("POSTGRES_URL")
	collect(err)
	s.cartURL, err = config.ServiceURL("CART_SERVICE_URL")
	collect(err)
	s.catalogURL, err = config.ServiceURL("CATALOG_SERVICE_URL")
	collect(err)
	s.callTimeout, err = config.Duration("CHECKOUT_CALL_TIMEOUT", clients.DefaultTimeout)
	collect(err)
	s.maxRetries, err = config.Int("CHECKOUT_MAX_RETRIES", clients.DefaultMaxRetries)
	collect(err)
	s.sagaTimeout, err = config.Duration("CHECKOUT_SAGA_TIMEOUT", checkout.DefaultSagaTimeout)
	collect(err)
	s.taxRate, err = config.Decimal("TAX_RATE", checkout.DefaultTaxRate)
	collect(err)
	s.shippingCost, err = config.Decimal("SHIPPING_COST", decimal.Zero)
	collect(err)
	s.reconcileInterval, err = config.Duration("RECONCILE_INTERVAL", 30*time.Second)
	collect(err)
	s.reconcileGrace, err = config.Duration("RECONCILE_GRACE", checkout.DefaultReconcileGrace)
	collect(err)
	s.retention, err = config.Duration("IDEMPOTENCY_RETENTION", idempotency.DefaultRetention)
	collect(err)
	s.outboxPollInterval, err = config.Duration("OUTBOX_POLL_INTERVAL", outbox.DefaultPollInterval)
	collect(err)

	if s.reconcileGrace <= s.sagaTimeout {
		errs = append(errs, errors.New("RECONCILE_GRACE must exceed CHECKOUT_SAGA_TIMEOUT"))
	}
	return s, errors.Join(errs...)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := loadSettings()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	providers, err := telemetry.Setup(ctx, "orders", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = providers.Shutdown(context.Background()) }()

	db, err := telemetry.OpenDB(cfg.postgresURL, "orders")
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	httpClient := telemetry.NewHTTPClient(0)
	clientOpts := clients.Options{
		Timeout:    cfg.callTimeout,
		MaxRetries: cfg.maxRetries,
		HTTPClient: httpClient,
		Logger:     logger,
	}
	cartClient := clients.NewCartClient(cfg.cartURL, clientOpts)
	catalogClient := clients.NewCatalogClient(cfg.catalogURL, clientOpts)

	repo := orders.NewOrderRepository(db)
	idem := idempotency.NewPostgresStore(db, cfg.retention)

	orchestrator, err := checkout.NewOrchestrator(checkout.Deps{
		Cart:        cartClient,
		Catalog:     catalogClient,
		Stock:       catalogClient,
		Orders:      repo,
		Idempotency: idem,
		Pricing:     checkout.Pricing{TaxRate: cfg.taxRate, ShippingCost: cfg.shippingCost},
		SagaTimeout: cfg.sagaTimeout,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to create checkout orchestrator", "error", err)
		os.Exit(1)
	}

	reconciler, err := checkout.NewReconciler(checkout.ReconcilerDeps{
		Cart:        cartClient,
		Stock:       catalogClient,
		Orders:      repo,
		Idempotency: idem,
		Grace:       cfg.reconcileGrace,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to create reconciler", "error", err)
		os.Exit(1)
	}

	go reconciler.Run(ctx, cfg.reconcileInterval)
	go idempotency.RunCleanup(ctx, idem, time.Hour, logger)

	if len(cfg.kafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.kafkaBrokers, messaging.TopicOrderEvents)
		defer func() { _ = producer.Close() }()
		go outbox.NewRelay(db, producer, cfg.outboxPollInterval, logger).Run(ctx)
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events stay in the outbox")
	}

	handler := orders.NewHandler(orchestrator, repo, logger)

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("GET /metrics", providers.MetricsHandler)

	server := &http.Server{
		Addr:    ":" + cfg.port,
		Handler: telemetry.ServerHandler(mux, "orders"),
		// Checkout may run the whole saga inside one request.
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.sagaTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("starting orders service", "port", cfg.port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.sagaTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
