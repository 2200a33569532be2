package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/joao-fontenele/orderflow-checkout/internal/catalog"
	"github.com/joao-fontenele/orderflow-checkout/internal/config"
	"github.com/joao-fontenele/orderflow-checkout/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	postgresURL, err := config.Required("POSTGRES_URL")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ttl, err := config.Duration("RESERVATION_TTL", catalog.DefaultReservationTTL)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	sweepInterval, err := config.Duration("RESERVATION_SWEEP_INTERVAL", 30*time.Second)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	providers, err := telemetry.Setup(ctx, "catalog", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = providers.Shutdown(context.Background()) }()

	db, err := telemetry.OpenDB(postgresURL, "catalog")
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	service, err := catalog.NewService(catalog.ServiceDeps{
		Store:  catalog.NewPostgresStore(db),
		TTL:    ttl,
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to create catalog service", "error", err)
		os.Exit(1)
	}

	go service.RunSweeper(ctx, sweepInterval)

	mux := http.NewServeMux()
	catalog.NewHandler(service, logger).Register(mux)
	mux.Handle("GET /metrics", providers.MetricsHandler)

	port := config.String("PORT", "8082")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.ServerHandler(mux, "catalog"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting catalog service", "port", port, "reservation_ttl", ttl)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
