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

	"github.com/joao-fontenele/orderflow-checkout/internal/config"
	"github.com/joao-fontenele/orderflow-checkout/internal/gateway"
	"github.com/joao-fontenele/orderflow-checkout/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ordersServiceURL, ordersErr := config.ServiceURL("ORDERS_SERVICE_URL")
	catalogServiceURL, catalogErr := config.ServiceURL("CATALOG_SERVICE_URL")
	cartServiceURL, cartErr := config.ServiceURL("CART_SERVICE_URL")
	if err := errors.Join(ordersErr, catalogErr, cartErr); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	upstreamTimeout, err := config.Duration("UPSTREAM_TIMEOUT", 35*time.Second)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	providers, err := telemetry.Setup(ctx, "gateway", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = providers.Shutdown(ctx) }()

	httpClient := telemetry.NewHTTPClient(upstreamTimeout)

	handler := gateway.NewHandler(
		gateway.NewServiceProxy(ordersServiceURL, httpClient),
		gateway.NewServiceProxy(catalogServiceURL, httpClient),
		gateway.NewServiceProxy(cartServiceURL, httpClient),
		logger,
	)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", providers.MetricsHandler)
	mux.Handle("/", handler.Routes())

	port := config.String("PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.ServerHandler(mux, "gateway"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: upstreamTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("starting gateway service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
