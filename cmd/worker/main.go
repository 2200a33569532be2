package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/orderflow-checkout/internal/clients"
	"github.com/joao-fontenele/orderflow-checkout/internal/config"
	"github.com/joao-fontenele/orderflow-checkout/internal/messaging"
	"github.com/joao-fontenele/orderflow-checkout/internal/telemetry"
	"github.com/joao-fontenele/orderflow-checkout/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	brokers := config.List("KAFKA_BROKERS")
	if len(brokers) == 0 {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}

	emailServiceURL, emailErr := config.ServiceURL("EMAIL_SERVICE_URL")
	ordersServiceURL, ordersErr := config.ServiceURL("ORDERS_SERVICE_URL")
	callTimeout, timeoutErr := config.Duration("CALL_TIMEOUT", 5*time.Second)
	if err := errors.Join(emailErr, ordersErr, timeoutErr); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := telemetry.Setup(ctx, "worker", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = providers.Shutdown(context.Background()) }()

	opts := clients.Options{
		Timeout:    callTimeout,
		MaxRetries: clients.DefaultMaxRetries,
		HTTPClient: telemetry.NewHTTPClient(0),
		Logger:     logger,
	}
	notificationHandler := worker.NewNotificationHandler(
		clients.NewEmailClient(emailServiceURL, opts),
		clients.NewOrdersClient(ordersServiceURL, opts),
		logger,
	)

	consumer := messaging.NewConsumer(brokers, messaging.TopicOrderEvents, "notification-worker",
		messaging.WithLogger(logger))
	defer func() { _ = consumer.Close() }()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting notification worker", "brokers", brokers, "topic", messaging.TopicOrderEvents)

	if err := consumer.Consume(ctx, notificationHandler.Handle); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
