package checkout

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("checkout")
	meter  = otel.Meter("checkout")
)

type instruments struct {
	attempts      metric.Int64Counter
	compensations metric.Int64Counter
	duration      metric.Float64Histogram
	reconciled    metric.Int64Counter
}

func newInstruments() (*instruments, error) {
	attempts, err := meter.Int64Counter("checkout.attempts",
		metric.WithDescription("Checkout requests by outcome"))
	if err != nil {
		return nil, err
	}

	compensations, err := meter.Int64Counter("checkout.compensations",
		metric.WithDescription("Sagas that released reservations after a failed step"))
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("checkout.duration",
		metric.WithDescription("Checkout saga duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	reconciled, err := meter.Int64Counter("checkout.reconciled",
		metric.WithDescription("Orders settled by the reconciliation sweep by action"))
	if err != nil {
		return nil, err
	}

	return &instruments{
		attempts:      attempts,
		compensations: compensations,
		duration:      duration,
		reconciled:    reconciled,
	}, nil
}
