// Package outbox stores domain events in the same transaction as the state
// change that produced them and relays them to Kafka afterwards.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type Record struct {
	ID           int64
	EventID      string
	AggregateID  string
	EventType    string
	Payload      json.RawMessage
	TraceContext map[string]string
	Attempts     int
	CreatedAt    time.Time
}

// Execer is satisfied by *sql.Tx; Insert is meant to run inside the caller's transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Insert records an event for aggregateID. The current trace context is kept
// with the row so the relay can continue the trace.
func Insert(ctx context.Context, tx Execer, aggregateID, eventType string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	traceContext, err := json.Marshal(carrier)
	if err != nil {
		return "", err
	}

	eventID := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (event_id, aggregate_id, event_type, payload, trace_context)
		VALUES ($1, $2, $3, $4, $5)
	`, eventID, aggregateID, eventType, data, traceContext)
	if err != nil {
		return "", err
	}
	return eventID, nil
}
