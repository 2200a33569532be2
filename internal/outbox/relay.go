package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/joao-fontenele/orderflow-checkout/internal/messaging"
)

const (
	DefaultPollInterval = time.Second
	relayBatchSize      = 100
)

type Publisher interface {
	Publish(ctx context.Context, msg messaging.Message) error
}

// Relay polls unsent outbox rows and publishes them in id order. Rows are
// claimed with SKIP LOCKED so several order service replicas can run it.
// Delivery is at least once.
type Relay struct {
	db        *sql.DB
	publisher Publisher
	interval  time.Duration
	logger    *slog.Logger
}

func NewRelay(db *sql.DB, publisher Publisher, interval time.Duration, logger *slog.Logger) *Relay {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Relay{db: db, publisher: publisher, interval: interval, logger: logger}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "outbox relay failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// RelayOnce publishes one batch and returns how many rows were sent. It stops
// at the first publish failure so later events for the same order are not
// sent ahead of it.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	records, err := fetchPending(ctx, tx, relayBatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, rec := range records {
		if err := r.publish(ctx, rec); err != nil {
			r.logger.ErrorContext(ctx, "failed to publish outbox event",
				"error", err, "event_id", rec.EventID, "event_type", rec.EventType, "aggregate_id", rec.AggregateID)
			if _, markErr := tx.ExecContext(ctx, `
				UPDATE outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1
			`, rec.ID, err.Error()); markErr != nil {
				return sent, markErr
			}
			break
		}

		if _, err := tx.ExecContext(ctx, `UPDATE outbox SET sent_at = NOW() WHERE id = $1`, rec.ID); err != nil {
			return sent, err
		}
		sent++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if sent > 0 {
		r.logger.InfoContext(ctx, "outbox events published", "count", sent)
	}
	return sent, nil
}

func (r *Relay) publish(ctx context.Context, rec Record) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(rec.TraceContext))
	return r.publisher.Publish(ctx, messaging.Message{
		ID:      rec.EventID,
		Key:     rec.AggregateID,
		Type:    rec.EventType,
		Payload: rec.Payload,
	})
}

func fetchPending(ctx context.Context, tx *sql.Tx, limit int) ([]Record, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_id, aggregate_id, event_type, payload, trace_context, attempts, created_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var (
			rec          Record
			payload      []byte
			traceContext []byte
		)
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.AggregateID, &rec.EventType, &payload, &traceContext, &rec.Attempts, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Payload = payload
		if len(traceContext) > 0 {
			if err := json.Unmarshal(traceContext, &rec.TraceContext); err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
