package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type PostgresStore struct {
	db        *sql.DB
	retention time.Duration
}

func NewPostgresStore(db *sql.DB, retention time.Duration) *PostgresStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &PostgresStore{db: db, retention: retention}
}

// Begin claims the key with a single statement. The conflict clause only takes
// over a row whose retention has lapsed, so concurrent callers serialize on the
// primary key and every loser reads the winner's row.
func (s *PostgresStore) Begin(ctx context.Context, key, userID, fingerprint string, now time.Time) (Admission, error) {
	now = now.UTC()

	record, err := scanRecord(s.db.QueryRowContext(ctx, `
		INSERT INTO idempotency_keys (user_id, key, fingerprint, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, 'in_progress', $4, $4, $5)
		ON CONFLICT (user_id, key) DO UPDATE
		SET fingerprint = EXCLUDED.fingerprint,
			status = 'in_progress',
			order_id = NULL,
			reason = NULL,
			product_id = NULL,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at <= EXCLUDED.created_at
		RETURNING `+recordColumns,
		userID, key, fingerprint, now, now.Add(s.retention)))
	if err != nil {
		return Admission{}, err
	}
	if record != nil {
		return Admission{State: Admitted, Record: *record}, nil
	}

	existing, err := s.Get(ctx, key, userID)
	if err != nil {
		return Admission{}, err
	}
	if existing == nil {
		return Admission{}, errors.New("idempotency: key vanished during begin")
	}
	return admissionFor(*existing, fingerprint)
}

func (s *PostgresStore) Resolve(ctx context.Context, key, userID string, outcome Outcome, now time.Time) (Record, error) {
	record, err := scanRecord(s.db.QueryRowContext(ctx, `
		UPDATE idempotency_keys
		SET status = $3, order_id = $4, reason = $5, product_id = $6, updated_at = $7
		WHERE user_id = $1 AND key = $2 AND status = 'in_progress'
		RETURNING `+recordColumns,
		userID, key, outcome.Status, nullString(outcome.OrderID), nullString(outcome.Reason),
		nullString(outcome.ProductID), now.UTC()))
	if err != nil {
		return Record{}, err
	}
	if record == nil {
		return Record{}, ErrNotInProgress
	}
	return *record, nil
}

func (s *PostgresStore) Get(ctx context.Context, key, userID string) (*Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM idempotency_keys
		WHERE user_id = $1 AND key = $2
	`, userID, key))
}

func (s *PostgresStore) ListInProgress(ctx context.Context, startedBefore time.Time, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM idempotency_keys
		WHERE status = 'in_progress' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, startedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE ctid IN (
			SELECT ctid FROM idempotency_keys
			WHERE expires_at <= $1
			LIMIT $2
		)
	`, now.UTC(), limit)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

const recordColumns = `user_id, key, fingerprint, status, order_id, reason, product_id, created_at, updated_at, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r         Record
		orderID   sql.NullString
		reason    sql.NullString
		productID sql.NullString
	)
	err := row.Scan(&r.UserID, &r.Key, &r.Fingerprint, &r.Outcome.Status, &orderID, &reason, &productID,
		&r.CreatedAt, &r.UpdatedAt, &r.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.Outcome.OrderID = orderID.String
	r.Outcome.Reason = reason.String
	r.Outcome.ProductID = productID.String
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
