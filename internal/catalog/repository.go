package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (r *PostgresStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p := &domain.Product{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, price, available, is_active, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.IsActive, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return p, nil
}

func (r *PostgresStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, price, available, is_active, updated_at
		FROM products
		WHERE is_active
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	products := []domain.Product{}
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.IsActive, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	return products, rows.Err()
}

func (r *PostgresStore) GetStock(ctx context.Context, productID string) (*domain.StockLevel, error) {
	stock := &domain.StockLevel{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, available, held
		FROM products
		WHERE id = $1
	`, productID).Scan(&stock.ProductID, &stock.Available, &stock.Held)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return stock, nil
}

func (r *PostgresStore) Reserve(ctx context.Context, res domain.StockReservation) (domain.StockReservation, error) {
	if existing, err := r.reservationByAttempt(ctx, res.AttemptID); err != nil || existing != nil {
		if existing != nil {
			return *existing, nil
		}
		return domain.StockReservation{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockReservation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// The WHERE clause is the compare half of the compare-and-decrement: two
	// concurrent reservations serialize on the product row and the loser sees
	// the already decremented value.
	result, err := tx.ExecContext(ctx, `
		UPDATE products
		SET available = available - $2, held = held + $2, updated_at = NOW()
		WHERE id = $1 AND is_active AND available >= $2
	`, res.ProductID, res.Quantity)
	if err != nil {
		return domain.StockReservation{}, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.StockReservation{}, err
	}

	if rowsAffected == 0 {
		var active bool
		err := tx.QueryRowContext(ctx, `SELECT is_active FROM products WHERE id = $1`, res.ProductID).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !active) {
			return domain.StockReservation{}, ErrProductNotFound
		}
		if err != nil {
			return domain.StockReservation{}, err
		}
		return domain.StockReservation{}, ErrInsufficientStock
	}

	res.State = domain.ReservationHeld
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations (id, attempt_id, product_id, quantity, state, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, res.ID, res.AttemptID, res.ProductID, res.Quantity, res.State, res.ExpiresAt, res.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			_ = tx.Rollback()
			existing, lookupErr := r.reservationByAttempt(ctx, res.AttemptID)
			if lookupErr != nil {
				return domain.StockReservation{}, lookupErr
			}
			if existing != nil {
				return *existing, nil
			}
		}
		return domain.StockReservation{}, fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.StockReservation{}, err
	}
	res.UpdatedAt = res.CreatedAt
	return res, nil
}

func (r *PostgresStore) GetReservation(ctx context.Context, id string) (*domain.StockReservation, error) {
	return scanReservation(r.db.QueryRowContext(ctx, reservationColumns+` WHERE id = $1`, id))
}

func (r *PostgresStore) Commit(ctx context.Context, id string, now time.Time) (domain.StockReservation, error) {
	return r.transition(ctx, id, now, commitTransition)
}

func (r *PostgresStore) Release(ctx context.Context, id string, now time.Time) (domain.StockReservation, error) {
	return r.transition(ctx, id, now, releaseTransition)
}

func (r *PostgresStore) Revert(ctx context.Context, id string, now time.Time) (domain.StockReservation, error) {
	return r.transition(ctx, id, now, revertTransition)
}

func (r *PostgresStore) ExpireHeld(ctx context.Context, now time.Time, limit int) ([]domain.StockReservation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, reservationColumns+`
		WHERE state = 'held' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, err
	}

	var expired []domain.StockReservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		expired = append(expired, *res)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	released := make([]domain.StockReservation, 0, len(expired))
	for _, res := range expired {
		next, err := applyTransition(ctx, tx, res, now, releaseTransition)
		if err != nil {
			return nil, err
		}
		released = append(released, next)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return released, nil
}

func (r *PostgresStore) transition(ctx context.Context, id string, now time.Time, fn transitionFunc) (domain.StockReservation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockReservation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := scanReservation(tx.QueryRowContext(ctx, reservationColumns+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.StockReservation{}, err
	}
	if res == nil {
		return domain.StockReservation{}, ErrReservationNotFound
	}

	next, err := applyTransition(ctx, tx, *res, now, fn)
	if err != nil {
		return next, err
	}

	if err := tx.Commit(); err != nil {
		return domain.StockReservation{}, err
	}
	return next, nil
}

func applyTransition(ctx context.Context, tx *sql.Tx, res domain.StockReservation, now time.Time, fn transitionFunc) (domain.StockReservation, error) {
	state, delta, err := fn(res)
	if err != nil {
		return res, err
	}
	if state == res.State {
		return res, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE reservations SET state = $2, updated_at = $3 WHERE id = $1
	`, res.ID, state, now); err != nil {
		return res, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE products
		SET available = available + $2, held = held + $3, updated_at = $4
		WHERE id = $1
	`, res.ProductID, delta.available, delta.held, now); err != nil {
		return res, err
	}

	res.State = state
	res.UpdatedAt = now
	return res, nil
}

func (r *PostgresStore) reservationByAttempt(ctx context.Context, attemptID string) (*domain.StockReservation, error) {
	return scanReservation(r.db.QueryRowContext(ctx, reservationColumns+` WHERE attempt_id = $1`, attemptID))
}

const reservationColumns = `
	SELECT id, attempt_id, product_id, quantity, state, expires_at, created_at, updated_at
	FROM reservations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*domain.StockReservation, error) {
	res := &domain.StockReservation{}
	err := row.Scan(&res.ID, &res.AttemptID, &res.ProductID, &res.Quantity, &res.State, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}
