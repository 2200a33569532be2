package cart

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
)

var (
	ErrVersionConflict = errors.New("cart: version conflict")
	ErrLineNotFound    = errors.New("cart: line not found")
	ErrInvalidQuantity = errors.New("cart: quantity must be between 1 and 99")
)

// AnyVersion makes Clear unconditional.
const AnyVersion int64 = -1

type Repository interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	AddItem(ctx context.Context, userID, productID string, quantity int, now time.Time) (domain.Cart, error)
	SetQuantity(ctx context.Context, userID, productID string, quantity int, now time.Time) (domain.Cart, error)
	RemoveItem(ctx context.Context, userID, productID string, now time.Time) (domain.Cart, error)
	Clear(ctx context.Context, userID string, expectedVersion int64, now time.Time) (domain.Cart, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns an empty cart at version 0 for users that never had one.
func (r *PostgresRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	return loadCart(ctx, r.db, userID)
}

func (r *PostgresRepository) AddItem(ctx context.Context, userID, productID string, quantity int, now time.Time) (domain.Cart, error) {
	return r.mutate(ctx, userID, now, func(tx *sql.Tx, _ int64) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cart_lines (user_id, product_id, quantity, added_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, product_id)
			DO UPDATE SET quantity = LEAST(cart_lines.quantity + EXCLUDED.quantity, $5)
		`, userID, productID, quantity, now, domain.MaxLineQuantity)
		return err
	})
}

func (r *PostgresRepository) SetQuantity(ctx context.Context, userID, productID string, quantity int, now time.Time) (domain.Cart, error) {
	return r.mutate(ctx, userID, now, func(tx *sql.Tx, _ int64) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE cart_lines SET quantity = $3 WHERE user_id = $1 AND product_id = $2
		`, userID, productID, quantity)
		if err != nil {
			return err
		}
		return requireRow(result)
	})
}

func (r *PostgresRepository) RemoveItem(ctx context.Context, userID, productID string, now time.Time) (domain.Cart, error) {
	return r.mutate(ctx, userID, now, func(tx *sql.Tx, _ int64) error {
		result, err := tx.ExecContext(ctx, `
			DELETE FROM cart_lines WHERE user_id = $1 AND product_id = $2
		`, userID, productID)
		if err != nil {
			return err
		}
		return requireRow(result)
	})
}

// Clear empties the cart if it is still at expectedVersion. An empty cart is
// cleared trivially whatever its version.
func (r *PostgresRepository) Clear(ctx context.Context, userID string, expectedVersion int64, now time.Time) (domain.Cart, error) {
	return r.mutate(ctx, userID, now, func(tx *sql.Tx, version int64) error {
		var lines int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cart_lines WHERE user_id = $1`, userID).Scan(&lines); err != nil {
			return err
		}
		if lines == 0 {
			return errNoChange
		}
		if expectedVersion != AnyVersion && version != expectedVersion {
			return ErrVersionConflict
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE user_id = $1`, userID)
		return err
	})
}

// errNoChange commits nothing and returns the current cart.
var errNoChange = errors.New("cart: no change")

// mutate runs fn with the cart row locked and bumps the version when fn succeeds.
func (r *PostgresRepository) mutate(ctx context.Context, userID string, now time.Time, fn func(tx *sql.Tx, version int64) error) (domain.Cart, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Cart{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO carts (user_id, version, updated_at) VALUES ($1, 0, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, now); err != nil {
		return domain.Cart{}, err
	}

	var version int64
	if err := tx.QueryRowContext(ctx, `SELECT version FROM carts WHERE user_id = $1 FOR UPDATE`, userID).Scan(&version); err != nil {
		return domain.Cart{}, err
	}

	if err := fn(tx, version); err != nil {
		if errors.Is(err, errNoChange) {
			return loadCart(ctx, tx, userID)
		}
		return domain.Cart{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE carts SET version = version + 1, updated_at = $2 WHERE user_id = $1
	`, userID, now); err != nil {
		return domain.Cart{}, err
	}

	c, err := loadCart(ctx, tx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Cart{}, err
	}
	return c, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadCart(ctx context.Context, q querier, userID string) (domain.Cart, error) {
	c := domain.Cart{UserID: userID, Lines: []domain.CartLine{}}

	err := q.QueryRowContext(ctx, `SELECT version, updated_at FROM carts WHERE user_id = $1`, userID).
		Scan(&c.Version, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return domain.Cart{}, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM cart_lines
		WHERE user_id = $1
		ORDER BY added_at, product_id
	`, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.ProductID, &line.Quantity); err != nil {
			return domain.Cart{}, err
		}
		c.Lines = append(c.Lines, line)
	}
	return c, rows.Err()
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLineNotFound
	}
	return nil
}
