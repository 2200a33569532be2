package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/joao-fontenele/orderflow-checkout/internal/checkout"
	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
	"github.com/joao-fontenele/orderflow-checkout/internal/outbox"
)

var (
	ErrOrderNotFound = errors.New("orders: order not found")

	// ErrStockNotCommitted guards pending orders the reconciler still owns.
	ErrStockNotCommitted = errors.New("orders: stock not committed yet, only cancellation is allowed")
)

const idempotencyKeyConstraint = "orders_user_idempotency_key"

type OrderRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create writes the order with its lines and reservation handles in one
// transaction. A second order for the same user and idempotency key fails
// with checkout.ErrDuplicateOrder.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, status, subtotal, shipping_cost, tax, total, shipping_address,
			idempotency_key, cart_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, order.ID, order.UserID, order.Status, order.Subtotal, order.ShippingCost, order.Tax, order.Total,
		address, order.IdempotencyKey, order.CartVersion, order.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == idempotencyKeyConstraint {
			return checkout.ErrDuplicateOrder
		}
		return err
	}

	for i, line := range order.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, line_no, product_id, name, unit_price, quantity, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, order.ID, i, line.ProductID, line.Name, line.UnitPrice, line.Quantity, line.LineTotal)
		if err != nil {
			return err
		}
	}

	for _, id := range order.Reservations {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_reservations (order_id, reservation_id) VALUES ($1, $2)
		`, order.ID, id)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	orders, err := r.query(ctx, `WHERE id = $1`, id)
	if err != nil || len(orders) == 0 {
		return nil, err
	}
	return &orders[0], nil
}

func (r *OrderRepository) GetByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error) {
	orders, err := r.query(ctx, `WHERE user_id = $1 AND idempotency_key = $2`, userID, key)
	if err != nil || len(orders) == 0 {
		return nil, err
	}
	return &orders[0], nil
}

func (r *OrderRepository) ListUncommitted(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Order, error) {
	return r.query(ctx, `
		WHERE status = 'pending' AND NOT stock_committed AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, createdBefore, limit)
}

func (r *OrderRepository) ListUncleared(ctx context.Context, limit int) ([]domain.Order, error) {
	return r.query(ctx, `
		WHERE stock_committed AND NOT cart_cleared AND status <> 'cancelled'
		ORDER BY created_at
		LIMIT $1`, limit)
}

// ListByUser returns one page of the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, page, pageSize int) (domain.OrderPage, error) {
	result := domain.OrderPage{Items: []domain.OrderSummary{}, Page: page, PageSize: pageSize}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID).Scan(&result.Total); err != nil {
		return result, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, o.total, o.status, o.created_at, COALESCE(SUM(l.quantity), 0)
		FROM orders o
		LEFT JOIN order_lines l ON l.order_id = o.id
		WHERE o.user_id = $1
		GROUP BY o.id
		ORDER BY o.created_at DESC, o.id
		LIMIT $2 OFFSET $3
	`, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return result, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var s domain.OrderSummary
		if err := rows.Scan(&s.ID, &s.Total, &s.Status, &s.CreatedAt, &s.TotalItems); err != nil {
			return result, err
		}
		result.Items = append(result.Items, s)
	}
	return result, rows.Err()
}

// UpdateStatus applies a state machine transition and enqueues the matching
// event. It returns ErrOrderNotFound or domain.ErrInvalidTransition.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error) {
	return r.transition(ctx, id, status, "")
}

// Cancel moves the order to cancelled and enqueues order.cancelled.
func (r *OrderRepository) Cancel(ctx context.Context, id, reason string) (*domain.Order, error) {
	return r.transition(ctx, id, domain.OrderStatusCancelled, reason)
}

func (r *OrderRepository) transition(ctx context.Context, id string, to domain.OrderStatus, reason string) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		from           domain.OrderStatus
		stockCommitted bool
	)
	err = tx.QueryRowContext(ctx, `SELECT status, stock_committed FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&from, &stockCommitted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	next, err := domain.Transition(from, to)
	if err != nil {
		return nil, err
	}
	if err := checkStockCommitted(from, next, stockCommitted); err != nil {
		return nil, err
	}

	now := r.now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, cancel_reason = COALESCE(NULLIF($3, ''), cancel_reason), updated_at = $4
		WHERE id = $1
	`, id, next, reason, now); err != nil {
		return nil, err
	}

	eventType := domain.EventOrderStatusChanged
	if next == domain.OrderStatusCancelled {
		eventType = domain.EventOrderCancelled
	}
	order, err := r.enqueue(ctx, tx, id, eventType, reason)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

// checkStockCommitted keeps a pending order pending until its stock is
// committed. Leaving pending any other way than cancellation would hide the
// order from ListUncommitted.
func checkStockCommitted(from, to domain.OrderStatus, stockCommitted bool) error {
	if from == domain.OrderStatusPending && to != domain.OrderStatusCancelled && !stockCommitted {
		return ErrStockNotCommitted
	}
	return nil
}

// MarkStockCommitted flags the order and enqueues order.created the first time
// it is called for an order.
func (r *OrderRepository) MarkStockCommitted(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders SET stock_committed = TRUE, updated_at = $2
		WHERE id = $1 AND NOT stock_committed
	`, id, r.now())
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	if _, err := r.enqueue(ctx, tx, id, domain.EventOrderCreated, ""); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *OrderRepository) MarkCartCleared(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders SET cart_cleared = TRUE, updated_at = $2 WHERE id = $1
	`, id, r.now())
	return err
}

func (r *OrderRepository) enqueue(ctx context.Context, tx *sql.Tx, id, eventType, reason string) (*domain.Order, error) {
	orders, err := r.queryWith(ctx, tx, `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, ErrOrderNotFound
	}
	order := &orders[0]

	event := domain.OrderEvent{
		Type:      eventType,
		OrderID:   order.ID,
		UserID:    order.UserID,
		Status:    order.Status,
		Total:     order.Total,
		Reason:    reason,
		Timestamp: r.now(),
	}
	if eventType == domain.EventOrderCreated {
		event.Lines = order.Lines
	}

	if _, err := outbox.Insert(ctx, tx, order.ID, eventType, event); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return order, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *OrderRepository) query(ctx context.Context, where string, args ...any) ([]domain.Order, error) {
	return r.queryWith(ctx, r.db, where, args...)
}

// queryWith loads orders matching where, then their lines and reservations
// with one query each.
func (r *OrderRepository) queryWith(ctx context.Context, q queryer, where string, args ...any) ([]domain.Order, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, status, subtotal, shipping_cost, tax, total, shipping_address,
			idempotency_key, cart_version, stock_committed, cart_cleared, created_at, updated_at
		FROM orders `+where, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var orders []domain.Order
	for rows.Next() {
		var (
			o       domain.Order
			address []byte
		)
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.Subtotal, &o.ShippingCost, &o.Tax, &o.Total, &address,
			&o.IdempotencyKey, &o.CartVersion, &o.StockCommitted, &o.CartCleared, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
			return nil, fmt.Errorf("decode shipping address: %w", err)
		}
		o.Lines = []domain.OrderLine{}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	byID := make(map[string]*domain.Order, len(orders))
	ids := make([]string, len(orders))
	for i := range orders {
		byID[orders[i].ID] = &orders[i]
		ids[i] = orders[i].ID
	}

	lineRows, err := q.QueryContext(ctx, `
		SELECT order_id, product_id, name, unit_price, quantity, line_total
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, line_no
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = lineRows.Close() }()

	for lineRows.Next() {
		var (
			orderID string
			line    domain.OrderLine
		)
		if err := lineRows.Scan(&orderID, &line.ProductID, &line.Name, &line.UnitPrice, &line.Quantity, &line.LineTotal); err != nil {
			return nil, err
		}
		byID[orderID].Lines = append(byID[orderID].Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	resRows, err := q.QueryContext(ctx, `
		SELECT order_id, reservation_id
		FROM order_reservations
		WHERE order_id = ANY($1)
		ORDER BY order_id, reservation_id
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resRows.Close() }()

	for resRows.Next() {
		var orderID, reservationID string
		if err := resRows.Scan(&orderID, &reservationID); err != nil {
			return nil, err
		}
		byID[orderID].Reservations = append(byID[orderID].Reservations, reservationID)
	}
	return orders, resRows.Err()
}
