package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderflow-checkout/internal/clients"
	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
	"github.com/joao-fontenele/orderflow-checkout/internal/messaging"
)

type fakeMailer struct {
	sent []clients.Email
	err  error
}

func (f *fakeMailer) Send(_ context.Context, email clients.Email) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, email)
	return nil
}

type fakeOrders struct {
	updates []domain.OrderStatus
	err     error
}

func (f *fakeOrders) UpdateStatus(_ context.Context, _ string, status domain.OrderStatus) error {
	f.updates = append(f.updates, status)
	return f.err
}

func eventMessage(t *testing.T, event domain.OrderEvent) messaging.Message {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return messaging.Message{Key: event.OrderID, Type: event.Type, Payload: payload}
}

func newTestHandler(mailer *fakeMailer, orders *fakeOrders) *NotificationHandler {
	return NewNotificationHandler(mailer, orders, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func createdEvent() domain.OrderEvent {
	return domain.OrderEvent{
		Type:    domain.EventOrderCreated,
		OrderID: "order-1",
		UserID:  "user-1",
		Status:  domain.OrderStatusPending,
		Lines:   []domain.OrderLine{{ProductID: "sku-1", Quantity: 2}, {ProductID: "sku-2", Quantity: 1}},
		Total:   decimal.RequireFromString("21"),
	}
}

func TestHandle_OrderCreated(t *testing.T) {
	mailer, orders := &fakeMailer{}, &fakeOrders{}
	h := newTestHandler(mailer, orders)

	require.NoError(t, h.Handle(context.Background(), eventMessage(t, createdEvent())))

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "user-1@example.com", mailer.sent[0].To)
	assert.Contains(t, mailer.sent[0].Body, "3 items")
	assert.Contains(t, mailer.sent[0].Body, "21.00")
	assert.Equal(t, []domain.OrderStatus{domain.OrderStatusConfirmed}, orders.updates)
}

func TestHandle_RedeliveredCreatedIsAcked(t *testing.T) {
	orders := &fakeOrders{err: domain.ErrInvalidTransition}
	h := newTestHandler(&fakeMailer{}, orders)

	assert.NoError(t, h.Handle(context.Background(), eventMessage(t, createdEvent())))
}

func TestHandle_FailuresAreRetried(t *testing.T) {
	h := newTestHandler(&fakeMailer{err: errors.New("email down")}, &fakeOrders{})
	assert.Error(t, h.Handle(context.Background(), eventMessage(t, createdEvent())))

	h = newTestHandler(&fakeMailer{}, &fakeOrders{err: errors.New("orders down")})
	assert.Error(t, h.Handle(context.Background(), eventMessage(t, createdEvent())))
}

func TestHandle_OrderCancelled(t *testing.T) {
	mailer, orders := &fakeMailer{}, &fakeOrders{}
	h := newTestHandler(mailer, orders)

	event := domain.OrderEvent{Type: domain.EventOrderCancelled, OrderID: "order-1", UserID: "user-1", Reason: "reservation_expired"}
	require.NoError(t, h.Handle(context.Background(), eventMessage(t, event)))

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "Order Cancelled: order-1", mailer.sent[0].Subject)
	assert.Contains(t, mailer.sent[0].Body, "not been charged")
	assert.Empty(t, orders.updates)
}

func TestHandle_IgnoresOtherEvents(t *testing.T) {
	mailer, orders := &fakeMailer{}, &fakeOrders{}
	h := newTestHandler(mailer, orders)

	event := domain.OrderEvent{Type: domain.EventOrderStatusChanged, OrderID: "order-1", Status: domain.OrderStatusShipped}
	require.NoError(t, h.Handle(context.Background(), eventMessage(t, event)))
	require.NoError(t, h.Handle(context.Background(), messaging.Message{Type: domain.EventOrderCreated, Payload: []byte("{")}))

	assert.Empty(t, mailer.sent)
	assert.Empty(t, orders.updates)
}
