package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joao-fontenele/orderflow-checkout/internal/clients"
	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
	"github.com/joao-fontenele/orderflow-checkout/internal/messaging"
)

type Mailer interface {
	Send(ctx context.Context, email clients.Email) error
}

type OrderUpdater interface {
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) error
}

// NotificationHandler reacts to order events. Events arrive at least once, so
// every branch must tolerate a repeat.
type NotificationHandler struct {
	mailer Mailer
	orders OrderUpdater
	logger *slog.Logger
}

func NewNotificationHandler(mailer Mailer, orders OrderUpdater, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		mailer: mailer,
		orders: orders,
		logger: logger,
	}
}

func (h *NotificationHandler) Handle(ctx context.Context, msg messaging.Message) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		// A payload that never decodes would block the partition forever.
		h.logger.ErrorContext(ctx, "dropping undecodable order event", "error", err, "event_id", msg.ID, "key", msg.Key, "event_type", msg.Type)
		return nil
	}

	switch msg.Type {
	case domain.EventOrderCreated:
		return h.handleCreated(ctx, event)
	case domain.EventOrderCancelled:
		return h.handleCancelled(ctx, event)
	default:
		h.logger.DebugContext(ctx, "ignoring order event", "event_type", msg.Type, "order_id", event.OrderID)
		return nil
	}
}

func (h *NotificationHandler) handleCreated(ctx context.Context, event domain.OrderEvent) error {
	h.logger.InfoContext(ctx, "processing order created event", "order_id", event.OrderID, "user_id", event.UserID)

	items := 0
	for _, line := range event.Lines {
		items += line.Quantity
	}

	err := h.mailer.Send(ctx, clients.Email{
		To:      event.UserID + "@example.com",
		Subject: "Order Confirmation: " + event.OrderID,
		Body:    fmt.Sprintf("Your order %s has been confirmed with %d items. Total: %s.", event.OrderID, items, event.Total.StringFixed(2)),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to send confirmation email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send confirmation email: %w", err)
	}

	err = h.orders.UpdateStatus(ctx, event.OrderID, domain.OrderStatusConfirmed)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Already confirmed by an earlier delivery, or cancelled meanwhile.
		h.logger.InfoContext(ctx, "order no longer pending, skipping confirmation", "order_id", event.OrderID)
		return nil
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to update order status", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("update order status: %w", err)
	}

	h.logger.InfoContext(ctx, "order processing complete", "order_id", event.OrderID)
	return nil
}

func (h *NotificationHandler) handleCancelled(ctx context.Context, event domain.OrderEvent) error {
	body := fmt.Sprintf("Your order %s has been cancelled.", event.OrderID)
	if event.Reason == "reservation_expired" {
		body = fmt.Sprintf("Your order %s has been cancelled because the items could not be held. You have not been charged.", event.OrderID)
	}

	err := h.mailer.Send(ctx, clients.Email{
		To:      event.UserID + "@example.com",
		Subject: "Order Cancelled: " + event.OrderID,
		Body:    body,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to send cancellation email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send cancellation email: %w", err)
	}

	h.logger.InfoContext(ctx, "order cancellation notified", "order_id", event.OrderID, "reason", event.Reason)
	return nil
}
