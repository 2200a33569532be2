package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/joao-fontenele/orderflow-checkout/internal/checkout"
	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
	"github.com/joao-fontenele/orderflow-checkout/internal/identity"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	defaultPageSize      = 20
	maxPageSize          = 100
)

type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (checkout.Result, error)
}

// Store is the read and transition surface of the order repository.
type Store interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string, page, pageSize int) (domain.OrderPage, error)
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error)
}

type Handler struct {
	checkout Checkouter
	store    Store
	logger   *slog.Logger
}

func NewHandler(checkout Checkouter, store Store, logger *slog.Logger) *Handler {
	return &Handler{
		checkout: checkout,
		store:    store,
		logger:   logger,
	}
}

// Register mounts the order routes on mux. Status transitions are an internal
// endpoint driven by the worker and carry no user identity.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /checkout", identity.Require(h.HandleCheckout))
	mux.HandleFunc("GET /orders", identity.Require(h.HandleList))
	mux.HandleFunc("GET /orders/{id}", identity.Require(h.HandleGet))
	mux.HandleFunc("PATCH /orders/{id}/status", h.HandleUpdateStatus)
}

type checkoutRequest struct {
	IdempotencyKey  string                 `json:"idempotency_key"`
	ShippingAddress domain.ShippingAddress `json:"shipping_address"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Reason    string `json:"reason,omitempty"`
	ProductID string `json:"product_id,omitempty"`
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserID(r.Context())

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}
	if key == "" {
		h.writeError(w, http.StatusBadRequest, "idempotency key is required")
		return
	}

	result, err := h.checkout.Checkout(r.Context(), checkout.Request{
		UserID:          userID,
		IdempotencyKey:  key,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		h.writeCheckoutError(w, err, userID, key)
		return
	}

	if result.Replayed {
		h.logger.Info("checkout replayed", "order_id", result.Order.ID, "user_id", userID, "idempotency_key", key)
		h.writeJSON(w, http.StatusOK, result.Order)
		return
	}

	h.logger.Info("order created", "order_id", result.Order.ID, "user_id", userID, "total", result.Order.Total.StringFixed(2))
	h.writeJSON(w, http.StatusCreated, result.Order)
}

func (h *Handler) writeCheckoutError(w http.ResponseWriter, err error, userID, key string) {
	resp := errorResponse{Error: err.Error()}
	var fe *checkout.FailureError
	if errors.As(err, &fe) {
		resp.Reason = string(fe.Reason)
		resp.ProductID = fe.ProductID
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, checkout.ErrCheckoutInProgress):
		status = http.StatusConflict
	case errors.Is(err, checkout.ErrIdempotencyKeyReused):
		status = http.StatusUnprocessableEntity
		resp.Reason = "idempotency_key_reused"
	case errors.Is(err, checkout.ErrValidation),
		errors.Is(err, checkout.ErrInsufficientStock),
		errors.Is(err, checkout.ErrProductNotFound),
		errors.Is(err, checkout.ErrProductUnavailable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, checkout.ErrCheckoutUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("checkout failed", "error", err, "user_id", userID, "idempotency_key", key)
		if status == http.StatusInternalServerError {
			resp.Error = "internal server error"
		}
	} else {
		h.logger.Info("checkout rejected", "error", err, "user_id", userID, "idempotency_key", key)
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserID(r.Context())

	page, ok := queryInt(r, "page", 1)
	if !ok || page < 1 {
		h.writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	pageSize, ok := queryInt(r, "page_size", defaultPageSize)
	if !ok || pageSize < 1 || pageSize > maxPageSize {
		h.writeError(w, http.StatusBadRequest, "page_size must be between 1 and 100")
		return
	}

	result, err := h.store.ListByUser(r.Context(), userID, page, pageSize)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserID(r.Context())
	id := r.PathValue("id")

	order, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Another user's order is indistinguishable from a missing one.
	if order == nil || order.UserID != userID {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.store.UpdateStatus(r.Context(), id, req.Status)
	switch {
	case errors.Is(err, ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, ErrStockNotCommitted):
		h.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to update order status", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("order status updated", "order_id", order.ID, "status", order.Status)
	h.writeJSON(w, http.StatusOK, order)
}

func queryInt(r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	return v, err == nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}
