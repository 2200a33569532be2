package cart

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/joao-fontenele/orderflow-checkout/internal/identity"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /cart", identity.Require(h.HandleGet))
	mux.HandleFunc("DELETE /cart", identity.Require(h.HandleClear))
	mux.HandleFunc("POST /cart/items", identity.Require(h.HandleAddItem))
	mux.HandleFunc("PUT /cart/items/{productId}", identity.Require(h.HandleUpdateItem))
	mux.HandleFunc("DELETE /cart/items/{productId}", identity.Require(h.HandleRemoveItem))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserID(r.Context())

	c, err := h.service.GetCart(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "failed to get cart", userID)
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

// HandleClear honours an If-Match header carrying the version the caller last saw.
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserID(r.Context())

	expected := AnyVersion
	if raw := strings.Trim(r.Header.Get("If-Match"), `" `); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid If-Match version")
			return
		}
		expected = v
	}

	c, err := h.service.ClearCart(r.Context(), userID, expected)
	if err != nil {
		h.writeServiceError(w, err, "failed to clear cart", userID)
		return
	}

	h.logger.Info("cart cleared", "user_id", userID, "version", c.Version)
	h.writeJSON(w, http.StatusOK, c)
}

type itemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserID(r.Context())

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		h.writeError(w, http.StatusBadRequest, "product_id is required")
		return
	}

	c, err := h.service.AddItem(r.Context(), userID, req.ProductID, req.Quantity)
	if err != nil {
		h.writeServiceError(w, err, "failed to add cart item", userID)
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

func (h *Handler) HandleUpdateItem(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserID(r.Context())

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.service.UpdateQuantity(r.Context(), userID, r.PathValue("productId"), req.Quantity)
	if err != nil {
		h.writeServiceError(w, err, "failed to update cart item", userID)
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserID(r.Context())

	c, err := h.service.RemoveItem(r.Context(), userID, r.PathValue("productId"))
	if err != nil {
		h.writeServiceError(w, err, "failed to remove cart item", userID)
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg, userID string) {
	switch {
	case errors.Is(err, ErrVersionConflict):
		h.writeError(w, http.StatusConflict, "cart changed since it was read")
	case errors.Is(err, ErrLineNotFound):
		h.writeError(w, http.StatusNotFound, "item not in cart")
	case errors.Is(err, ErrInvalidQuantity):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error(msg, "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
