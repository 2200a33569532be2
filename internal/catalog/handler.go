package catalog

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
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

// Register mounts the catalog routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /products", h.HandleListProducts)
	mux.HandleFunc("GET /products/{id}", h.HandleGetProduct)
	mux.HandleFunc("GET /products/{id}/stock", h.HandleGetStock)
	mux.HandleFunc("POST /reservations", h.HandleReserve)
	mux.HandleFunc("GET /reservations/{id}", h.HandleGetReservation)
	mux.HandleFunc("POST /reservations/{id}/commit", h.HandleCommit)
	mux.HandleFunc("POST /reservations/{id}/release", h.HandleRelease)
	mux.HandleFunc("POST /reservations/{id}/revert", h.HandleRevert)
}

func (h *Handler) HandleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) HandleGetProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to get product", "product_id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, product)
}

func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stock, err := h.service.GetStock(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to get stock", "product_id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, stock)
}

type reserveRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	AttemptID string `json:"attempt_id"`
}

func (h *Handler) HandleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" || req.AttemptID == "" {
		h.writeError(w, http.StatusBadRequest, "product_id and attempt_id are required")
		return
	}

	res, err := h.service.Reserve(r.Context(), req.ProductID, req.Quantity, req.AttemptID)
	if err != nil {
		h.writeServiceError(w, err, "failed to reserve stock",
			"product_id", req.ProductID, "quantity", req.Quantity, "attempt_id", req.AttemptID)
		return
	}

	h.writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) HandleGetReservation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := h.service.GetReservation(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to get reservation", "reservation_id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleCommit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := h.service.Commit(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to commit reservation", "reservation_id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := h.service.Release(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to release reservation", "reservation_id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleRevert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := h.service.Revert(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to revert reservation", "reservation_id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string, attrs ...any) {
	switch {
	case errors.Is(err, ErrProductNotFound):
		h.writeError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, ErrReservationNotFound):
		h.writeError(w, http.StatusNotFound, "reservation not found")
	case errors.Is(err, ErrInsufficientStock):
		h.writeError(w, http.StatusConflict, "insufficient stock")
	case errors.Is(err, ErrReservationReleased):
		h.writeError(w, http.StatusConflict, "reservation already released")
	case errors.Is(err, ErrInvalidQuantity):
		h.writeError(w, http.StatusBadRequest, "quantity must be positive")
	default:
		h.logger.Error(msg, append([]any{"error", err}, attrs...)...)
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
