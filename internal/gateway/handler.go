package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Handler struct {
	ordersProxy  *ServiceProxy
	catalogProxy *ServiceProxy
	cartProxy    *ServiceProxy
	logger       *slog.Logger
}

func NewHandler(ordersProxy, catalogProxy, cartProxy *ServiceProxy, logger *slog.Logger) *Handler {
	return &Handler{
		ordersProxy:  ordersProxy,
		catalogProxy: catalogProxy,
		cartProxy:    cartProxy,
		logger:       logger,
	}
}

// Routes exposes the public surface. Reservations and order status
// transitions stay internal to the services.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/checkout", h.HandleOrders)
	r.Get("/orders", h.HandleOrders)
	r.Get("/orders/{id}", h.HandleOrders)

	r.Get("/products", h.HandleCatalog)
	r.Get("/products/{id}", h.HandleCatalog)

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.HandleCart)
		r.Delete("/", h.HandleCart)
		r.Post("/items", h.HandleCart)
		r.Put("/items/{productId}", h.HandleCart)
		r.Delete("/items/{productId}", h.HandleCart)
	})

	return r
}

func (h *Handler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.ordersProxy, r.URL.Path)
}

func (h *Handler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.catalogProxy, r.URL.Path)
}

func (h *Handler) HandleCart(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/cart/" {
		path = "/cart"
	}
	h.proxyRequest(w, r, h.cartProxy, path)
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "path", path, "request_id", middleware.GetReqID(r.Context()))
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied", "method", r.Method, "path", path, "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
