package catalog

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
)

func newTestMux(t *testing.T, stock int) *http.ServeMux {
	t.Helper()
	svc, _, _ := newTestService(t, stock)
	mux := http.NewServeMux()
	NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(mux)
	return mux
}

func doRequest(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Products(t *testing.T) {
	mux := newTestMux(t, 3)

	rec := doRequest(mux, http.MethodGet, "/products/sku-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var product domain.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &product))
	assert.Equal(t, "Notebook", product.Name)
	assert.Equal(t, 3, product.Stock)

	rec = doRequest(mux, http.MethodGet, "/products/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"product not found"}`, rec.Body.String())

	rec = doRequest(mux, http.MethodGet, "/products", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var products []domain.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	assert.Len(t, products, 1)
}

func TestHandler_ReservationLifecycle(t *testing.T) {
	mux := newTestMux(t, 3)

	rec := doRequest(mux, http.MethodPost, "/reservations", `{"product_id":"sku-1","quantity":2,"attempt_id":"a1:sku-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var res domain.StockReservation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, domain.ReservationHeld, res.State)

	rec = doRequest(mux, http.MethodPost, "/reservations", `{"product_id":"sku-1","quantity":2,"attempt_id":"a2:sku-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"insufficient stock"}`, rec.Body.String())

	rec = doRequest(mux, http.MethodPost, "/reservations/"+res.ID+"/release", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(mux, http.MethodPost, "/reservations/"+res.ID+"/commit", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"reservation already released"}`, rec.Body.String())

	rec = doRequest(mux, http.MethodGet, "/products/sku-1/stock", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"product_id":"sku-1","available":3,"held":0}`, rec.Body.String())
}

func TestHandler_ReserveValidation(t *testing.T) {
	mux := newTestMux(t, 3)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed body", `{`, http.StatusBadRequest},
		{"missing attempt", `{"product_id":"sku-1","quantity":1}`, http.StatusBadRequest},
		{"zero quantity", `{"product_id":"sku-1","quantity":0,"attempt_id":"x"}`, http.StatusBadRequest},
		{"unknown product", `{"product_id":"nope","quantity":1,"attempt_id":"x"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(mux, http.MethodPost, "/reservations", tt.body)
			assert.Equal(t, tt.code, rec.Code)
		})
	}

	rec := doRequest(mux, http.MethodPost, "/reservations/missing/commit", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
