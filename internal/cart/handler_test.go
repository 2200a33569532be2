package cart

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

	"github.com/joao-fontenele/orderflow-checkout/internal/identity"
)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	svc, _ := newTestService(t)
	mux := http.NewServeMux()
	NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(mux)
	return mux
}

func serve(mux http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandler_RequiresIdentity(t *testing.T) {
	mux := newTestMux(t)

	rec := serve(mux, http.MethodGet, "/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_CartFlow(t *testing.T) {
	mux := newTestMux(t)
	user := map[string]string{identity.Header: "user-1"}

	rec := serve(mux, http.MethodPost, "/cart/items", `{"product_id":"sku-1","quantity":2}`, user)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"product_id":"sku-1","quantity":2}]`, extractLines(t, rec.Body.String()))

	rec = serve(mux, http.MethodPut, "/cart/items/sku-1", `{"quantity":5}`, user)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(mux, http.MethodPut, "/cart/items/sku-9", `{"quantity":5}`, user)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(mux, http.MethodDelete, "/cart", "", map[string]string{identity.Header: "user-1", "If-Match": "1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(mux, http.MethodDelete, "/cart", "", map[string]string{identity.Header: "user-1", "If-Match": `"2"`})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(mux, http.MethodGet, "/cart", "", user)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, extractLines(t, rec.Body.String()))
}

func TestHandler_Validation(t *testing.T) {
	mux := newTestMux(t)
	user := map[string]string{identity.Header: "user-1"}

	rec := serve(mux, http.MethodPost, "/cart/items", `{"product_id":"","quantity":1}`, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(mux, http.MethodPost, "/cart/items", `{"product_id":"sku-1","quantity":0}`, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(mux, http.MethodDelete, "/cart", "", map[string]string{identity.Header: "user-1", "If-Match": "abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func extractLines(t *testing.T, body string) string {
	t.Helper()
	var payload struct {
		Lines json.RawMessage `json:"lines"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	return string(payload.Lines)
}
