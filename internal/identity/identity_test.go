package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequire(t *testing.T) {
	t.Run("rejects missing header", func(t *testing.T) {
		called := false
		h := Require(func(w http.ResponseWriter, r *http.Request) { called = true })

		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/cart", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, called)
	})

	t.Run("stores user id on context", func(t *testing.T) {
		var got string
		h := Require(func(w http.ResponseWriter, r *http.Request) {
			got, _ = UserID(r.Context())
		})

		req := httptest.NewRequest(http.MethodGet, "/cart", nil)
		req.Header.Set(Header, " user-1 ")
		h(httptest.NewRecorder(), req)

		assert.Equal(t, "user-1", got)
	})
}

func TestPropagate(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	Propagate(WithUserID(context.Background(), "user-7"), req)
	assert.Equal(t, "user-7", req.Header.Get(Header))

	req = httptest.NewRequest(http.MethodGet, "/cart", nil)
	Propagate(context.Background(), req)
	assert.Empty(t, req.Header.Get(Header))
}
