package telemetry

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithSearchPath(t *testing.T) {
	t.Run("adds search_path query parameter to URL DSN", func(t *testing.T) {
		dsn := WithSearchPath("postgres://u:p@localhost:5432/orderflow?sslmode=disable", "orders")
		u, err := url.Parse(dsn)
		require.NoError(t, err)
		assert.Equal(t, "orders", u.Query().Get("search_path"))
		assert.Equal(t, "disable", u.Query().Get("sslmode"))
	})

	t.Run("appends to key value DSN", func(t *testing.T) {
		dsn := WithSearchPath("host=localhost dbname=orderflow", "catalog")
		assert.Equal(t, "host=localhost dbname=orderflow search_path=catalog", dsn)
	})

	t.Run("leaves DSN untouched without schema", func(t *testing.T) {
		assert.Equal(t, "postgres://localhost/db", WithSearchPath("postgres://localhost/db", ""))
	})
}
