package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

type upstreamCall struct {
	method string
	path   string
	query  string
	header http.Header
	body   string
}

func recordingUpstream(t *testing.T, status int) (*httptest.Server, *upstreamCall) {
	t.Helper()
	call := &upstreamCall{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*call = upstreamCall{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			header: r.Header.Clone(),
			body:   string(body),
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, call
}

func TestServiceProxy_ForwardRequest(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		path       string
		body       string
		headers    map[string]string
		status     int
		wantQuery  string
		wantHeader map[string]string
		dropped    []string
	}{
		{
			name:   "checkout keeps idempotency key and body",
			method: http.MethodPost,
			target: "/checkout",
			path:   "/checkout",
			body:   `{"shipping_address":{"full_name":"Ayesha Khan"}}`,
			headers: map[string]string{
				"Content-Type":    "application/json",
				"Idempotency-Key": "key-1",
				"X-User-ID":       "user-1",
			},
			status: http.StatusCreated,
			wantHeader: map[string]string{
				"Content-Type":    "application/json",
				"Idempotency-Key": "key-1",
				"X-User-ID":       "user-1",
			},
		},
		{
			name:   "cart clear keeps If-Match",
			method: http.MethodDelete,
			target: "/cart",
			path:   "/cart",
			headers: map[string]string{
				"If-Match":  `"7"`,
				"X-User-ID": "user-1",
			},
			status:     http.StatusOK,
			wantHeader: map[string]string{"If-Match": `"7"`},
		},
		{
			name:   "order listing keeps query and drops credentials",
			method: http.MethodGet,
			target: "/orders?page=2&page_size=10",
			path:   "/orders",
			headers: map[string]string{
				"X-User-ID":     "user-1",
				"Authorization": "Bearer secret",
				"Cookie":        "session=abc",
			},
			status:     http.StatusOK,
			wantQuery:  "page=2&page_size=10",
			wantHeader: map[string]string{"X-User-ID": "user-1"},
			dropped:    []string{"Authorization", "Cookie"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, call := recordingUpstream(t, tt.status)
			proxy := NewServiceProxy(server.URL, server.Client())

			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			resp, err := proxy.ForwardRequest(context.Background(), req, tt.path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			_ = resp.Body.Close()

			if resp.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, resp.StatusCode)
			}
			if call.method != tt.method {
				t.Errorf("expected method %s, got %s", tt.method, call.method)
			}
			if call.path != tt.path {
				t.Errorf("expected path %s, got %s", tt.path, call.path)
			}
			if call.query != tt.wantQuery {
				t.Errorf("expected query %q, got %q", tt.wantQuery, call.query)
			}
			if call.body != tt.body {
				t.Errorf("expected body %q, got %q", tt.body, call.body)
			}
			for k, v := range tt.wantHeader {
				if got := call.header.Get(k); got != v {
					t.Errorf("expected %s %q, got %q", k, v, got)
				}
			}
			for _, k := range tt.dropped {
				if got := call.header.Get(k); got != "" {
					t.Errorf("expected %s to be dropped, got %q", k, got)
				}
			}
		})
	}
}

func TestServiceProxy_PropagatesRequestID(t *testing.T) {
	server, call := recordingUpstream(t, http.StatusOK)
	proxy := NewServiceProxy(server.URL, server.Client())

	var handled bool
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handled = true
		resp, err := proxy.ForwardRequest(r.Context(), r, "/products")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_ = resp.Body.Close()
	}))

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !handled {
		t.Fatal("handler was not called")
	}
	if got := call.header.Get(middleware.RequestIDHeader); got != "req-123" {
		t.Errorf("expected request id req-123 upstream, got %q", got)
	}
}

func TestServiceProxy_CancelledContext(t *testing.T) {
	server, _ := recordingUpstream(t, http.StatusOK)
	proxy := NewServiceProxy(server.URL, server.Client())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	if _, err := proxy.ForwardRequest(ctx, req, "/products"); err == nil {
		t.Error("expected error for cancelled context")
	}
}
