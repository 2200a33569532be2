package gateway

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/joao-fontenele/orderflow-checkout/internal/identity"
)

// forwardedHeaders are copied from the inbound request to the service.
var forwardedHeaders = []string{
	"Content-Type",
	"If-Match",
	"Idempotency-Key",
	identity.Header,
}

type ServiceProxy struct {
	baseURL string
	client  *http.Client
}

func NewServiceProxy(baseURL string, client *http.Client) *ServiceProxy {
	return &ServiceProxy{
		baseURL: baseURL,
		client:  client,
	}
}

func (p *ServiceProxy) ForwardRequest(ctx context.Context, r *http.Request, path string) (*http.Response, error) {
	target := p.baseURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}

	for _, name := range forwardedHeaders {
		if v := r.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}
	if id := middleware.GetReqID(ctx); id != "" {
		req.Header.Set(middleware.RequestIDHeader, id)
	}

	return p.client.Do(req)
}
