package clients

import (
	"context"
	"net/http"
	"strconv"

	"github.com/joao-fontenele/orderflow-checkout/internal/cart"
	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
	"github.com/joao-fontenele/orderflow-checkout/internal/identity"
)

type CartClient struct {
	svc *serviceClient
}

func NewCartClient(baseURL string, opts Options) *CartClient {
	return &CartClient{svc: newServiceClient("cart", baseURL, opts)}
}

func (c *CartClient) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	resp, err := c.svc.do(ctx, http.MethodGet, "/cart", nil, userHeader(userID))
	if err != nil {
		return domain.Cart{}, err
	}
	if resp.status != http.StatusOK {
		return domain.Cart{}, unexpected("cart", resp)
	}

	var out domain.Cart
	if err := decode(resp, &out); err != nil {
		return domain.Cart{}, err
	}
	return out, nil
}

// ClearCart returns cart.ErrVersionConflict when the cart moved past expectedVersion.
func (c *CartClient) ClearCart(ctx context.Context, userID string, expectedVersion int64) error {
	header := userHeader(userID)
	header.Set("If-Match", strconv.FormatInt(expectedVersion, 10))

	resp, err := c.svc.do(ctx, http.MethodDelete, "/cart", nil, header)
	if err != nil {
		return err
	}

	switch resp.status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusConflict:
		return cart.ErrVersionConflict
	default:
		return unexpected("cart", resp)
	}
}

func userHeader(userID string) http.Header {
	h := http.Header{}
	h.Set(identity.Header, userID)
	return h
}
