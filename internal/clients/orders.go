package clients

import (
	"context"
	"net/http"
	"net/url"

	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
)

type OrdersClient struct {
	svc *serviceClient
}

func NewOrdersClient(baseURL string, opts Options) *OrdersClient {
	return &OrdersClient{svc: newServiceClient("orders", baseURL, opts)}
}

// UpdateStatus returns domain.ErrInvalidTransition when the order is not in a
// state that allows status.
func (c *OrdersClient) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	body := map[string]domain.OrderStatus{"status": status}
	resp, err := c.svc.do(ctx, http.MethodPatch, "/orders/"+url.PathEscape(orderID)+"/status", body, nil)
	if err != nil {
		return err
	}

	switch resp.status {
	case http.StatusOK:
		return nil
	case http.StatusConflict:
		return domain.ErrInvalidTransition
	default:
		return unexpected("orders", resp)
	}
}
