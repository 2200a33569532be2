package clients

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/joao-fontenele/orderflow-checkout/internal/catalog"
	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
)

// CatalogClient talks to the catalog service. Reserve is keyed by attempt id on
// the server, so retrying it cannot hold stock twice.
type CatalogClient struct {
	svc *serviceClient
	now func() time.Time
}

func NewCatalogClient(baseURL string, opts Options) *CatalogClient {
	return &CatalogClient{
		svc: newServiceClient("catalog", baseURL, opts),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (c *CatalogClient) Snapshot(ctx context.Context, productID string) (domain.ProductSnapshot, error) {
	resp, err := c.svc.do(ctx, http.MethodGet, "/products/"+url.PathEscape(productID), nil, nil)
	if err != nil {
		return domain.ProductSnapshot{}, err
	}

	switch resp.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return domain.ProductSnapshot{}, catalog.ErrProductNotFound
	default:
		return domain.ProductSnapshot{}, unexpected("catalog", resp)
	}

	var p domain.Product
	if err := decode(resp, &p); err != nil {
		return domain.ProductSnapshot{}, err
	}
	if !p.IsActive {
		return domain.ProductSnapshot{}, catalog.ErrProductNotFound
	}
	return domain.ProductSnapshot{
		ProductID:      p.ID,
		Name:           p.Name,
		UnitPrice:      p.Price,
		AvailableStock: p.Stock,
		FetchedAt:      c.now(),
	}, nil
}

type reserveRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	AttemptID string `json:"attempt_id"`
}

func (c *CatalogClient) Reserve(ctx context.Context, productID string, quantity int, attemptID string) (domain.StockReservation, error) {
	resp, err := c.svc.do(ctx, http.MethodPost, "/reservations", reserveRequest{
		ProductID: productID,
		Quantity:  quantity,
		AttemptID: attemptID,
	}, nil)
	if err != nil {
		return domain.StockReservation{}, err
	}

	switch resp.status {
	case http.StatusCreated, http.StatusOK:
		var res domain.StockReservation
		if err := decode(resp, &res); err != nil {
			return domain.StockReservation{}, err
		}
		return res, nil
	case http.StatusNotFound:
		return domain.StockReservation{}, catalog.ErrProductNotFound
	case http.StatusConflict:
		return domain.StockReservation{}, catalog.ErrInsufficientStock
	case http.StatusBadRequest:
		return domain.StockReservation{}, catalog.ErrInvalidQuantity
	default:
		return domain.StockReservation{}, unexpected("catalog", resp)
	}
}

func (c *CatalogClient) Commit(ctx context.Context, reservationID string) (domain.StockReservation, error) {
	return c.transition(ctx, reservationID, "commit")
}

func (c *CatalogClient) Release(ctx context.Context, reservationID string) (domain.StockReservation, error) {
	return c.transition(ctx, reservationID, "release")
}

func (c *CatalogClient) Revert(ctx context.Context, reservationID string) (domain.StockReservation, error) {
	return c.transition(ctx, reservationID, "revert")
}

func (c *CatalogClient) transition(ctx context.Context, reservationID, action string) (domain.StockReservation, error) {
	resp, err := c.svc.do(ctx, http.MethodPost, "/reservations/"+url.PathEscape(reservationID)+"/"+action, nil, nil)
	if err != nil {
		return domain.StockReservation{}, err
	}

	switch resp.status {
	case http.StatusOK:
		var res domain.StockReservation
		if err := decode(resp, &res); err != nil {
			return domain.StockReservation{}, err
		}
		return res, nil
	case http.StatusNotFound:
		return domain.StockReservation{}, catalog.ErrReservationNotFound
	case http.StatusConflict:
		return domain.StockReservation{}, catalog.ErrReservationReleased
	default:
		return domain.StockReservation{}, unexpected("catalog", resp)
	}
}
