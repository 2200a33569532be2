package clients

import (
	"context"
	"net/http"
)

type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type EmailClient struct {
	svc *serviceClient
}

func NewEmailClient(baseURL string, opts Options) *EmailClient {
	return &EmailClient{svc: newServiceClient("email", baseURL, opts)}
}

func (c *EmailClient) Send(ctx context.Context, email Email) error {
	resp, err := c.svc.do(ctx, http.MethodPost, "/send", email, nil)
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return unexpected("email", resp)
	}
	return nil
}
