// Package clients holds the HTTP clients services use to reach each other:
// the order service calls cart and catalog, the worker calls orders and email.
// Every call has a per-attempt timeout, retries
// transient failures with exponential backoff and trips a circuit breaker
// when the remote keeps failing.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"
)

var ErrUnavailable = errors.New("clients: service unavailable")

const (
	DefaultTimeout    = 2 * time.Second
	DefaultMaxRetries = 3
)

type Options struct {
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type response struct {
	status int
	body   []byte
}

// transientError marks a failure worth retrying: transport errors and 5xx.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

type serviceClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	breaker    *gobreaker.CircuitBreaker[response]
	logger     *slog.Logger
}

func newServiceClient(name, baseURL string, opts Options) *serviceClient {
	c := &serviceClient{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: opts.HTTPClient,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		logger:     opts.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	c.breaker = gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed", "service", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// do sends the request and returns any non-5xx response for the caller to
// interpret. Only transient failures are retried.
func (c *serviceClient) do(ctx context.Context, method, path string, body any, header http.Header) (response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return response{}, err
		}
	}

	operation := func() (response, error) {
		resp, err := c.breaker.Execute(func() (response, error) {
			return c.attempt(ctx, method, path, payload, header)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return response{}, backoff.Permanent(fmt.Errorf("%w: %s: %w", ErrUnavailable, c.name, err))
		}
		var transient *transientError
		if err != nil && !errors.As(err, &transient) {
			return response{}, backoff.Permanent(err)
		}
		return resp, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = time.Second

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.WarnContext(ctx, "retrying service call",
				"service", c.name, "method", method, "path", path, "error", err, "backoff", next)
		}),
	)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return response{}, err
		}
		return response{}, fmt.Errorf("%w: %s %s %s: %w", ErrUnavailable, c.name, method, path, err)
	}
	return resp, nil
}

func (c *serviceClient) attempt(ctx context.Context, method, path string, payload []byte, header http.Header) (response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return response{}, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, &transientError{err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, &transientError{err: err}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return response{}, &transientError{err: fmt.Errorf("%s responded %d", c.name, resp.StatusCode)}
	}
	return response{status: resp.StatusCode, body: data}, nil
}

func decode(resp response, out any) error {
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func unexpected(name string, resp response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(resp.body, &payload)
	return fmt.Errorf("%s: unexpected status %d: %s", name, resp.status, payload.Error)
}
