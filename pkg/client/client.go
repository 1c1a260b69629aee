// Package client is a typed Go client for a running sidecar's token endpoint.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/token-sidecar/pkg/api"
	"github.com/Mindburn-Labs/token-sidecar/pkg/token"
)

// APIError is returned when the sidecar answers with a non-2xx status.
type APIError struct {
	Status     int
	Title      string
	Message    string
	RetryAfter string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sidecar %d: %s (%s)", e.Status, e.Message, e.Title)
}

// Client fetches tokens from the sidecar.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// New creates a client. baseURL may be a bare host:port.
func New(baseURL string, opts ...Option) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Token requests a freshly signed token.
func (c *Client) Token(ctx context.Context) (*token.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+api.TokenPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			Status:     resp.StatusCode,
			Message:    resp.Status,
			RetryAfter: resp.Header.Get("Retry-After"),
		}
		var body api.ErrorBody
		if json.Unmarshal(data, &body) == nil && body.Message != "" {
			apiErr.Title = body.Error
			apiErr.Message = body.Message
		}
		return nil, apiErr
	}

	var out token.Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if out.Token == "" {
		return nil, fmt.Errorf("token response carried no token")
	}
	return &out, nil
}
