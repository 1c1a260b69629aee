// Package extension implements the Lambda Extensions API lifecycle:
// register once, then long-poll for the next event forever.
//
// Polling is what keeps the execution environment alive. Event payloads are
// drained and discarded; this extension reacts to nothing but its own
// registration.
package extension

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/token-sidecar/pkg/faults"
	"github.com/Mindburn-Labs/token-sidecar/pkg/observability"
)

const (
	// APIVersion is the Extensions API path version.
	APIVersion = "2020-01-01"

	// HeaderName carries the extension name on registration.
	HeaderName = "Lambda-Extension-Name"
	// HeaderIdentifier carries the host-assigned id: returned by register,
	// required on every next-event call.
	HeaderIdentifier = "Lambda-Extension-Identifier"
)

// OriginSource yields the host:port of the lifecycle API.
type OriginSource interface {
	Get() (string, error)
}

// Client talks to the lifecycle API on behalf of one extension.
type Client struct {
	name       string
	origin     OriginSource
	identity   *Identity
	httpClient *http.Client
	telemetry  *observability.Provider
	logger     *slog.Logger

	state atomic.Int32
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client. It must not set a Timeout:
// next-event calls block until the host has something to deliver.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTelemetry records a span and metrics for every lifecycle call.
func WithTelemetry(p *observability.Provider) Option {
	return func(c *Client) { c.telemetry = p }
}

// WithLogger sets the logger. Poll failures are logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the extension name. The identity holder is
// owned by the caller and filled in by Register.
func NewClient(name string, origin OriginSource, identity *Identity, opts ...Option) *Client {
	c := &Client{
		name:       name,
		origin:     origin,
		identity:   identity,
		httpClient: &http.Client{},
		telemetry:  observability.Noop(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "extension", "extension", name)
	return c
}

// State reports the lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) uri(path string) (string, error) {
	origin, err := c.origin.Get()
	if err != nil {
		return "", err
	}
	u := url.URL{
		Scheme: "http",
		Host:   origin,
		Path:   fmt.Sprintf("/%s/extension%s", APIVersion, path),
	}
	return u.String(), nil
}

// Register subscribes the extension to INVOKE events and stores the assigned
// identifier. Every failure is a startup fault: there is no retry, the host
// restarts the environment instead. Calling Register twice is an error.
func (c *Client) Register(ctx context.Context) (err error) {
	ctx, done := c.telemetry.TrackOperation(ctx, "extension.register",
		attribute.String("extension.name", c.name))
	defer func() { done(err) }()

	if _, ok := c.identity.Get(); ok {
		return faults.New(faults.Startup, "register", ErrIdentityAlreadySet)
	}

	uri, err := c.uri("/register")
	if err != nil {
		return err
	}

	body, err := json.Marshal(registerRequest{Events: []EventType{Invoke}})
	if err != nil {
		return faults.New(faults.Startup, "register", fmt.Errorf("encode body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return faults.New(faults.Startup, "register", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set(HeaderName, c.name)
	req.Header.Set("Content-Type", "application/json")

	c.logger.InfoContext(ctx, "registering extension", "uri", uri)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return faults.New(faults.Startup, "register", fmt.Errorf("send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	id := resp.Header.Get(HeaderIdentifier)
	if id == "" {
		return faults.New(faults.Startup, "register",
			fmt.Errorf("response (status %d) missing %q header", resp.StatusCode, HeaderIdentifier))
	}

	if err := c.identity.Set(id); err != nil {
		return faults.New(faults.Startup, "register", err)
	}
	c.state.Store(int32(Registered))

	var info RegisterResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&info); err != nil {
		c.logger.DebugContext(ctx, "registration body not decoded", "error", err)
	}
	c.logger.InfoContext(ctx, "extension registered",
		"function", info.FunctionName,
		"version", info.FunctionVersion,
	)
	return nil
}

// Next asks the host for the next event and blocks until one arrives or the
// environment is recycled. Failures are poll faults; the caller polls again.
func (c *Client) Next(ctx context.Context) (err error) {
	id, ok := c.identity.Get()
	if !ok {
		return faults.New(faults.Startup, "next", ErrNotRegistered)
	}

	ctx, done := c.telemetry.TrackOperation(ctx, "extension.next",
		attribute.String("extension.name", c.name))
	defer func() { done(err) }()

	c.state.CompareAndSwap(int32(Registered), int32(Polling))

	uri, err := c.uri("/event/next")
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return faults.New(faults.Poll, "next", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set(HeaderIdentifier, id)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return faults.New(faults.Poll, "next", err)
	}
	defer func() { _ = resp.Body.Close() }()

	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return faults.New(faults.Poll, "next", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return nil
}

// Run registers once and then polls without pause until ctx is done.
// A registration failure is returned immediately; poll failures are logged
// and followed by another poll.
func (c *Client) Run(ctx context.Context) error {
	if err := c.Register(ctx); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.Next(ctx); err != nil {
			if faults.KindOf(err) != faults.Poll {
				return err
			}
			c.logger.DebugContext(ctx, "next event poll failed", "error", err)
		}
	}
}
