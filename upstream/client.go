// Package upstream calls the protected backend on behalf of an authenticated
// caller. The caller's bearer token is never forwarded.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/PaulFidika/authgate/core"
)

const (
	healthPath  = "/health"
	maxBodySize = 1 << 20
)

// Result is what the upstream answered. Body is always valid JSON.
type Result struct {
	Status int
	Body   json.RawMessage
}

// TokenProvider supplies the gateway's own access token for upstream calls.
type TokenProvider interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Client performs single-shot requests against the upstream. No retries.
type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	tokens  TokenProvider
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithTimeout bounds each upstream call, including service token acquisition.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTokenProvider attaches a service identity to every upstream call.
func WithTokenProvider(tp TokenProvider) Option {
	return func(c *Client) { c.tokens = tp }
}

// New builds a client for the upstream rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
		timeout: core.DefaultHTTPTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the upstream root.
func (c *Client) BaseURL() string { return c.baseURL }

// Health performs GET <base>/health. Any upstream status is returned as a
// Result; transport failures and non-JSON bodies match core.ErrUpstreamUnavailable.
func (c *Client) Health(ctx context.Context) (*Result, error) {
	return c.get(ctx, healthPath)
}

func (c *Client) get(ctx context.Context, path string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: service token: %v", core.ErrUpstreamUnavailable, err)
		}
		tok.SetAuthHeader(req)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", core.ErrUpstreamUnavailable, err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", core.ErrUpstreamUnavailable, maxBodySize)
	}
	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: non-JSON body (status %d)", core.ErrUpstreamUnavailable, resp.StatusCode)
	}
	return &Result{Status: resp.StatusCode, Body: json.RawMessage(body)}, nil
}
