// Package confluence is a small client for the Confluence REST API (v1).
package confluence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	apiPrefix = "/rest/api"

	defaultRPS           = 10
	defaultMaxRetries    = 3
	defaultInitialDelay  = 500 * time.Millisecond
	defaultBackoffFactor = 2.0
	defaultTimeout       = 30 * time.Second
)

// Client talks to one Confluence site with basic auth.
type Client struct {
	baseURL       string
	username      string
	apiKey        string
	httpClient    *http.Client
	limiter       *rate.Limiter
	maxRetries    int
	initialDelay  time.Duration
	backoffFactor float64
	logger        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit sets the proactive request rate. Zero or less disables it.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithRetry sets the retry count, the first delay and the backoff multiplier.
func WithRetry(maxRetries int, initialDelay time.Duration, factor float64) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.initialDelay = initialDelay
		c.backoffFactor = factor
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the site at baseURL (see BaseURL).
func New(baseURL, username, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		username:      username,
		apiKey:        apiKey,
		httpClient:    &http.Client{Timeout: defaultTimeout},
		limiter:       rate.NewLimiter(rate.Limit(defaultRPS), 1),
		maxRetries:    defaultMaxRetries,
		initialDelay:  defaultInitialDelay,
		backoffFactor: defaultBackoffFactor,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL derives the site URL from an organisation name. A name with a dot
// is a host of its own; anything else is an Atlassian Cloud tenant.
func BaseURL(org string, noSSL bool) string {
	org = strings.TrimRight(strings.TrimSpace(org), "/")
	var u string
	switch {
	case strings.HasPrefix(org, "http://"), strings.HasPrefix(org, "https://"):
		u = org
	case strings.Contains(org, "."):
		u = "https://" + org
	default:
		u = "https://" + org + ".atlassian.net/wiki"
	}
	if noSSL {
		u = "http://" + strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "http://")
	}
	return u
}

// URL returns the site URL the client talks to.
func (c *Client) URL() string { return c.baseURL }

type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	header      http.Header
}

func jsonRequest(method, path string, payload any) (request, error) {
	req := request{method: method, path: path}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return req, fmt.Errorf("confluence: encode %s %s: %w", method, path, err)
		}
		req.body = b
		req.contentType = "application/json"
	}
	return req, nil
}

// do sends req with rate limiting and retries and decodes the JSON response
// into out when out is not nil.
func (c *Client) do(ctx context.Context, req request, out any) error {
	return c.withRetry(ctx, req, func() error {
		return c.send(ctx, req, out)
	})
}

func (c *Client) send(ctx context.Context, req request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + apiPrefix + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return fmt.Errorf("confluence: build request: %w", err)
	}
	httpReq.SetBasicAuth(c.username, c.apiKey)
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	for k, vs := range req.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("confluence: %s %s: %w", req.method, req.path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("confluence: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp, data, u)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("confluence: decode %s %s: %w", req.method, req.path, err)
		}
	}
	return nil
}

// withRetry runs fn with exponential backoff while it fails with a
// retryable error. A Retry-After hint longer than the current delay wins.
func (c *Client) withRetry(ctx context.Context, req request, fn func() error) error {
	delay := c.initialDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(req.method, lastErr) {
			return lastErr
		}
		if attempt == c.maxRetries {
			break
		}

		wait := delay
		var apiErr *APIError
		if errors.As(lastErr, &apiErr) && apiErr.RetryAfter > wait {
			wait = apiErr.RetryAfter
		}
		c.logger.Warn("confluence request failed, retrying",
			slog.String("method", req.method),
			slog.String("path", req.path),
			slog.Int("attempt", attempt+1),
			slog.Duration("wait", wait),
			slog.String("error", lastErr.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay = time.Duration(float64(delay) * c.backoffFactor)
	}

	return fmt.Errorf("confluence: max retries exceeded: %w", lastErr)
}

// isRetryable reports whether a failed request may be sent again. A POST
// creates content, so it is repeated only when the server rejected it before
// processing (429, 503); a timeout or other 5xx may hide a write that landed.
func isRetryable(method string, err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return true
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
			return method != http.MethodPost
		}
		return false
	}
	if method == http.MethodPost {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
