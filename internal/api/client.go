// Package api is the JSON HTTP client for the e-invoicing backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultSubmitPath is the emission start endpoint, relative to the base URL.
	DefaultSubmitPath = "comprobante/simular-emision"
	// UserAgent identifies the client.
	UserAgent = "emitrack/1.0"

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// ErrUnauthorized is returned for 401 responses, after OnUnauthorized runs.
var ErrUnauthorized = errors.New("unauthorized")

// HTTPError is a non-2xx response other than 401.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
}

// GenericResponse is the envelope every backend endpoint replies with.
type GenericResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client. A cookie jar is added
// when it has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithSubmitPath overrides DefaultSubmitPath.
func WithSubmitPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.submitPath = strings.TrimPrefix(path, "/")
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithOnUnauthorized sets the hook run on every 401 response.
func WithOnUnauthorized(fn func()) Option {
	return func(c *Client) {
		c.onUnauthorized = fn
	}
}

// Client talks to the backend. The cookie jar carries the session cookie
// across calls.
type Client struct {
	baseURL        *url.URL
	http           *http.Client
	timeout        time.Duration
	submitPath     string
	logger         *slog.Logger
	onUnauthorized func()
}

// New creates a client for baseURL (for example "http://localhost:3000/api").
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	c := &Client{
		baseURL:    u,
		timeout:    defaultTimeout,
		submitPath: DefaultSubmitPath,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		c.http.Jar = jar
	}
	c.logger = c.logger.With("component", "api")
	return c, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Cookies returns the cookies the jar holds for the base URL.
func (c *Client) Cookies() []*http.Cookie {
	return c.http.Jar.Cookies(c.baseURL)
}

func (c *Client) resolve(path string) string {
	ref := &url.URL{Path: strings.TrimPrefix(path, "/")}
	return c.baseURL.ResolveReference(ref).String()
}

// do sends body (when non-nil) as JSON and decodes the envelope.
func (c *Client) do(ctx context.Context, method, path string, body any) (GenericResponse, error) {
	var out GenericResponse

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return out, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.resolve(path)
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return out, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api call",
		"method", method,
		"url", target,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Warn("session rejected", "method", method, "url", target, "action", "unauthorized")
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return out, fmt.Errorf("%s %s: %w", method, target, ErrUnauthorized)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{Method: method, URL: target, StatusCode: resp.StatusCode}
		var envelope GenericResponse
		if json.Unmarshal(data, &envelope) == nil && envelope.Message != "" {
			httpErr.Message = envelope.Message
		} else if len(data) > 0 {
			httpErr.Message = strings.TrimSpace(string(data[:min(len(data), maxErrorBody)]))
		}
		return out, httpErr
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
