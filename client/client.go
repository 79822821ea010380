// Package client implements the Go SDK for the guestbookd HTTP API, plus a
// Feed type that maintains a synchronized local view of the entry sequence.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pkt.systems/guestbookd/api"
	"pkt.systems/guestbookd/internal/svcfields"
	"pkt.systems/pslog"
)

const defaultEndpointPort = "3000"
const defaultHTTPTimeout = 10 * time.Second

const apiPathEntries = "/api/guestbook"
const apiPathImport = "/api/guestbook/import"

var (
	endpointRandMu sync.Mutex
	endpointRand   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Client talks to one or more guestbookd servers. With multiple endpoints the
// client fails over: each request walks the endpoint list until one answers.
type Client struct {
	endpoints        []string
	lastEndpoint     string
	shuffleEndpoints bool
	httpClient       *http.Client
	httpTimeout      time.Duration
	adminToken       string
	logger           pslog.Base

	closeOnce sync.Once
}

// Option configures client instances.
type Option func(*Client)

// WithHTTPClient supplies a custom HTTP client/transport stack.
func WithHTTPClient(cli *http.Client) Option {
	return func(c *Client) {
		if cli != nil {
			c.httpClient = cli
		}
	}
}

// WithLogger supplies a logger for client diagnostics.
// Passing nil falls back to pslog.NoopLogger().
func WithLogger(logger pslog.Base) Option {
	return func(c *Client) {
		if logger == nil {
			c.logger = pslog.NoopLogger()
			return
		}
		if full, ok := logger.(pslog.Logger); ok {
			c.logger = svcfields.WithSubsystem(full, "client.sdk")
			return
		}
		c.logger = logger
	}
}

// WithEndpointShuffle toggles random shuffling of endpoints before each
// request. When disabled, endpoints are tried in the order provided.
func WithEndpointShuffle(enabled bool) Option {
	return func(c *Client) {
		c.shuffleEndpoints = enabled
	}
}

// WithAdminToken attaches a bearer token to destructive operations
// (Clear and Import).
func WithAdminToken(token string) Option {
	return func(c *Client) {
		c.adminToken = strings.TrimSpace(token)
	}
}

// WithHTTPTimeout overrides the per-request timeout.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpTimeout = d
		}
	}
}

// New constructs a client for baseURL, which may be a comma-separated list of
// endpoints. Endpoints without a scheme assume http and the default port.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("guestbookd: baseURL required")
	}
	return NewWithEndpoints(strings.Split(trimmed, ","), opts...)
}

// NewWithEndpoints constructs a client from a slice of server endpoints.
func NewWithEndpoints(endpoints []string, opts ...Option) (*Client, error) {
	c := &Client{
		shuffleEndpoints: true,
		httpTimeout:      defaultHTTPTimeout,
		logger:           pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	normalized, err := parseEndpointSlice(endpoints)
	if err != nil {
		return nil, err
	}
	if err := c.initialize(normalized); err != nil {
		return nil, err
	}
	return c, nil
}

func parseEndpointSlice(parts []string) ([]string, error) {
	endpoints := make([]string, 0, len(parts))
	for _, part := range parts {
		ep := strings.TrimSpace(part)
		if ep == "" {
			continue
		}
		normalized, err := normalizeEndpoint(ep)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, normalized)
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("guestbookd: no server endpoints provided")
	}
	return endpoints, nil
}

func normalizeEndpoint(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("guestbookd: empty endpoint")
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("guestbookd: parse endpoint %q: %w", raw, err)
	}
	return ensurePort(u, defaultEndpointPort), nil
}

func ensurePort(u *url.URL, defaultPort string) string {
	host := u.Hostname()
	if host == "" {
		return strings.TrimRight(u.String(), "/")
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	u.Host = net.JoinHostPort(strings.Trim(host, "[]"), port)
	return strings.TrimRight(u.String(), "/")
}

func (c *Client) initialize(endpoints []string) error {
	if c.logger == nil {
		c.logger = pslog.NoopLogger()
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.httpClient.Transport == nil {
		if base, ok := http.DefaultTransport.(*http.Transport); ok {
			c.httpClient.Transport = base.Clone()
		}
	}
	// Per-request contexts carry the timeout so failover attempts each get
	// their own budget.
	if c.httpClient.Timeout != 0 {
		c.httpClient.Timeout = 0
	}
	if c.httpTimeout <= 0 {
		c.httpTimeout = defaultHTTPTimeout
	}
	c.endpoints = endpoints
	c.lastEndpoint = endpoints[0]
	c.logDebug("client.init", "endpoints", endpoints)
	return nil
}

// Endpoints returns the normalized endpoint list.
func (c *Client) Endpoints() []string {
	out := make([]string, len(c.endpoints))
	copy(out, c.endpoints)
	return out
}

// Close releases idle connections held by the transport.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		if tr, ok := c.httpClient.Transport.(*http.Transport); ok && tr != nil {
			tr.CloseIdleConnections()
		}
	})
	return nil
}

// APIError describes a non-2xx response from the server.
type APIError struct {
	// Status is the HTTP status code returned by the server.
	Status int
	// Response is the decoded error envelope, when available.
	Response api.ErrorResponse
	// Body contains the raw response body bytes for additional diagnostics.
	Body []byte
}

func (e *APIError) Error() string {
	if e.Response.Error != "" {
		return fmt.Sprintf("guestbookd: %s (status %d)", e.Response.Error, e.Status)
	}
	return fmt.Sprintf("guestbookd: status %d", e.Status)
}

// Message returns the server's human-readable error text, or a generic
// fallback suitable for direct display.
func (e *APIError) Message() string {
	if e.Response.Error != "" {
		return e.Response.Error
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

type endpointRequestBuilder func(base string) (*http.Request, context.CancelFunc, error)

func (c *Client) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if c.httpTimeout > 0 {
		return context.WithTimeout(parent, c.httpTimeout)
	}
	return context.WithCancel(parent)
}

func (c *Client) shuffledEndpoints() []string {
	endpoints := make([]string, len(c.endpoints))
	copy(endpoints, c.endpoints)
	if len(endpoints) > 1 && c.shuffleEndpoints {
		endpointRandMu.Lock()
		endpointRand.Shuffle(len(endpoints), func(i, j int) {
			endpoints[i], endpoints[j] = endpoints[j], endpoints[i]
		})
		endpointRandMu.Unlock()
	}
	return endpoints
}

func (c *Client) attemptEndpoints(builder endpointRequestBuilder, preferred string) (*http.Response, context.CancelFunc, string, error) {
	if len(c.endpoints) == 0 {
		return nil, nil, "", fmt.Errorf("guestbookd: no endpoints configured")
	}
	order := c.shuffledEndpoints()
	if preferred != "" {
		for i, base := range order {
			if base == preferred {
				if i != 0 {
					order[0], order[i] = order[i], order[0]
				}
				break
			}
		}
	}
	var lastErr error
	for attempt, base := range order {
		req, cancel, err := builder(base)
		if err != nil {
			if cancel != nil {
				cancel()
			}
			c.logDebug("client.http.builder_error", "endpoint", base, "error", err)
			return nil, nil, "", err
		}
		start := time.Now()
		c.logTrace("client.http.attempt", "endpoint", base, "attempt", attempt+1, "total", len(order))
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if cancel != nil {
				cancel()
			}
			c.logTrace("client.http.error", "endpoint", base, "error", err, "duration", time.Since(start))
			lastErr = err
			continue
		}
		c.logTrace("client.http.success", "endpoint", base, "status", resp.StatusCode, "duration", time.Since(start))
		c.lastEndpoint = base
		return resp, cancel, base, nil
	}
	orderStr := strings.Join(order, ",")
	if lastErr == nil {
		lastErr = fmt.Errorf("guestbookd: all endpoints unreachable (attempted %s)", orderStr)
	} else {
		lastErr = fmt.Errorf("guestbookd: all endpoints unreachable (attempted %s): %w", orderStr, lastErr)
	}
	c.logDebug("client.http.unreachable", "order", order, "error", lastErr)
	return nil, nil, "", lastErr
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any, admin bool) error {
	var bodyBytes []byte
	if payload != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return err
		}
		bodyBytes = buf.Bytes()
	}
	builder := func(base string) (*http.Request, context.CancelFunc, error) {
		reqCtx, cancel := c.requestContext(ctx)
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(reqCtx, method, base+path, body)
		if err != nil {
			cancel()
			return nil, nil, err
		}
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if admin && c.adminToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.adminToken)
		}
		return req, cancel, nil
	}
	resp, cancel, endpoint, err := c.attemptEndpoints(builder, c.lastEndpoint)
	if err != nil {
		return err
	}
	defer cancel()
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		c.logDebug("client.http.api_error", "path", path, "endpoint", endpoint, "status", resp.StatusCode)
		return c.decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("guestbookd: decode response: %w", err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var errResp api.ErrorResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &errResp); err != nil {
			// leave errResp empty, but keep body for diagnostics
			return &APIError{Status: resp.StatusCode, Body: data}
		}
	}
	return &APIError{Status: resp.StatusCode, Response: errResp, Body: data}
}

// Entries fetches the full entry sequence.
func (c *Client) Entries(ctx context.Context) ([]api.Entry, error) {
	var resp api.EntriesResponse
	if err := c.doJSON(ctx, http.MethodGet, apiPathEntries, nil, &resp, false); err != nil {
		return nil, err
	}
	if resp.Entries == nil {
		resp.Entries = []api.Entry{}
	}
	return resp.Entries, nil
}

// Sign submits a new entry and returns its server-assigned canonical form.
func (c *Client) Sign(ctx context.Context, req api.CreateRequest) (api.Entry, error) {
	var resp api.EntryResponse
	if err := c.doJSON(ctx, http.MethodPost, apiPathEntries, req, &resp, false); err != nil {
		return api.Entry{}, err
	}
	return resp.Entry, nil
}

// Clear removes every entry. Requires the admin token when the server has
// one configured.
func (c *Client) Clear(ctx context.Context) error {
	var resp api.OKResponse
	return c.doJSON(ctx, http.MethodDelete, apiPathEntries, nil, &resp, true)
}

// Import replaces the guestbook with items, returning the sanitized entries
// the server persisted. Requires the admin token when configured.
func (c *Client) Import(ctx context.Context, items []api.ImportItem) ([]api.Entry, error) {
	if items == nil {
		items = []api.ImportItem{}
	}
	var resp api.EntriesResponse
	if err := c.doJSON(ctx, http.MethodPost, apiPathImport, api.ImportRequest{Entries: items}, &resp, true); err != nil {
		return nil, err
	}
	if resp.Entries == nil {
		resp.Entries = []api.Entry{}
	}
	return resp.Entries, nil
}

// Healthy probes the server's liveness endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	builder := func(base string) (*http.Request, context.CancelFunc, error) {
		reqCtx, cancel := c.requestContext(ctx)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, base+"/healthz", nil)
		if err != nil {
			cancel()
			return nil, nil, err
		}
		return req, cancel, nil
	}
	resp, cancel, _, err := c.attemptEndpoints(builder, c.lastEndpoint)
	if err != nil {
		return err
	}
	defer cancel()
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("guestbookd: health status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) logTrace(msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Trace(msg, keyvals...)
}

func (c *Client) logDebug(msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(msg, keyvals...)
}

// IsForbidden reports whether err is the server's admin authorization failure.
func IsForbidden(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden
}
