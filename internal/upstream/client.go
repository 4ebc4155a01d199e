// Package upstream talks to paginated REST collection endpoints (Caspio tables,
// ManageOrders resources). A Client issues authenticated GETs and FetchAll
// walks every page of a query under a page cap and a wall-clock budget.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haukened/caspio-proxy/internal/domain"
)

// Metric names emitted by the client.
const (
	CounterPages          = "upstream_pages_total"
	CounterErrors         = "upstream_errors_total"
	CounterTimeouts       = "upstream_timeouts_total"
	CounterPartialResults = "upstream_partial_results_total"
	SummaryPageMS         = "upstream_page_ms"
)

// maxBody caps a single page response.
const maxBody = 32 << 20

// TokenSource supplies bearer tokens. *auth.Provider satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Recorder receives metric events. *metrics.Manager satisfies it.
type Recorder interface {
	Inc(name string, delta int64)
	Observe(name string, value int64)
}

type noopRecorder struct{}

func (noopRecorder) Inc(string, int64)     {}
func (noopRecorder) Observe(string, int64) {}

// Config holds the client's tunables. Zero values fall back to the package
// defaults in New.
type Config struct {
	Name           string // upstream label used in logs and errors
	BaseURL        string
	Tokens         TokenSource
	Shape          Shape
	PageSize       int
	MaxPages       int
	RequestTimeout time.Duration
	TotalTimeout   time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
	Metrics        Recorder
}

// Client is safe for concurrent use; every call keeps its own page state.
type Client struct {
	cfg  Config
	base *url.URL
	log  *slog.Logger
}

// New validates BaseURL and applies defaults.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	if cfg.Name == "" {
		cfg.Name = base.Host
	}
	if cfg.Shape == (Shape{}) {
		cfg.Shape = CaspioShape
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = 25 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopRecorder{}
	}
	return &Client{cfg: cfg, base: base, log: cfg.Logger.With("domain", "upstream", "upstream", cfg.Name)}, nil
}

// Name returns the upstream label.
func (c *Client) Name() string { return c.cfg.Name }

// RequestError is a failed upstream request that was not a timeout. It
// matches domain.ErrUpstreamRequest.
type RequestError struct {
	Upstream string
	Resource string
	Status   int // 0 when no response was received
	Err      error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Upstream, e.Resource, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Upstream, e.Resource, e.Err)
}

func (e *RequestError) Unwrap() []error { return []error{domain.ErrUpstreamRequest, e.Err} }

// TimeoutError is a single request that ran out of time. It matches
// domain.ErrUpstreamTimeout.
type TimeoutError struct {
	Upstream string
	Resource string
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: timed out: %v", e.Upstream, e.Resource, e.Err)
}

func (e *TimeoutError) Unwrap() []error { return []error{domain.ErrUpstreamTimeout, e.Err} }

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// resourceURL joins BaseURL and resource and attaches params.
func (c *Client) resourceURL(resource string, params url.Values) string {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(resource, "/")
	u.RawQuery = params.Encode()
	return u.String()
}

// resolveNext turns an upstream next-page pointer into an absolute URL. Only
// URLs on the upstream's own host are followed so the bearer token never
// leaves it.
func (c *Client) resolveNext(next string) (string, error) {
	ref, err := url.Parse(next)
	if err != nil {
		return "", err
	}
	abs := c.base.ResolveReference(ref)
	if !strings.EqualFold(abs.Host, c.base.Host) {
		return "", fmt.Errorf("next page url points at foreign host %q", abs.Host)
	}
	return abs.String(), nil
}

// get performs one authenticated GET with the given deadline-bound context and
// retries exactly once with a fresh token when the upstream answers 401.
func (c *Client) get(ctx context.Context, resource, rawURL string) ([]byte, error) {
	body, status, err := c.getOnce(ctx, resource, rawURL)
	if status == http.StatusUnauthorized {
		c.log.Warn("upstream rejected token, retrying once", "resource", resource)
		c.cfg.Tokens.Invalidate()
		body, _, err = c.getOnce(ctx, resource, rawURL)
	}
	return body, err
}

func (c *Client) getOnce(ctx context.Context, resource, rawURL string) ([]byte, int, error) {
	token, err := c.cfg.Tokens.Token(ctx)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, &RequestError{Upstream: c.cfg.Name, Resource: resource, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, c.classify(resource, 0, err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	c.cfg.Metrics.Observe(SummaryPageMS, time.Since(start).Milliseconds())
	if err != nil {
		return nil, resp.StatusCode, c.classify(resource, resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.cfg.Metrics.Inc(CounterErrors, 1)
		return nil, resp.StatusCode, &RequestError{
			Upstream: c.cfg.Name,
			Resource: resource,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("unexpected status: %s", snippet(body)),
		}
	}
	return body, resp.StatusCode, nil
}

func (c *Client) classify(resource string, status int, err error) error {
	if isTimeout(err) {
		c.cfg.Metrics.Inc(CounterTimeouts, 1)
		return &TimeoutError{Upstream: c.cfg.Name, Resource: resource, Err: err}
	}
	c.cfg.Metrics.Inc(CounterErrors, 1)
	return &RequestError{Upstream: c.cfg.Name, Resource: resource, Status: status, Err: err}
}

// snippet trims an error body for inclusion in error messages.
func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "(empty body)"
	}
	return s
}

// FetchOne issues a single GET without pagination and returns the decoded
// records. Every failure, timeouts included, is returned to the caller.
func (c *Client) FetchOne(ctx context.Context, resource string, params url.Values) ([]domain.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	body, err := c.get(ctx, resource, c.resourceURL(resource, params))
	if err != nil {
		return nil, err
	}
	c.cfg.Metrics.Inc(CounterPages, 1)
	page, err := decodePage(body, c.cfg.Shape)
	if err != nil {
		return nil, &RequestError{Upstream: c.cfg.Name, Resource: resource, Status: http.StatusOK, Err: err}
	}
	return page.Records, nil
}
