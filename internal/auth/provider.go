// Package auth supplies bearer tokens for the upstream APIs. A Provider holds a
// single token slot, hands the cached token out while it is outside the expiry
// buffer, and performs a credential exchange against the token endpoint
// otherwise. Concurrent refreshes are collapsed into one request.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/sync/singleflight"

	"github.com/haukened/caspio-proxy/internal/domain"
)

// Exchange selects how credentials are traded for a token.
type Exchange string

const (
	// ClientCredentials posts an OAuth client-credentials form (Caspio).
	ClientCredentials Exchange = "client_credentials"
	// SignIn posts {"username","password"} as JSON (ManageOrders).
	SignIn Exchange = "signin"
)

// Counter names emitted by the provider.
const (
	CounterTokenRefresh       = "token_refresh_total"
	CounterTokenRefreshFailed = "token_refresh_failed_total"
)

// DefaultLifetime is assumed when the endpoint reports no expiry and the token
// carries no exp claim.
const DefaultLifetime = time.Hour

var errNotConfigured = errors.New("client credentials not configured")

// Recorder receives counter increments. *metrics.Manager satisfies it.
type Recorder interface {
	Inc(name string, delta int64)
}

type noopRecorder struct{}

func (noopRecorder) Inc(string, int64) {}

// Config holds the provider's tunables.
type Config struct {
	Name         string // upstream label used in logs and errors
	TokenURL     string
	ClientID     string
	ClientSecret string
	Exchange     Exchange
	Buffer       time.Duration // never hand out a token closer than this to expiry
	Timeout      time.Duration // bound on a single token request
	HTTPClient   *http.Client
	Now          func() time.Time
	Logger       *slog.Logger
	Metrics      Recorder
}

// Error reports a failed token exchange. It matches domain.ErrAuthentication.
type Error struct {
	Upstream string
	Status   int // HTTP status when the endpoint answered, 0 otherwise
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s token exchange: status %d: %v", e.Upstream, e.Status, e.Err)
	}
	return fmt.Sprintf("%s token exchange: %v", e.Upstream, e.Err)
}

func (e *Error) Unwrap() []error { return []error{domain.ErrAuthentication, e.Err} }

// State is a token-free view of the slot for status reporting.
type State struct {
	Valid     bool      `json:"valid"`
	IssuedAt  time.Time `json:"issuedAt,omitzero"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// Provider caches one bearer token. It is safe for concurrent use.
type Provider struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	token     string
	issuedAt  time.Time
	expiresAt time.Time

	sf singleflight.Group
}

// New constructs a Provider, applying defaults for unset fields.
func New(cfg Config) *Provider {
	if cfg.Name == "" {
		cfg.Name = "upstream"
	}
	if cfg.Exchange == "" {
		cfg.Exchange = ClientCredentials
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopRecorder{}
	}
	return &Provider{cfg: cfg, log: cfg.Logger.With("domain", "auth", "upstream", cfg.Name)}
}

// Token returns a bearer token valid for at least the configured buffer,
// refreshing synchronously when the cached one is missing or too close to
// expiry.
func (p *Provider) Token(ctx context.Context) (string, error) {
	if tok, ok := p.cached(); ok {
		return tok, nil
	}
	ch := p.sf.DoChan("token", func() (any, error) {
		if tok, ok := p.cached(); ok {
			return tok, nil
		}
		// Detached from the first caller so its cancellation does not fail
		// everyone else waiting on the same refresh; Timeout still bounds it.
		return p.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate clears the slot so the next Token call performs an exchange.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.reset()
	p.mu.Unlock()
}

// State returns expiry information without exposing the token.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{
		Valid:     p.token != "" && p.cfg.Now().Before(p.expiresAt.Add(-p.cfg.Buffer)),
		IssuedAt:  p.issuedAt,
		ExpiresAt: p.expiresAt,
	}
}

func (p *Provider) cached() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" {
		return "", false
	}
	if !p.cfg.Now().Before(p.expiresAt.Add(-p.cfg.Buffer)) {
		return "", false
	}
	return p.token, true
}

// reset must be called with mu held.
func (p *Provider) reset() {
	p.token = ""
	p.issuedAt = time.Time{}
	p.expiresAt = time.Time{}
}

func (p *Provider) fail(status int, err error) (string, error) {
	p.mu.Lock()
	p.reset()
	p.mu.Unlock()
	p.cfg.Metrics.Inc(CounterTokenRefreshFailed, 1)
	p.log.Error("token refresh failed", "status", status, "err", err)
	return "", &Error{Upstream: p.cfg.Name, Status: status, Err: err}
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	IDToken     string      `json:"id_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

func (p *Provider) refresh(ctx context.Context) (string, error) {
	if p.cfg.ClientID == "" || p.cfg.ClientSecret == "" {
		return p.fail(0, errNotConfigured)
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := p.newRequest(ctx)
	if err != nil {
		return p.fail(0, err)
	}
	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return p.fail(0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return p.fail(resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return p.fail(resp.StatusCode, errors.New("unexpected status"))
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return p.fail(resp.StatusCode, fmt.Errorf("decode token response: %w", err))
	}
	tok := tr.AccessToken
	if tok == "" {
		tok = tr.IDToken
	}
	if tok == "" {
		return p.fail(resp.StatusCode, errors.New("response missing access_token"))
	}

	now := p.cfg.Now()
	expiresAt := now.Add(lifetime(tr.ExpiresIn, tok, now))

	p.mu.Lock()
	p.token = tok
	p.issuedAt = now
	p.expiresAt = expiresAt
	p.mu.Unlock()

	p.cfg.Metrics.Inc(CounterTokenRefresh, 1)
	p.log.Info("token refreshed", "expires_at", expiresAt.UTC().Format(time.RFC3339))
	return tok, nil
}

func (p *Provider) newRequest(ctx context.Context) (*http.Request, error) {
	switch p.cfg.Exchange {
	case SignIn:
		payload, err := json.Marshal(map[string]string{
			"username": p.cfg.ClientID,
			"password": p.cfg.ClientSecret,
		})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	case ClientCredentials:
		form := url.Values{}
		form.Set("grant_type", "client_credentials")
		form.Set("client_id", p.cfg.ClientID)
		form.Set("client_secret", p.cfg.ClientSecret)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	default:
		return nil, fmt.Errorf("unknown exchange %q", p.cfg.Exchange)
	}
}

// lifetime prefers the endpoint's expires_in, then the token's own exp claim
// (read without verification; the upstream is the only consumer), then
// DefaultLifetime.
func lifetime(expiresIn json.Number, tok string, now time.Time) time.Duration {
	if n, err := expiresIn.Int64(); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if parsed, err := jwt.ParseInsecure([]byte(tok)); err == nil {
		if exp := parsed.Expiration(); !exp.IsZero() && exp.After(now) {
			return exp.Sub(now)
		}
	}
	return DefaultLifetime
}
