package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haukened/caspio-proxy/internal/auth"
	"github.com/haukened/caspio-proxy/internal/config"
	"github.com/haukened/caspio-proxy/internal/upstream"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "caspio-proxy",
		Short: "Caching proxy for the Caspio pricing tables and ManageOrders",
		Long: `caspio-proxy authenticates against Caspio and ManageOrders, walks their
paginated collections and serves the results as cached JSON routes.

Configuration comes from PROXY_* environment variables; nested keys use a
double underscore, e.g. PROXY_CASPIO__CLIENT_ID.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newFetchCmd())
	return root
}

// loadConfig loads and validates configuration, then installs the default
// logger at the configured level.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("configuration error: %w", err)
	}
	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)
	return cfg, log, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// upstreamMetrics is the subset of *metrics.Manager the upstream layers use.
type upstreamMetrics interface {
	Inc(name string, delta int64)
	Observe(name string, value int64)
}

// newUpstream builds the token provider and paginated client for one upstream.
func newUpstream(name string, u config.Upstream, shape upstream.Shape, cfg *config.Config, rec upstreamMetrics, log *slog.Logger) (*auth.Provider, *upstream.Client, error) {
	hc := &http.Client{Transport: http.DefaultTransport}
	tokens := auth.New(auth.Config{
		Name:         name,
		TokenURL:     u.TokenURL,
		ClientID:     u.ClientID,
		ClientSecret: u.ClientSecret,
		Exchange:     auth.Exchange(u.Exchange),
		Buffer:       cfg.Token.Buffer,
		Timeout:      cfg.Token.Timeout,
		HTTPClient:   hc,
		Logger:       log,
		Metrics:      rec,
	})
	client, err := upstream.New(upstream.Config{
		Name:           name,
		BaseURL:        u.BaseURL,
		Tokens:         tokens,
		Shape:          shape,
		PageSize:       cfg.Pagination.PageSize,
		MaxPages:       cfg.Pagination.MaxPages,
		RequestTimeout: cfg.Pagination.RequestTimeout,
		TotalTimeout:   cfg.Pagination.TotalTimeout,
		HTTPClient:     hc,
		Logger:         log,
		Metrics:        rec,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%s client: %w", name, err)
	}
	return tokens, client, nil
}
