package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/haukened/caspio-proxy/internal/app"
	"github.com/haukened/caspio-proxy/internal/config"
	"github.com/haukened/caspio-proxy/internal/httpx"
	"github.com/haukened/caspio-proxy/internal/janitor"
	"github.com/haukened/caspio-proxy/internal/metrics"
	"github.com/haukened/caspio-proxy/internal/upstream"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log)
		},
	}
}

// ensureDataDir creates the data directory if needed and rejects non-directories.
func ensureDataDir(dir string) error {
	st, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("stat data directory: %w", err)
	case !st.IsDir():
		return fmt.Errorf("data path %s is not a directory", dir)
	}
	return nil
}

// openMetrics opens the metrics database and prepares its schema.
func openMetrics(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sql.DB, *metrics.Manager, error) {
	db, err := sql.Open("sqlite3", cfg.SQLiteDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite driver: %w", err)
	}
	mgr := metrics.New(db, metrics.Config{FlushInterval: cfg.Metrics.FlushInterval, Logger: log})
	if err := mgr.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("init metrics schema: %w", err)
	}
	return db, mgr, nil
}

// components is everything run needs to serve and shut down.
type components struct {
	svc     *app.Service
	handler *httpx.Handler
	janitor *janitor.Janitor
}

// buildComponents wires upstream clients, the service, the janitor and the
// HTTP handler. ManageOrders is optional; its routes answer 503 without it.
func buildComponents(cfg *config.Config, db *sql.DB, mgr *metrics.Manager, log *slog.Logger) (*components, error) {
	if !cfg.Caspio.Configured() {
		log.Warn("caspio credentials not configured; caspio routes will fail", "domain", "main")
	}
	caspioTokens, caspio, err := newUpstream("caspio", cfg.Caspio, upstream.CaspioShape, cfg, mgr, log)
	if err != nil {
		return nil, err
	}
	deps := app.Deps{Caspio: caspio, Cache: cfg.Cache, Metrics: mgr, Logger: log}
	tokens := map[string]httpx.TokenState{"caspio": caspioTokens}
	if cfg.ManageOrders.Configured() {
		moTokens, mo, err := newUpstream("manageorders", cfg.ManageOrders, upstream.ManageOrdersShape, cfg, mgr, log)
		if err != nil {
			return nil, err
		}
		deps.ManageOrders = mo
		tokens["manageorders"] = moTokens
	} else {
		log.Info("manageorders not configured; its routes are disabled", "domain", "main")
	}

	svc := app.New(deps)
	jan := janitor.New(svc.SweepTargets(), mgr, janitor.Config{Interval: cfg.Janitor.Interval, Logger: log})

	readiness := func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if !cfg.Caspio.Configured() {
			return errors.New("caspio credentials not configured")
		}
		return nil
	}
	h := httpx.New(svc, readiness)
	h.Tokens = tokens
	h.Janitor = jan.MetricsSnapshot
	h.Metrics = metrics.Handler(mgr, cfg.Metrics.Token)
	h.Recorder = mgr
	h.CORSOrigin = cfg.CORSOrigin
	h.Logger = log
	return &components{svc: svc, handler: h, janitor: jan}, nil
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// Fetch-all routes may run for the whole pagination budget.
		WriteTimeout: cfg.Pagination.TotalTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// run serves until ctx is canceled, then drains requests, stops the janitor
// and flushes metrics.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if err := ensureDataDir(cfg.DataDir); err != nil {
		return err
	}
	db, mgr, err := openMetrics(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := buildComponents(cfg, db, mgr, log)
	if err != nil {
		return err
	}
	// Background workers outlive ctx until shutdown finishes.
	bg := context.WithoutCancel(ctx)
	mgr.Start(bg)
	c.janitor.Start(bg)

	srv := newServer(cfg, c.handler.Router())
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "domain", "main", "addr", cfg.Addr, "pid", os.Getpid())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down", "domain", "main")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "domain", "main", "err", err)
	}
	c.janitor.Stop()
	if err := mgr.Stop(shutdownCtx); err != nil {
		log.Warn("metrics flush on shutdown", "domain", "main", "err", err)
	}
	return serveErr
}
