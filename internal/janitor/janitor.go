// Package janitor runs the periodic sweep that drops expired cache entries.
// Caches already ignore stale entries on read; the sweep only bounds memory for
// keys that are never read again.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Target is a cache the janitor can sweep.
type Target interface {
	Name() string
	// DeleteExpired removes entries stale at t and returns the number removed.
	DeleteExpired(ctx context.Context, t time.Time) (int, error)
}

// Recorder receives sweep metrics. *metrics.Manager satisfies it.
type Recorder interface {
	Inc(name string, delta int64)
	Observe(name string, v int64)
}

const (
	CounterSwept     = "janitor_swept_total"
	SummaryPerCycle  = "janitor_swept_per_cycle"
	CounterSweepFail = "janitor_sweep_errors_total"
)

// Config holds tunables for the Janitor.
type Config struct {
	Interval time.Duration // how often a cycle begins
	Logger   *slog.Logger  // optional logger (defaults to slog.Default())
	Now      func() time.Time
}

// MetricsView is a read-only snapshot safe to copy.
type MetricsView struct {
	Cycles              uint64 `json:"cycles"`
	Swept               uint64 `json:"swept"`
	Errors              uint64 `json:"errors"`
	CycleLastDurationMS int64  `json:"cycle_last_duration_ms"`
}

// Janitor encapsulates the background sweep loop.
type Janitor struct {
	targets []Target
	rec     Recorder
	cfg     Config

	mu      sync.Mutex
	metrics MetricsView

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs but does not start a Janitor. rec may be nil.
func New(targets []Target, rec Recorder, cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Janitor{
		targets: targets,
		rec:     rec,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the janitor loop in a new goroutine.
func (j *Janitor) Start(ctx context.Context) {
	if j.ticker != nil {
		return
	} // already started
	j.ticker = time.NewTicker(j.cfg.Interval)
	go j.loop(ctx)
}

// Stop signals the loop to exit and waits for completion. Stop on a janitor
// that was never started returns immediately.
func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stopCh) })
	if j.ticker == nil {
		return
	}
	<-j.doneCh
}

// MetricsSnapshot returns a copy of current metrics.
func (j *Janitor) MetricsSnapshot() MetricsView {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.metrics
}

func (j *Janitor) loop(ctx context.Context) {
	log := j.cfg.Logger.With("domain", "janitor")
	defer func() {
		j.ticker.Stop()
		close(j.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("janitor stop", "reason", "context_cancel")
			return
		case <-j.stopCh:
			log.Info("janitor stop", "reason", "stop_signal")
			return
		case <-j.ticker.C:
			j.runCycle(ctx)
		}
	}
}

// runCycle sweeps every target once. A failing target does not stop the rest.
func (j *Janitor) runCycle(ctx context.Context) {
	start := time.Now()
	log := j.cfg.Logger.With("domain", "janitor", "action", "cycle")
	now := j.cfg.Now()
	total, failed := 0, 0
	for _, t := range j.targets {
		n, err := t.DeleteExpired(ctx, now)
		total += n
		if err != nil && !errors.Is(err, context.Canceled) {
			failed++
			log.Error("sweep", "cache", t.Name(), "error", err)
		}
		if n > 0 {
			log.Debug("swept", "cache", t.Name(), "removed", n)
		}
	}
	elapsed := time.Since(start)

	j.mu.Lock()
	j.metrics.Cycles++
	j.metrics.Swept += uint64(total)
	j.metrics.Errors += uint64(failed)
	j.metrics.CycleLastDurationMS = elapsed.Milliseconds()
	j.mu.Unlock()

	if j.rec != nil {
		if total > 0 {
			j.rec.Inc(CounterSwept, int64(total))
		}
		if failed > 0 {
			j.rec.Inc(CounterSweepFail, int64(failed))
		}
		j.rec.Observe(SummaryPerCycle, int64(total))
	}
	log.Info("cycle complete", "swept", total, "targets", len(j.targets), "ms", elapsed.Milliseconds())
}
