package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/haukened/caspio-proxy/internal/cache"
)

// --- Fakes / Mocks ---

type fakeTarget struct {
	name  string
	mu    sync.Mutex
	count int
	err   error
	calls int
	at    time.Time
}

func (f *fakeTarget) Name() string { return f.name }

func (f *fakeTarget) DeleteExpired(ctx context.Context, t time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.at = t
	if f.err != nil {
		return 0, f.err
	}
	return f.count, nil
}

func TestJanitorCycleSuccess(t *testing.T) {
	a := &fakeTarget{name: "a", count: 3}
	b := &fakeTarget{name: "b", count: 2}
	j := New([]Target{a, b}, nil, Config{Interval: time.Hour, Logger: slog.Default()})
	j.runCycle(context.Background())
	mv := j.MetricsSnapshot()
	if mv.Swept != 5 || mv.Cycles != 1 || mv.Errors != 0 {
		t.Fatalf("unexpected metrics %+v", mv)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("expected one sweep per target, got %d/%d", a.calls, b.calls)
	}
}

func TestJanitorCycleErrorContinues(t *testing.T) {
	bad := &fakeTarget{name: "bad", err: errors.New("boom")}
	good := &fakeTarget{name: "good", count: 2}
	j := New([]Target{bad, good}, nil, Config{Interval: time.Hour})
	j.runCycle(context.Background())
	mv := j.MetricsSnapshot()
	if mv.Swept != 2 || mv.Errors != 1 || mv.Cycles != 1 {
		t.Fatalf("metrics after error %+v", mv)
	}
	if good.calls != 1 {
		t.Fatalf("expected sweep to continue past a failing target")
	}
}

func TestJanitorCanceledNotCountedAsError(t *testing.T) {
	tg := &fakeTarget{name: "a", err: context.Canceled}
	j := New([]Target{tg}, nil, Config{Interval: time.Hour})
	j.runCycle(context.Background())
	if mv := j.MetricsSnapshot(); mv.Errors != 0 {
		t.Fatalf("cancellation should not count as error: %+v", mv)
	}
}

func TestJanitorUsesInjectedClock(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tg := &fakeTarget{name: "a"}
	j := New([]Target{tg}, nil, Config{Now: func() time.Time { return fixed }})
	j.runCycle(context.Background())
	if !tg.at.Equal(fixed) {
		t.Fatalf("sweep time = %v, want %v", tg.at, fixed)
	}
}

func TestStartStopLoop(t *testing.T) {
	tg := &fakeTarget{name: "a", count: 1}
	j := New([]Target{tg}, nil, Config{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	j.Start(ctx)
	time.Sleep(15 * time.Millisecond)
	j.Stop()
	cancel()
	mv := j.MetricsSnapshot()
	if mv.Cycles == 0 {
		t.Fatalf("expected at least one cycle")
	}
}

func TestStopWithoutStart(t *testing.T) {
	j := New(nil, nil, Config{})
	done := make(chan struct{})
	go func() { j.Stop(); j.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a janitor that never started")
	}
}

func TestNewDefaults(t *testing.T) {
	j := New(nil, nil, Config{})
	if j.cfg.Interval <= 0 || j.cfg.Logger == nil || j.cfg.Now == nil {
		t.Fatalf("defaults not applied %+v", j.cfg)
	}
}

func TestStartAlreadyStarted(t *testing.T) {
	j := New(nil, nil, Config{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.Start(ctx)
	tkr := j.ticker
	j.Start(ctx)
	if j.ticker != tkr {
		t.Fatalf("ticker replaced unexpectedly")
	}
	j.Stop()
}

// externalCollector captures emitted metrics for verification.
type externalCollector struct {
	mu       sync.Mutex
	counters map[string]int64
	observes map[string][]int64
}

func newExternalCollector() *externalCollector {
	return &externalCollector{counters: make(map[string]int64), observes: make(map[string][]int64)}
}

func (e *externalCollector) Inc(name string, delta int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counters[name] += delta
}
func (e *externalCollector) Observe(name string, v int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observes[name] = append(e.observes[name], v)
}

func TestJanitorExternalMetrics(t *testing.T) {
	ec := newExternalCollector()
	j := New([]Target{&fakeTarget{name: "a", count: 4}}, ec, Config{Interval: time.Hour})
	j.runCycle(context.Background())
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.counters[CounterSwept] != 4 {
		t.Fatalf("expected external counter 4 got %d", ec.counters[CounterSwept])
	}
	obs := ec.observes[SummaryPerCycle]
	if len(obs) != 1 || obs[0] != 4 {
		t.Fatalf("unexpected observations %+v", obs)
	}
}

func TestJanitorSweepsRealCache(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	inv := cache.New[string, int](cache.Options{Name: "inventory", TTL: 5 * time.Minute, Capacity: 500, Now: clock})
	inv.Set("PC61|Navy", 10)
	inv.Set("PC61|Red", 4)

	now = now.Add(6 * time.Minute)
	j := New([]Target{inv}, nil, Config{Now: clock})
	j.runCycle(context.Background())
	if inv.Len() != 0 {
		t.Fatalf("expected expired inventory entries swept, %d left", inv.Len())
	}
	if mv := j.MetricsSnapshot(); mv.Swept != 2 {
		t.Fatalf("swept = %d, want 2", mv.Swept)
	}
}
