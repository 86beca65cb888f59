package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/models"
)

func fastRealTime() RealTimeConfig {
	return RealTimeConfig{
		Interval:         time.Millisecond,
		MinutesPerTick:   60,
		TradingMinutes:   300,
		QueueSize:        16,
		VolatilityFactor: 1,
	}
}

func waitDone(t *testing.T, rt *RealTime) {
	t.Helper()
	select {
	case <-rt.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("real-time loop did not stop")
	}
}

func TestRealTimeSingleSession(t *testing.T) {
	e := newEngine(t, DefaultOptions())

	var mu sync.Mutex
	var updates, closes int
	var closed models.MarketState
	e.Observe(ObserverFuncs{
		PriceUpdate: func(models.MarketState) {
			mu.Lock()
			updates++
			mu.Unlock()
		},
		SessionClose: func(s models.MarketState) {
			mu.Lock()
			closes++
			closed = s
			mu.Unlock()
		},
	})

	rt, err := e.NewRealTime(fastRealTime())
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, rt)

	if rt.Status() != LoopStopped {
		t.Errorf("status = %s, want STOPPED", rt.Status())
	}
	if got := e.History().Len(); got != 1 {
		t.Fatalf("history has %d days, want 1", got)
	}
	for _, b := range e.History().All() {
		if !b.Valid() {
			t.Errorf("invalid session bar %+v", b)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if updates != 5 || closes != 1 {
		t.Errorf("updates/closes = %d/%d, want 5/1", updates, closes)
	}
	if closed.Session != models.SessionClosed || closed.Day != 1 {
		t.Errorf("close snapshot = day %d session %s", closed.Day, closed.Session)
	}
}

func TestRealTimeRejectsManualAdvance(t *testing.T) {
	e := newEngine(t, DefaultOptions())
	cfg := fastRealTime()
	cfg.Interval = 5 * time.Millisecond
	cfg.Continuous = true

	rt, err := e.NewRealTime(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err = e.AdvanceOneDay(context.Background())
	if !apperrors.Is(err, apperrors.ErrConcurrentAdvance) {
		t.Errorf("expected ConcurrentAdvanceError, got %v", err)
	}
	if err := rt.Start(context.Background()); err == nil {
		t.Error("second start should fail")
	}

	rt.Stop()
	if rt.Status() != LoopStopped {
		t.Errorf("status = %s, want STOPPED", rt.Status())
	}

	// Cancellation lands on a tick boundary: every committed day is whole.
	for _, d := range e.History().Dates() {
		if n := len(e.History().OnDate(d)); n != 5 {
			t.Errorf("%s has %d bars, want 5", d.Format(models.DateLayout), n)
		}
	}
	if err := e.CloseSession(context.Background()); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if _, err := e.AdvanceOneDay(context.Background()); err != nil {
		t.Errorf("advance after stop failed: %v", err)
	}
}

func TestRealTimeSlowObserverDoesNotStallTicks(t *testing.T) {
	e := newEngine(t, DefaultOptions())
	cfg := fastRealTime()
	cfg.MinutesPerTick = 1
	cfg.QueueSize = 1
	cfg.Continuous = true

	release := make(chan struct{})
	var blocked atomic.Bool
	e.Observe(ObserverFuncs{PriceUpdate: func(models.MarketState) {
		if blocked.CompareAndSwap(false, true) {
			<-release
		}
	}})

	rt, err := e.NewRealTime(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rt.Stats().Produced < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stats := rt.Stats()
	close(release)
	rt.Stop()

	if stats.Produced < 5 {
		t.Fatalf("producer stalled behind a blocked observer: %+v", stats)
	}
	if rt.Stats().Dropped == 0 {
		t.Error("expected snapshots to be dropped while the observer was blocked")
	}
}

func TestRealTimeConfigValidation(t *testing.T) {
	e := newEngine(t, DefaultOptions())
	cfg := fastRealTime()
	cfg.QueueSize = 0
	if _, err := e.NewRealTime(cfg); !apperrors.Is(err, apperrors.ErrConfig) {
		t.Errorf("expected ConfigError, got %v", err)
	}
}

func TestRealTimeRequiresInitializedEngine(t *testing.T) {
	e := New(zerolog.Nop())
	rt, err := e.NewRealTime(fastRealTime())
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.Start(context.Background()); !apperrors.Is(err, apperrors.ErrSimulation) {
		t.Errorf("expected SimulationError, got %v", err)
	}
}

func TestStatusOf(t *testing.T) {
	state := models.MarketState{
		Minute:  150,
		Session: models.SessionOpen,
		Instruments: map[string]models.InstrumentState{
			"A": {Price: 11, PrevClose: 10, Volume: 5},
			"B": {Price: 9, PrevClose: 10, Volume: 5},
			"C": {Price: 10, PrevClose: 10},
		},
	}
	s := StatusOf(state, 300)
	if !s.IsOpen || s.ElapsedPct != 50 || s.Advancing != 1 || s.Declining != 1 || s.Unchanged != 1 || s.TotalVolume != 10 {
		t.Errorf("unexpected status %+v", s)
	}
}

func TestRealTimeSkipsBusyTicks(t *testing.T) {
	e := newEngine(t, DefaultOptions())
	cfg := fastRealTime()
	cfg.MinutesPerTick = 1
	cfg.Continuous = true

	rt, err := e.NewRealTime(cfg)
	if err != nil {
		t.Fatal(err)
	}

	// Holding the advance lock makes every tick lose the race.
	e.advanceMu.Lock()
	if err := rt.Start(context.Background()); err != nil {
		e.advanceMu.Unlock()
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for rt.Stats().Skipped < 3 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	held := rt.Stats()
	status := rt.Status()
	e.advanceMu.Unlock()

	if held.Skipped < 3 {
		t.Errorf("skipped = %d while the engine was busy, want at least 3", held.Skipped)
	}
	if held.Produced != 0 {
		t.Errorf("produced = %d while the engine was busy, want 0", held.Produced)
	}
	if status != LoopRunning {
		t.Errorf("status = %s while skipping, want RUNNING", status)
	}

	deadline = time.Now().Add(2 * time.Second)
	for rt.Stats().Produced == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	rt.Stop()
	if rt.Stats().Produced == 0 {
		t.Error("loop did not recover after the engine was released")
	}
	if rt.Status() != LoopStopped || rt.Err() != nil {
		t.Errorf("status = %s err = %v, want STOPPED without error", rt.Status(), rt.Err())
	}
}

func TestRealTimeFailsOnConfigError(t *testing.T) {
	cases := map[string]func(*RealTimeConfig){
		"minutes per tick":  func(c *RealTimeConfig) { c.MinutesPerTick = 0 },
		"trading minutes":   func(c *RealTimeConfig) { c.TradingMinutes = -1 },
		"volatility factor": func(c *RealTimeConfig) { c.VolatilityFactor = -0.5 },
	}
	for name, broken := range cases {
		t.Run(name, func(t *testing.T) {
			e := newEngine(t, DefaultOptions())
			cfg := fastRealTime()
			cfg.Continuous = true
			rt, err := e.NewRealTime(cfg)
			if err != nil {
				t.Fatal(err)
			}
			// The constructor validates; corrupt the settings afterwards so
			// the tick itself reports the configuration error.
			broken(&rt.cfg)

			if err := rt.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			waitDone(t, rt)

			if rt.Status() != LoopFailed {
				t.Errorf("status = %s, want FAILED", rt.Status())
			}
			if !apperrors.Is(rt.Err(), apperrors.ErrConfig) {
				t.Errorf("Err() = %v, want ConfigError", rt.Err())
			}
			if s := rt.Stats(); s.Produced != 0 || s.Skipped != 0 {
				t.Errorf("stats = %+v, want no ticks", s)
			}
			if e.History().Len() != 0 {
				t.Error("failed loop committed a session")
			}
			if _, err := e.AdvanceOneDay(context.Background()); err != nil {
				t.Errorf("engine not released after failure: %v", err)
			}
		})
	}
}
