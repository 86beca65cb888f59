package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"nepse-simulator/internal/config"
	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/logging"
	"nepse-simulator/internal/metrics"
	"nepse-simulator/internal/models"
)

// RealTimeConfig controls the intraday scheduler.
type RealTimeConfig struct {
	Interval         time.Duration
	MinutesPerTick   int
	TradingMinutes   int
	QueueSize        int
	VolatilityFactor float64
	Continuous       bool
}

// RealTimeConfigFrom converts the [realtime] configuration section.
func RealTimeConfigFrom(c config.RealTimeConfig) RealTimeConfig {
	return RealTimeConfig{
		Interval:         c.TickInterval,
		MinutesPerTick:   c.MinutesPerTick,
		TradingMinutes:   c.TradingMinutes,
		QueueSize:        c.QueueSize,
		VolatilityFactor: c.VolatilityFactor,
		Continuous:       c.Continuous,
	}
}

// Validate checks the scheduler settings.
func (c RealTimeConfig) Validate() error {
	switch {
	case c.Interval <= 0:
		return apperrors.NewConfigError("realtime.tick_interval", c.Interval, "must be positive")
	case c.MinutesPerTick <= 0:
		return apperrors.NewConfigError("realtime.minutes_per_tick", c.MinutesPerTick, "must be positive")
	case c.TradingMinutes <= 0:
		return apperrors.NewConfigError("realtime.trading_minutes", c.TradingMinutes, "must be positive")
	case c.QueueSize <= 0:
		return apperrors.NewConfigError("realtime.queue_size", c.QueueSize, "must be positive")
	case c.VolatilityFactor < 0:
		return apperrors.NewConfigError("realtime.volatility_factor", c.VolatilityFactor, "must be non-negative")
	}
	return nil
}

// LoopStatus is the lifecycle of a real-time loop.
type LoopStatus string

const (
	LoopIdle    LoopStatus = "IDLE"
	LoopRunning LoopStatus = "RUNNING"
	LoopStopped LoopStatus = "STOPPED"
	LoopFailed  LoopStatus = "FAILED"
)

// LoopStats counts tick outcomes.
type LoopStats struct {
	Produced int64 `json:"produced"`
	Skipped  int64 `json:"skipped"`
	Dropped  int64 `json:"dropped"`
}

type update struct {
	hook  string
	state models.MarketState
}

// RealTime drives the engine on a wall-clock schedule. A producer goroutine
// generates ticks into a bounded queue and a dispatcher goroutine delivers
// them to observers, so a slow observer never delays tick generation. When
// the queue is full the oldest pending snapshot is dropped.
type RealTime struct {
	engine *Engine
	cfg    RealTimeConfig
	logger zerolog.Logger

	mu     sync.Mutex
	status LoopStatus
	err    error
	cancel context.CancelFunc
	done   chan struct{}
	queue  chan update

	produced atomic.Int64
	skipped  atomic.Int64
	dropped  atomic.Int64
}

// NewRealTime creates a real-time loop bound to the engine.
func (e *Engine) NewRealTime(cfg RealTimeConfig) (*RealTime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RealTime{
		engine: e,
		cfg:    cfg,
		logger: logging.WithComponent(e.base, "realtime"),
		status: LoopIdle,
	}, nil
}

// Start launches the loop and returns immediately. Manual advances are
// rejected with ConcurrentAdvanceError until the loop ends.
func (r *RealTime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == LoopRunning {
		return apperrors.NewSimulationError(string(r.status), "realtime_start", "loop already running")
	}
	if state := r.engine.State(); state == models.StateUninitialized || state == models.StateCompleted {
		return apperrors.NewSimulationError(string(state), "realtime_start", "engine cannot advance")
	}
	if !r.engine.realtime.CompareAndSwap(false, true) {
		return apperrors.NewConcurrentAdvanceError("realtime_start")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.status = LoopRunning
	r.err = nil
	r.done = make(chan struct{})
	r.queue = make(chan update, r.cfg.QueueSize)

	wg := conc.NewWaitGroup()
	queue := r.queue
	wg.Go(func() { r.produce(ctx, queue) })
	wg.Go(func() { r.dispatch(queue) })

	done := r.done
	go func() {
		wg.Wait()
		cancel()
		r.engine.realtime.Store(false)
		r.mu.Lock()
		if r.status == LoopRunning {
			r.status = LoopStopped
		}
		r.mu.Unlock()
		r.logger.Info().Str("status", string(r.Status())).Msg("Real-time loop ended")
		close(done)
	}()

	r.logger.Info().
		Dur("interval", r.cfg.Interval).
		Int("minutes_per_tick", r.cfg.MinutesPerTick).
		Int("trading_minutes", r.cfg.TradingMinutes).
		Msg("Real-time loop started")
	return nil
}

// Stop cancels the loop at the next tick boundary and waits for pending
// snapshots to be delivered.
func (r *RealTime) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the loop has fully stopped.
func (r *RealTime) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.done
}

// Status returns the loop status.
func (r *RealTime) Status() LoopStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Err returns the error that failed the loop, if any.
func (r *RealTime) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stats returns tick counters.
func (r *RealTime) Stats() LoopStats {
	return LoopStats{
		Produced: r.produced.Load(),
		Skipped:  r.skipped.Load(),
		Dropped:  r.dropped.Load(),
	}
}

// MarketStatus reports the current session status.
func (r *RealTime) MarketStatus() MarketStatus {
	return StatusOf(r.engine.Snapshot(), r.cfg.TradingMinutes)
}

func (r *RealTime) produce(ctx context.Context, queue chan update) {
	defer close(queue)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stop := r.runTick(ctx, queue); stop {
				return
			}
		}
	}
}

// runTick executes one tick and reports whether the loop should end.
func (r *RealTime) runTick(ctx context.Context, queue chan update) bool {
	res, err := r.engine.tick(ctx, r.cfg.MinutesPerTick, r.cfg.VolatilityFactor, r.cfg.TradingMinutes)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return true
		case apperrors.Is(err, apperrors.ErrConfig):
			r.fail(err)
			return true
		case apperrors.Is(err, apperrors.ErrSimulation) && r.engine.State() == models.StateCompleted:
			return true
		}
		r.skipped.Add(1)
		metrics.Ticks.WithLabelValues("skipped").Inc()
		r.logger.Warn().Err(err).Msg("Tick skipped")
		return false
	}
	if res.paused {
		return false
	}

	r.produced.Add(1)
	metrics.Ticks.WithLabelValues("produced").Inc()
	r.enqueue(queue, update{hook: hookPriceUpdate, state: res.update})
	if res.closed {
		r.enqueue(queue, update{hook: hookSessionClose, state: res.close})
		if !r.cfg.Continuous {
			return true
		}
	}
	return false
}

// enqueue never blocks; a full queue loses its oldest entry.
func (r *RealTime) enqueue(queue chan update, u update) {
	for {
		select {
		case queue <- u:
			return
		default:
		}
		select {
		case <-queue:
			r.dropped.Add(1)
			metrics.Ticks.WithLabelValues("dropped").Inc()
		default:
		}
	}
}

func (r *RealTime) dispatch(queue chan update) {
	for u := range queue {
		notifyObservers(r.logger, r.engine.observerList(), u.hook, u.state)
	}
}

func (r *RealTime) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = LoopFailed
	r.err = err
	r.logger.Error().Err(err).Msg("Real-time loop stopped on configuration error")
}
