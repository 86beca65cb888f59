// Package engine owns the simulated market: it advances trading days through
// the generator, enforces circuit and halt rules, appends to history and
// notifies observers.
package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"nepse-simulator/internal/config"
	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/generator"
	"nepse-simulator/internal/logging"
	"nepse-simulator/internal/metrics"
	"nepse-simulator/internal/models"
)

// Options configures a simulation run.
type Options struct {
	StartDate          time.Time
	MaxDays            int // 0 = unbounded
	Seed               int64
	Params             generator.Params
	HaltAfterLimitDays int // 0 disables automatic halts
}

// DefaultOptions returns options matching the default configuration.
func DefaultOptions() Options {
	return Options{
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Seed:      42,
		Params:    generator.DefaultParams(),
	}
}

// OptionsFromConfig builds engine options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	start, err := cfg.StartDate()
	if err != nil {
		return Options{}, err
	}
	params, err := generator.ParamsFromConfig(cfg)
	if err != nil {
		return Options{}, err
	}
	return Options{
		StartDate:          start,
		MaxDays:            cfg.Simulation.MaxDays,
		Seed:               cfg.Simulation.Seed,
		Params:             params,
		HaltAfterLimitDays: cfg.Market.HaltAfterLimitDays,
	}, nil
}

// BarWriter persists history.
type BarWriter interface {
	SaveBars(ctx context.Context, bars []models.Bar) error
}

// BarReader loads persisted history.
type BarReader interface {
	LoadBars(ctx context.Context) ([]models.Bar, error)
}

// Engine is the single writer of market state and history.
type Engine struct {
	// advanceMu serializes every mutation of history; held for a whole day
	// advance or a whole tick.
	advanceMu sync.Mutex
	mu        sync.RWMutex
	base      zerolog.Logger
	logger    zerolog.Logger

	opts        Options
	instruments []models.Instrument
	bySymbol    map[string]models.Instrument
	gen         *generator.Generator
	cal         generator.Calendar
	history     *History
	market      models.MarketState
	halted      map[string]bool

	realtime atomic.Bool

	obsMu     sync.RWMutex
	observers []Observer
}

// New creates an uninitialized engine.
func New(logger zerolog.Logger) *Engine {
	return &Engine{
		base:    logger,
		logger:  logging.WithComponent(logger, "engine"),
		history: NewHistory(),
		halted:  make(map[string]bool),
		market: models.MarketState{
			Session:     models.SessionClosed,
			State:       models.StateUninitialized,
			Instruments: map[string]models.InstrumentState{},
		},
	}
}

// Initialize loads the universe, seeds prices and resets history.
// It may be called again to re-initialize a stopped simulation.
func (e *Engine) Initialize(instruments []models.Instrument, opts Options) error {
	if e.realtime.Load() || !e.advanceMu.TryLock() {
		return apperrors.NewConcurrentAdvanceError("initialize")
	}
	defer e.advanceMu.Unlock()

	if len(instruments) == 0 {
		return apperrors.NewConfigError("universe", 0, "universe is empty")
	}
	if opts.MaxDays < 0 {
		return apperrors.NewConfigError("simulation.max_days", opts.MaxDays, "must be non-negative")
	}
	if opts.HaltAfterLimitDays < 0 {
		return apperrors.NewConfigError("market.halt_after_limit_days", opts.HaltAfterLimitDays, "must be non-negative")
	}
	if err := opts.Params.Validate(); err != nil {
		return err
	}

	sorted := make([]models.Instrument, len(instruments))
	copy(sorted, instruments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })

	bySymbol := make(map[string]models.Instrument, len(sorted))
	for _, inst := range sorted {
		if err := inst.Validate(); err != nil {
			return apperrors.NewConfigError("universe."+inst.Symbol, inst.Symbol, err.Error())
		}
		if _, dup := bySymbol[inst.Symbol]; dup {
			return apperrors.NewConfigError("universe."+inst.Symbol, inst.Symbol, "duplicate symbol")
		}
		bySymbol[inst.Symbol] = inst
	}

	gen, err := generator.New(opts.Seed, sorted, opts.Params, e.base)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.opts = opts
	e.instruments = sorted
	e.bySymbol = bySymbol
	e.gen = gen
	e.cal = gen.Calendar()
	e.history = NewHistory()
	e.halted = make(map[string]bool)
	e.market = e.seedMarket()
	metrics.HaltedInstruments.Set(0)

	e.logger.Info().
		Int("instruments", len(sorted)).
		Int64("seed", opts.Seed).
		Str("start", opts.StartDate.Format(models.DateLayout)).
		Msg("Simulation initialized")
	return nil
}

func (e *Engine) seedMarket() models.MarketState {
	state := models.MarketState{
		Session:     models.SessionClosed,
		State:       models.StateReady,
		Instruments: make(map[string]models.InstrumentState, len(e.instruments)),
	}
	for _, inst := range e.instruments {
		p := inst.InitialPrice
		state.Instruments[inst.Symbol] = models.InstrumentState{
			Symbol:    inst.Symbol,
			Sector:    inst.Sector,
			Price:     p,
			PrevClose: p,
			Open:      p,
			High:      p,
			Low:       p,
			Status:    models.CircuitNormal,
		}
	}
	return state
}

// AdvanceOneDay generates and commits one trading day for every instrument.
func (e *Engine) AdvanceOneDay(ctx context.Context) ([]models.Bar, error) {
	const op = "advance_one_day"
	if e.realtime.Load() || !e.advanceMu.TryLock() {
		return nil, apperrors.NewConcurrentAdvanceError(op)
	}
	defer e.advanceMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	e.mu.RLock()
	state := e.market.State
	session := e.market.Session
	prior := e.market.Clone()
	halted := make(map[string]bool, len(e.halted))
	for s := range e.halted {
		halted[s] = true
	}
	e.mu.RUnlock()

	if err := checkAdvance(state, op); err != nil {
		return nil, err
	}
	if session == models.SessionOpen {
		return nil, apperrors.NewSimulationError(string(state), op, "intraday session is open")
	}

	date := e.nextDate(prior)
	bars := make([]models.Bar, 0, len(e.instruments))
	prev := make(map[string]float64, len(e.instruments))
	for _, inst := range e.instruments {
		st := prior.Instruments[inst.Symbol]
		prev[inst.Symbol] = st.Price
		if halted[inst.Symbol] {
			bars = append(bars, generator.HaltedBar(inst.Symbol, date, st.Price))
			continue
		}
		bars = append(bars, e.gen.NextBar(inst, date, st.Price))
	}

	snapshot, err := e.commitDay(date, bars, prev, op)
	if err != nil {
		return nil, err
	}
	metrics.AdvanceDuration.Observe(time.Since(start).Seconds())

	observers := e.observerList()
	notifyObservers(e.logger, observers, hookPriceUpdate, snapshot)
	notifyObservers(e.logger, observers, hookSessionClose, snapshot)
	return bars, nil
}

// Run advances n days sequentially. It stops at the first failure and
// reports how many days were committed; committed days are kept.
func (e *Engine) Run(ctx context.Context, n int) (int, error) {
	if n < 0 {
		return 0, apperrors.NewConfigError("days", n, "must be non-negative")
	}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if _, err := e.AdvanceOneDay(ctx); err != nil {
			return i, err
		}
	}
	return n, nil
}

func checkAdvance(state models.SimulationState, op string) error {
	switch state {
	case models.StateUninitialized:
		return apperrors.NewSimulationError(string(state), op, "engine is not initialized")
	case models.StatePaused:
		return apperrors.NewSimulationError(string(state), op, "simulation is paused")
	case models.StateCompleted:
		return apperrors.NewSimulationError(string(state), op, "simulation is completed")
	}
	return nil
}

func (e *Engine) nextDate(state models.MarketState) time.Time {
	if state.Day == 0 {
		return e.cal.OnOrAfter(e.opts.StartDate)
	}
	return e.cal.Next(state.Date)
}

// commitDay appends bars to history and folds them into market state.
// Callers hold advanceMu.
func (e *Engine) commitDay(date time.Time, bars []models.Bar, prev map[string]float64, op string) (models.MarketState, error) {
	if err := e.history.AppendDay(date, bars); err != nil {
		return models.MarketState{}, apperrors.NewSimulationError(string(e.State()), op, err.Error())
	}

	e.mu.Lock()
	for _, b := range bars {
		st := e.market.Instruments[b.Symbol]
		st.PrevClose = prev[b.Symbol]
		st.Price = b.Close
		st.Open = b.Open
		st.High = b.High
		st.Low = b.Low
		st.Volume = b.Volume
		st.Status = b.Circuit
		if b.Circuit.IsLimit() {
			st.LimitStreak++
			logging.LogCircuit(e.logger, b.Symbol, string(b.Circuit), st.PrevClose, b.Close)
		} else {
			st.LimitStreak = 0
		}

		switch {
		case e.halted[b.Symbol]:
			st.Status = models.CircuitHalted
		case e.opts.HaltAfterLimitDays > 0 && st.LimitStreak >= e.opts.HaltAfterLimitDays:
			e.halted[b.Symbol] = true
			st.Status = models.CircuitHalted
			e.logger.Warn().
				Str("symbol", b.Symbol).
				Int("limit_days", st.LimitStreak).
				Msg("Trading halted after consecutive limit closes")
		}
		e.market.Instruments[b.Symbol] = st
		metrics.BarsGenerated.WithLabelValues(string(b.Circuit)).Inc()
	}

	e.market.Date = date
	e.market.Day++
	e.market.Minute = 0
	e.market.Session = models.SessionClosed
	switch e.market.State {
	case models.StatePaused, models.StateCompleted:
	default:
		e.market.State = models.StateRunning
	}
	if e.opts.MaxDays > 0 && e.market.Day >= e.opts.MaxDays {
		e.market.State = models.StateCompleted
		e.logger.Info().Int("days", e.market.Day).Msg("Simulation completed")
	}
	day := e.market.Day
	snapshot := e.market.Clone()
	metrics.HaltedInstruments.Set(float64(len(e.halted)))
	e.mu.Unlock()

	metrics.DaysAdvanced.Inc()
	logging.LogSessionClose(e.logger, date, day, len(bars))
	return snapshot, nil
}

// Pause suspends a ready or running simulation.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.market.State {
	case models.StateReady, models.StateRunning:
		e.market.State = models.StatePaused
		return nil
	}
	return apperrors.NewSimulationError(string(e.market.State), "pause", "only a ready or running simulation can be paused")
}

// Resume continues a paused simulation.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.market.State != models.StatePaused {
		return apperrors.NewSimulationError(string(e.market.State), "resume", "simulation is not paused")
	}
	if e.market.Day == 0 {
		e.market.State = models.StateReady
	} else {
		e.market.State = models.StateRunning
	}
	return nil
}

// Complete ends the simulation; further advances fail.
func (e *Engine) Complete() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.market.State == models.StateUninitialized {
		return apperrors.NewSimulationError(string(e.market.State), "complete", "engine is not initialized")
	}
	e.market.State = models.StateCompleted
	return nil
}

// State returns the lifecycle state.
func (e *Engine) State() models.SimulationState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.market.State
}

// Snapshot returns a copy of the current market state.
func (e *Engine) Snapshot() models.MarketState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.market.Clone()
}

// Quote returns the current state of one instrument.
func (e *Engine) Quote(symbol string) (models.InstrumentState, error) {
	symbol = strings.ToUpper(symbol)
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.market.Instruments[symbol]
	if !ok {
		return models.InstrumentState{}, apperrors.NewUnknownSymbolError(symbol, "not in universe")
	}
	return st, nil
}

// History returns the append-only bar history.
func (e *Engine) History() *History {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history
}

// Instruments returns the loaded universe ordered by symbol.
func (e *Engine) Instruments() []models.Instrument {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Instrument, len(e.instruments))
	copy(out, e.instruments)
	return out
}

// Events returns recent market, sector and company events.
func (e *Engine) Events() []generator.Event {
	e.mu.RLock()
	gen := e.gen
	e.mu.RUnlock()
	if gen == nil {
		return nil
	}
	return gen.Events()
}

// Options returns the options of the current run.
func (e *Engine) Options() Options {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opts
}

// Halt stops trading in symbol until ResumeTrading. Later days record a flat
// zero-volume bar.
func (e *Engine) Halt(symbol string) error {
	return e.setHalt(strings.ToUpper(symbol), true)
}

// ResumeTrading lifts a halt.
func (e *Engine) ResumeTrading(symbol string) error {
	return e.setHalt(strings.ToUpper(symbol), false)
}

func (e *Engine) setHalt(symbol string, halt bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.market.Instruments[symbol]
	if !ok {
		return apperrors.NewUnknownSymbolError(symbol, "not in universe")
	}
	if halt {
		e.halted[symbol] = true
		st.Status = models.CircuitHalted
	} else {
		delete(e.halted, symbol)
		st.Status = models.CircuitNormal
		st.LimitStreak = 0
	}
	e.market.Instruments[symbol] = st
	metrics.HaltedInstruments.Set(float64(len(e.halted)))
	e.logger.Info().Str("symbol", symbol).Bool("halted", halt).Msg("Trading status changed")
	return nil
}

// Halted returns the halted symbols.
func (e *Engine) Halted() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.halted))
	for s := range e.halted {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Observe registers an observer for price updates and session closes.
func (e *Engine) Observe(o Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, o)
}

func (e *Engine) observerList() []Observer {
	e.obsMu.RLock()
	defer e.obsMu.RUnlock()
	out := make([]Observer, len(e.observers))
	copy(out, e.observers)
	return out
}

// Save writes the full history to w.
func (e *Engine) Save(ctx context.Context, w BarWriter) error {
	bars := e.History().All()
	if err := w.SaveBars(ctx, bars); err != nil {
		return apperrors.Wrap(err, "failed to save history")
	}
	e.logger.Info().Int("bars", len(bars)).Msg("History saved")
	return nil
}

// Restore replaces history with the bars from r and rebuilds market state
// from the last close of every instrument.
func (e *Engine) Restore(ctx context.Context, r BarReader) error {
	const op = "restore"
	if e.realtime.Load() || !e.advanceMu.TryLock() {
		return apperrors.NewConcurrentAdvanceError(op)
	}
	defer e.advanceMu.Unlock()

	if e.State() == models.StateUninitialized {
		return apperrors.NewSimulationError(string(models.StateUninitialized), op, "engine is not initialized")
	}

	bars, err := r.LoadBars(ctx)
	if err != nil {
		return apperrors.Wrap(err, "failed to load history")
	}

	byDate := make(map[string][]models.Bar)
	for _, b := range bars {
		if _, ok := e.bySymbol[b.Symbol]; !ok {
			return apperrors.NewUnknownSymbolError(b.Symbol, "stored history references an instrument outside the universe")
		}
		byDate[b.DateKey()] = append(byDate[b.DateKey()], b)
	}
	keys := make([]string, 0, len(byDate))
	for k := range byDate {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	history := NewHistory()
	for _, k := range keys {
		day := byDate[k]
		if err := history.AppendDay(day[0].Date, day); err != nil {
			return apperrors.NewSimulationError(string(e.State()), op, err.Error())
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = history
	e.halted = make(map[string]bool)
	market := e.seedMarket()
	for _, inst := range e.instruments {
		series := history.Series(inst.Symbol)
		if len(series) == 0 {
			continue
		}
		last := series[len(series)-1]
		st := market.Instruments[inst.Symbol]
		if len(series) > 1 {
			st.PrevClose = series[len(series)-2].Close
		}
		st.Price = last.Close
		st.Open = last.Open
		st.High = last.High
		st.Low = last.Low
		st.Volume = last.Volume
		st.Status = last.Circuit
		for i := len(series) - 1; i >= 0 && series[i].Circuit.IsLimit(); i-- {
			st.LimitStreak++
		}
		// The bar that triggered an automatic halt is stored with its limit
		// status, so the halt is rebuilt from the streak.
		if last.Circuit == models.CircuitHalted ||
			(e.opts.HaltAfterLimitDays > 0 && st.LimitStreak >= e.opts.HaltAfterLimitDays) {
			e.halted[inst.Symbol] = true
			st.Status = models.CircuitHalted
		}
		market.Instruments[inst.Symbol] = st
	}
	if n := history.Len(); n > 0 {
		last, _ := history.Latest()
		market.Date = last
		market.Day = n
		market.State = models.StateRunning
		if e.opts.MaxDays > 0 && n >= e.opts.MaxDays {
			market.State = models.StateCompleted
		}
	}
	e.market = market
	metrics.HaltedInstruments.Set(float64(len(e.halted)))

	e.logger.Info().Int("bars", len(bars)).Int("days", market.Day).Msg("History restored")
	return nil
}
