package engine

import (
	"context"
	"time"

	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/generator"
	"nepse-simulator/internal/models"
)

// MarketStatus summarizes the intraday session.
type MarketStatus struct {
	Date         string                 `json:"date"`
	Day          int                    `json:"day"`
	State        models.SimulationState `json:"state"`
	IsOpen       bool                   `json:"is_open"`
	Minute       int                    `json:"minute"`
	TotalMinutes int                    `json:"total_minutes"`
	ElapsedPct   float64                `json:"time_elapsed_pct"`
	Advancing    int                    `json:"advancing"`
	Declining    int                    `json:"declining"`
	Unchanged    int                    `json:"unchanged"`
	TotalVolume  int64                  `json:"total_volume"`
}

// StatusOf derives the session status from a snapshot.
func StatusOf(state models.MarketState, tradingMinutes int) MarketStatus {
	adv, dec, unch := state.Breadth()
	status := MarketStatus{
		Day:          state.Day,
		State:        state.State,
		IsOpen:       state.Session == models.SessionOpen,
		Minute:       state.Minute,
		TotalMinutes: tradingMinutes,
		Advancing:    adv,
		Declining:    dec,
		Unchanged:    unch,
		TotalVolume:  state.TotalVolume(),
	}
	if !state.Date.IsZero() {
		status.Date = state.Date.Format(models.DateLayout)
	}
	if tradingMinutes > 0 {
		status.ElapsedPct = float64(state.Minute) / float64(tradingMinutes) * 100
		if status.ElapsedPct > 100 {
			status.ElapsedPct = 100
		}
	}
	return status
}

// tickResult is the outcome of one intraday tick.
type tickResult struct {
	paused bool
	update models.MarketState
	closed bool
	close  models.MarketState
}

// tick advances the intraday session by minutes, opening a session when none
// is open and closing it once tradingMinutes have elapsed. Cancellation is
// checked once on entry; a started tick always completes.
func (e *Engine) tick(ctx context.Context, minutes int, factor float64, tradingMinutes int) (tickResult, error) {
	const op = "tick"
	if minutes <= 0 || tradingMinutes <= 0 {
		return tickResult{}, apperrors.NewConfigError("realtime.minutes_per_tick", minutes, "session minutes must be positive")
	}
	if factor < 0 {
		return tickResult{}, apperrors.NewConfigError("realtime.volatility_factor", factor, "must be non-negative")
	}
	if !e.advanceMu.TryLock() {
		return tickResult{}, apperrors.NewConcurrentAdvanceError(op)
	}
	defer e.advanceMu.Unlock()

	if err := ctx.Err(); err != nil {
		return tickResult{}, err
	}

	e.mu.RLock()
	state := e.market.State
	session := e.market.Session
	prior := e.market.Clone()
	e.mu.RUnlock()

	if state == models.StatePaused {
		return tickResult{paused: true}, nil
	}
	if err := checkAdvance(state, op); err != nil {
		return tickResult{}, err
	}

	if session == models.SessionClosed {
		e.openSession(e.nextDate(prior), factor)
	}

	tradable := e.tradableInstruments()
	moves := e.gen.IntradayTick(tradable, minutes, factor)
	band := e.opts.Params.CircuitBand

	e.mu.Lock()
	for _, inst := range tradable {
		mv := moves[inst.Symbol]
		st := e.market.Instruments[inst.Symbol]
		st.Price, st.Status = generator.ApplyMove(st.Price, st.PrevClose, mv.Change, band)
		if st.Price > st.High {
			st.High = st.Price
		}
		if st.Price < st.Low {
			st.Low = st.Price
		}
		st.Volume += mv.Volume
		e.market.Instruments[inst.Symbol] = st
	}
	e.market.Minute += minutes
	if e.market.Minute > tradingMinutes {
		e.market.Minute = tradingMinutes
	}
	result := tickResult{update: e.market.Clone()}
	closing := e.market.Minute >= tradingMinutes
	e.mu.Unlock()

	if closing {
		snapshot, err := e.closeSession(op)
		if err != nil {
			return result, err
		}
		result.closed = true
		result.close = snapshot
	}
	return result, nil
}

// openSession sets opening prices for date. Callers hold advanceMu.
func (e *Engine) openSession(date time.Time, factor float64) {
	e.mu.RLock()
	prior := e.market.Clone()
	halted := make(map[string]bool, len(e.halted))
	for s := range e.halted {
		halted[s] = true
	}
	e.mu.RUnlock()

	opens := make(map[string]float64, len(e.instruments))
	for _, inst := range e.instruments {
		if halted[inst.Symbol] {
			continue
		}
		opens[inst.Symbol] = e.gen.OpeningPrice(prior.Instruments[inst.Symbol].Price, factor)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, inst := range e.instruments {
		st := e.market.Instruments[inst.Symbol]
		st.PrevClose = st.Price
		st.Volume = 0
		if open, ok := opens[inst.Symbol]; ok {
			st.Price = open
			st.Status = openingStatus(open, st.PrevClose, e.opts.Params.CircuitBand)
		}
		st.Open, st.High, st.Low = st.Price, st.Price, st.Price
		e.market.Instruments[inst.Symbol] = st
	}
	e.market.Date = date
	e.market.Minute = 0
	e.market.Session = models.SessionOpen
	e.logger.Info().Str("date", date.Format(models.DateLayout)).Msg("Session opened")
}

func openingStatus(open, prevClose, band float64) models.CircuitStatus {
	lower, upper := generator.Limits(prevClose, band)
	switch {
	case open >= upper:
		return models.CircuitUpper
	case open <= lower:
		return models.CircuitLower
	}
	return models.CircuitNormal
}

// closeSession turns the session OHLCV into daily bars and commits them.
// Callers hold advanceMu.
func (e *Engine) closeSession(op string) (models.MarketState, error) {
	e.mu.RLock()
	date := e.market.Date
	bars := make([]models.Bar, 0, len(e.instruments))
	prev := make(map[string]float64, len(e.instruments))
	for _, inst := range e.instruments {
		st := e.market.Instruments[inst.Symbol]
		prev[inst.Symbol] = st.PrevClose
		if e.halted[inst.Symbol] {
			bars = append(bars, generator.HaltedBar(inst.Symbol, date, st.Price))
			continue
		}
		bars = append(bars, models.Bar{
			Date:    date,
			Symbol:  inst.Symbol,
			Open:    st.Open,
			High:    st.High,
			Low:     st.Low,
			Close:   st.Price,
			Volume:  st.Volume,
			Circuit: st.Status,
		})
	}
	e.mu.RUnlock()

	return e.commitDay(date, bars, prev, op)
}

// CloseSession commits an open intraday session at current prices. It is a
// no-op when no session is open.
func (e *Engine) CloseSession(ctx context.Context) error {
	const op = "close_session"
	if e.realtime.Load() || !e.advanceMu.TryLock() {
		return apperrors.NewConcurrentAdvanceError(op)
	}
	defer e.advanceMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.RLock()
	open := e.market.Session == models.SessionOpen
	e.mu.RUnlock()
	if !open {
		return nil
	}

	snapshot, err := e.closeSession(op)
	if err != nil {
		return err
	}
	notifyObservers(e.logger, e.observerList(), hookSessionClose, snapshot)
	return nil
}

func (e *Engine) tradableInstruments() []models.Instrument {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Instrument, 0, len(e.instruments))
	for _, inst := range e.instruments {
		if !e.halted[inst.Symbol] {
			out = append(out, inst)
		}
	}
	return out
}
