// Package screener filters the instrument universe by price, volume,
// indicator and sector conditions.
package screener

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"nepse-simulator/internal/analysis/indicators"
	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/logging"
	"nepse-simulator/internal/models"
)

// HistorySource is the read side of the bar history the screener needs.
type HistorySource interface {
	Latest() (time.Time, bool)
	SeriesUntil(symbol string, asOf time.Time) []models.Bar
}

// Snapshot is one instrument's history up to the screening date. Derived
// values are memoized; a snapshot is used by one goroutine at a time.
type Snapshot struct {
	Instrument models.Instrument
	Bars       []models.Bar

	rsi map[int]float64
}

// Latest returns the most recent bar.
func (s *Snapshot) Latest() models.Bar {
	return s.Bars[len(s.Bars)-1]
}

// ChangePct returns the last day's percent change.
func (s *Snapshot) ChangePct() (float64, bool) {
	if len(s.Bars) < 2 {
		return 0, false
	}
	return s.Latest().ChangePercent(s.Bars[len(s.Bars)-2].Close), true
}

// RSI returns the latest RSI for period.
func (s *Snapshot) RSI(period int) (float64, bool) {
	if v, ok := s.rsi[period]; ok {
		return v, true
	}
	v, ok := indicators.LastValid(indicators.CalculateRSI(indicators.ClosePrices(s.Bars), period))
	if !ok {
		return 0, false
	}
	if s.rsi == nil {
		s.rsi = make(map[int]float64)
	}
	s.rsi[period] = v
	return v, true
}

// Match is a screened instrument with its headline numbers.
type Match struct {
	Symbol    string  `json:"symbol"`
	Sector    string  `json:"sector"`
	Close     float64 `json:"close"`
	ChangePct float64 `json:"change_pct"`
	Volume    int64   `json:"volume"`
	RSI       float64 `json:"rsi,omitempty"`
}

// Screener evaluates predicates over every instrument.
type Screener struct {
	source      HistorySource
	instruments []models.Instrument
	workers     int
	rsiPeriod   int
	logger      zerolog.Logger
}

// New creates a screener. workers bounds the per-instrument fan-out.
func New(source HistorySource, instruments []models.Instrument, workers int, logger zerolog.Logger) *Screener {
	if workers <= 0 {
		workers = 1
	}
	insts := make([]models.Instrument, len(instruments))
	copy(insts, instruments)
	return &Screener{
		source:      source,
		instruments: insts,
		workers:     workers,
		rsiPeriod:   14,
		logger:      logging.WithComponent(logger, "screener"),
	}
}

// Screen returns the sorted symbols satisfying every predicate.
func (s *Screener) Screen(ctx context.Context, preds ...Predicate) ([]string, error) {
	matches, err := s.Matches(ctx, preds...)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Symbol
	}
	return out, nil
}

// Matches is Screen returning the matched instruments' latest figures.
func (s *Screener) Matches(ctx context.Context, preds ...Predicate) ([]Match, error) {
	asOf, ok := s.source.Latest()
	if !ok {
		return nil, apperrors.NewNoDataError("screen", 0, 1)
	}
	for _, p := range preds {
		if v, ok := p.(validator); ok {
			if err := v.Validate(); err != nil {
				return nil, err
			}
		}
	}

	type outcome struct {
		match Match
		ok    bool
		err   error
	}

	p := pool.NewWithResults[outcome]().WithMaxGoroutines(s.workers)
	for _, inst := range s.instruments {
		inst := inst
		p.Go(func() outcome {
			if ctx.Err() != nil {
				return outcome{err: ctx.Err()}
			}
			bars := s.source.SeriesUntil(inst.Symbol, asOf)
			if len(bars) == 0 {
				return outcome{}
			}
			snap := &Snapshot{Instrument: inst, Bars: bars}
			for _, pred := range preds {
				ok, err := pred.Eval(snap)
				if err != nil {
					return outcome{err: apperrors.Wrapf(err, "%s on %s", pred.Name(), inst.Symbol)}
				}
				if !ok {
					return outcome{}
				}
			}
			latest := snap.Latest()
			m := Match{
				Symbol: inst.Symbol,
				Sector: inst.Sector,
				Close:  latest.Close,
				Volume: latest.Volume,
			}
			m.ChangePct, _ = snap.ChangePct()
			m.RSI, _ = snap.RSI(s.rsiPeriod)
			return outcome{match: m, ok: true}
		})
	}

	var matches []Match
	for _, o := range p.Wait() {
		if o.err != nil {
			return nil, o.err
		}
		if o.ok {
			matches = append(matches, o.match)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Symbol < matches[j].Symbol })

	names := make([]string, len(preds))
	for i, pred := range preds {
		names[i] = pred.Name()
	}
	s.logger.Debug().
		Str("filters", strings.Join(names, " & ")).
		Int("matched", len(matches)).
		Int("universe", len(s.instruments)).
		Msg("Screen complete")
	return matches, nil
}
