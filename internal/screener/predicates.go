package screener

import (
	"fmt"
	"math"
	"strings"

	"nepse-simulator/internal/analysis/indicators"
	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/models"
)

// Predicate is one screening condition evaluated against an instrument snapshot.
type Predicate interface {
	Name() string
	Eval(s *Snapshot) (bool, error)
}

type validator interface {
	Validate() error
}

// within reports min <= v <= max, where a zero max means no upper bound.
func within(v, min, max float64) bool {
	return v >= min && (max == 0 || v <= max)
}

func validateRange(field string, min, max float64) error {
	if min < 0 || math.IsNaN(min) {
		return apperrors.NewConfigError(field, min, "minimum must be non-negative")
	}
	if max != 0 && max < min {
		return apperrors.NewConfigError(field, max, "maximum must not be below minimum")
	}
	return nil
}

// PriceRange matches the latest close in [Min, Max].
type PriceRange struct {
	Min, Max float64
}

func (p PriceRange) Name() string { return fmt.Sprintf("price[%g,%g]", p.Min, p.Max) }

func (p PriceRange) Validate() error { return validateRange("price", p.Min, p.Max) }

func (p PriceRange) Eval(s *Snapshot) (bool, error) {
	return within(s.Latest().Close, p.Min, p.Max), nil
}

// MinVolume matches a latest volume of at least Min.
type MinVolume struct {
	Min int64
}

func (p MinVolume) Name() string { return fmt.Sprintf("volume>=%d", p.Min) }

func (p MinVolume) Validate() error {
	if p.Min < 0 {
		return apperrors.NewConfigError("volume", p.Min, "must be non-negative")
	}
	return nil
}

func (p MinVolume) Eval(s *Snapshot) (bool, error) {
	return s.Latest().Volume >= p.Min, nil
}

// RSIRange matches the latest RSI in [Min, Max]. Instruments without
// enough history for the period do not match.
type RSIRange struct {
	Period   int
	Min, Max float64
}

func (p RSIRange) Name() string { return fmt.Sprintf("rsi%d[%g,%g]", p.period(), p.Min, p.Max) }

func (p RSIRange) period() int {
	if p.Period <= 0 {
		return 14
	}
	return p.Period
}

func (p RSIRange) Validate() error {
	if p.Min < 0 || p.Max > 100 || p.Min > p.Max {
		return apperrors.NewConfigError("rsi", fmt.Sprintf("%g:%g", p.Min, p.Max), "range must lie within 0..100")
	}
	return nil
}

func (p RSIRange) Eval(s *Snapshot) (bool, error) {
	rsi, ok := s.RSI(p.period())
	if !ok {
		return false, nil
	}
	return rsi >= p.Min && rsi <= p.Max, nil
}

// SectorIn matches instruments in any of the listed sectors (case-insensitive).
type SectorIn struct {
	Sectors []string
}

func (p SectorIn) Name() string { return "sector in " + strings.Join(p.Sectors, ",") }

func (p SectorIn) Validate() error {
	if len(p.Sectors) == 0 {
		return apperrors.NewConfigError("sector", "", "at least one sector is required")
	}
	return nil
}

func (p SectorIn) Eval(s *Snapshot) (bool, error) {
	for _, sector := range p.Sectors {
		if strings.EqualFold(strings.TrimSpace(sector), s.Instrument.Sector) {
			return true, nil
		}
	}
	return false, nil
}

// AvgVolumeRange matches the rolling average volume over Period days in [Min, Max].
type AvgVolumeRange struct {
	Period   int
	Min, Max float64
}

func (p AvgVolumeRange) Name() string {
	return fmt.Sprintf("avgvolume%d[%g,%g]", p.period(), p.Min, p.Max)
}

func (p AvgVolumeRange) period() int {
	if p.Period <= 0 {
		return 20
	}
	return p.Period
}

func (p AvgVolumeRange) Validate() error { return validateRange("avgvolume", p.Min, p.Max) }

func (p AvgVolumeRange) Eval(s *Snapshot) (bool, error) {
	avg, err := indicators.AverageVolume(s.Bars, p.period())
	if err != nil {
		return false, nil
	}
	v, ok := indicators.LastValid(avg)
	if !ok {
		return false, nil
	}
	return within(v, p.Min, p.Max), nil
}

// PriceChangeRange matches the last day's percent change in [Min, Max].
// Bounds may be negative; NaN means unbounded on that side.
type PriceChangeRange struct {
	Min, Max float64
}

func (p PriceChangeRange) Name() string { return fmt.Sprintf("change[%g,%g]%%", p.Min, p.Max) }

func (p PriceChangeRange) Eval(s *Snapshot) (bool, error) {
	chg, ok := s.ChangePct()
	if !ok {
		return false, nil
	}
	return withinOpen(chg, p.Min, p.Max), nil
}

// withinOpen reports min <= v <= max where a NaN bound is open.
func withinOpen(v, min, max float64) bool {
	if !math.IsNaN(min) && v < min {
		return false
	}
	if !math.IsNaN(max) && v > max {
		return false
	}
	return true
}

// MACDSignal matches instruments whose MACD(12,26,9) state satisfies Want.
type MACDSignal struct {
	Want indicators.MACDState
}

func (p MACDSignal) Name() string { return "macd " + string(p.Want) }

func (p MACDSignal) Validate() error {
	switch p.Want {
	case indicators.MACDCrossover, indicators.MACDCrossunder, indicators.MACDPositive, indicators.MACDNegative:
		return nil
	}
	return apperrors.NewConfigError("macd", p.Want, "must be crossover, crossunder, positive or negative")
}

func (p MACDSignal) Eval(s *Snapshot) (bool, error) {
	values, err := indicators.NewMACD(12, 26, 9).Calculate(s.Bars)
	if err != nil {
		return false, nil
	}
	state, err := indicators.ClassifyMACD(values)
	if err != nil {
		return false, nil
	}
	return state.Matches(p.Want), nil
}

// CircuitCount matches instruments that closed at Status at least Min times
// in the last Days sessions (all history when Days is 0).
type CircuitCount struct {
	Status models.CircuitStatus
	Min    int
	Days   int
}

func (p CircuitCount) Name() string {
	return fmt.Sprintf("%s>=%d/%dd", strings.ToLower(string(p.Status)), p.Min, p.Days)
}

func (p CircuitCount) Validate() error {
	if !p.Status.IsLimit() {
		return apperrors.NewConfigError("circuit", p.Status, "status must be UPPER_LIMIT or LOWER_LIMIT")
	}
	if p.Min < 1 || p.Days < 0 {
		return apperrors.NewConfigError("circuit", p.Min, "minimum must be positive")
	}
	return nil
}

func (p CircuitCount) Eval(s *Snapshot) (bool, error) {
	bars := s.Bars
	if p.Days > 0 && len(bars) > p.Days {
		bars = bars[len(bars)-p.Days:]
	}
	upper, lower := indicators.CircuitCounts(bars)
	if p.Status == models.CircuitUpper {
		return upper >= p.Min, nil
	}
	return lower >= p.Min, nil
}

// MarketCapRange matches listed shares times latest close in [Min, Max].
type MarketCapRange struct {
	Min, Max float64
}

func (p MarketCapRange) Name() string { return fmt.Sprintf("mcap[%g,%g]", p.Min, p.Max) }

func (p MarketCapRange) Validate() error { return validateRange("mcap", p.Min, p.Max) }

func (p MarketCapRange) Eval(s *Snapshot) (bool, error) {
	return within(s.Instrument.MarketCap(s.Latest().Close), p.Min, p.Max), nil
}

// PERange matches the price-to-earnings ratio at the latest close in
// [Min, Max]. Instruments without positive reported earnings never match.
type PERange struct {
	Min, Max float64
}

func (p PERange) Name() string { return fmt.Sprintf("pe[%g,%g]", p.Min, p.Max) }

func (p PERange) Validate() error { return validateRange("pe", p.Min, p.Max) }

func (p PERange) Eval(s *Snapshot) (bool, error) {
	pe, ok := s.Instrument.PERatio(s.Latest().Close)
	if !ok {
		return false, nil
	}
	return within(pe, p.Min, p.Max), nil
}

// EPSRange matches reported earnings per share in [Min, Max]. Bounds may be
// negative; NaN means unbounded on that side.
type EPSRange struct {
	Min, Max float64
}

func (p EPSRange) Name() string { return fmt.Sprintf("eps[%g,%g]", p.Min, p.Max) }

func (p EPSRange) Validate() error {
	if !math.IsNaN(p.Min) && !math.IsNaN(p.Max) && p.Max < p.Min {
		return apperrors.NewConfigError("eps", p.Max, "maximum must not be below minimum")
	}
	return nil
}

func (p EPSRange) Eval(s *Snapshot) (bool, error) {
	eps, ok := s.Instrument.Earnings()
	if !ok {
		return false, nil
	}
	return withinOpen(eps, p.Min, p.Max), nil
}
