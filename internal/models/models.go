// Package models provides domain models for the market simulator.
package models

import (
	"fmt"
	"math"
	"time"
)

// DateLayout is the canonical trading-date format used in storage and output.
const DateLayout = "2006-01-02"

// CircuitStatus represents the circuit/halt status of an instrument.
type CircuitStatus string

const (
	CircuitNormal CircuitStatus = "NORMAL"
	CircuitUpper  CircuitStatus = "UPPER_LIMIT"
	CircuitLower  CircuitStatus = "LOWER_LIMIT"
	CircuitHalted CircuitStatus = "HALTED"
)

// Tradable reports whether orders may execute against an instrument in this status.
// Limit statuses still trade at the clipped price.
func (s CircuitStatus) Tradable() bool {
	return s != CircuitHalted
}

// IsLimit reports whether the status is an upper or lower circuit.
func (s CircuitStatus) IsLimit() bool {
	return s == CircuitUpper || s == CircuitLower
}

// ParseCircuitStatus parses a stored status, defaulting to NORMAL for empty input.
func ParseCircuitStatus(s string) (CircuitStatus, error) {
	switch CircuitStatus(s) {
	case "", CircuitNormal:
		return CircuitNormal, nil
	case CircuitUpper, CircuitLower, CircuitHalted:
		return CircuitStatus(s), nil
	default:
		return CircuitNormal, fmt.Errorf("unknown circuit status: %q", s)
	}
}

// Instrument is a listed company. Immutable once loaded.
type Instrument struct {
	Symbol       string
	Name         string
	Sector       string
	ListedShares int64
	PaidUpValue  float64
	BaseVolume   int64
	InitialPrice float64

	// EPS is trailing earnings per share; nil when not reported.
	EPS *float64
}

// Validate checks the required fields of an instrument record.
func (i Instrument) Validate() error {
	switch {
	case i.Symbol == "":
		return fmt.Errorf("instrument symbol is required")
	case i.Sector == "":
		return fmt.Errorf("instrument %s: sector is required", i.Symbol)
	case i.ListedShares < 0:
		return fmt.Errorf("instrument %s: listed shares must be non-negative", i.Symbol)
	case i.PaidUpValue < 0:
		return fmt.Errorf("instrument %s: paid-up value must be non-negative", i.Symbol)
	case i.BaseVolume < 0:
		return fmt.Errorf("instrument %s: base volume must be non-negative", i.Symbol)
	case i.InitialPrice <= 0 || math.IsNaN(i.InitialPrice) || math.IsInf(i.InitialPrice, 0):
		return fmt.Errorf("instrument %s: initial price must be positive", i.Symbol)
	case i.EPS != nil && (math.IsNaN(*i.EPS) || math.IsInf(*i.EPS, 0)):
		return fmt.Errorf("instrument %s: eps must be finite", i.Symbol)
	}
	return nil
}

// Earnings returns the earnings per share when it is reported.
func (i Instrument) Earnings() (float64, bool) {
	if i.EPS == nil {
		return 0, false
	}
	return *i.EPS, true
}

// PERatio is price over earnings per share. It is undefined unless
// earnings are reported and positive.
func (i Instrument) PERatio(price float64) (float64, bool) {
	eps, ok := i.Earnings()
	if !ok || eps <= 0 {
		return 0, false
	}
	return price / eps, true
}

// MarketCap returns listed shares valued at price.
func (i Instrument) MarketCap(price float64) float64 {
	return float64(i.ListedShares) * price
}

// Bar is one OHLCV row for one instrument on one trading date (or intraday tick).
type Bar struct {
	Date    time.Time
	Symbol  string
	Open    float64
	High    float64
	Low     float64
	Close   float64
	Volume  int64
	Circuit CircuitStatus
}

// Valid reports whether low <= min(open, close) <= max(open, close) <= high and volume >= 0.
func (b Bar) Valid() bool {
	lo := math.Min(b.Open, b.Close)
	hi := math.Max(b.Open, b.Close)
	return b.Low <= lo && hi <= b.High && b.Volume >= 0
}

// ChangePercent returns the percent change of this bar's close versus prevClose.
func (b Bar) ChangePercent(prevClose float64) float64 {
	if prevClose == 0 {
		return 0
	}
	return (b.Close - prevClose) / prevClose * 100
}

// DateKey returns the bar date formatted with DateLayout.
func (b Bar) DateKey() string {
	return b.Date.Format(DateLayout)
}

// SimulationState is the lifecycle state of the simulation engine.
type SimulationState string

const (
	StateUninitialized SimulationState = "UNINITIALIZED"
	StateReady         SimulationState = "READY"
	StateRunning       SimulationState = "RUNNING"
	StatePaused        SimulationState = "PAUSED"
	StateCompleted     SimulationState = "COMPLETED"
)

// SessionPhase tracks whether the intraday session is open.
type SessionPhase string

const (
	SessionClosed SessionPhase = "CLOSED"
	SessionOpen   SessionPhase = "OPEN"
)

// InstrumentState is the per-instrument part of the market state.
type InstrumentState struct {
	Symbol    string        `json:"symbol"`
	Sector    string        `json:"sector"`
	Price     float64       `json:"price"`
	PrevClose float64       `json:"prev_close"`
	Open      float64       `json:"open"`
	High      float64       `json:"high"`
	Low       float64       `json:"low"`
	Volume    int64         `json:"volume"`
	Status    CircuitStatus `json:"status"`
	// LimitStreak counts consecutive closes at a circuit limit.
	LimitStreak int `json:"limit_streak"`
}

// ChangePercent returns the change of the current price versus the previous close.
func (s InstrumentState) ChangePercent() float64 {
	if s.PrevClose == 0 {
		return 0
	}
	return (s.Price - s.PrevClose) / s.PrevClose * 100
}

// MarketState is a snapshot of the simulated market.
type MarketState struct {
	Date        time.Time                  `json:"date"`
	Minute      int                        `json:"minute"`
	Day         int                        `json:"day"`
	Session     SessionPhase               `json:"session"`
	State       SimulationState            `json:"state"`
	Instruments map[string]InstrumentState `json:"instruments"`
}

// Clone returns a deep copy safe to hand to observers.
func (m MarketState) Clone() MarketState {
	out := m
	out.Instruments = make(map[string]InstrumentState, len(m.Instruments))
	for k, v := range m.Instruments {
		out.Instruments[k] = v
	}
	return out
}

// Breadth counts advancing, declining and unchanged instruments in the snapshot.
func (m MarketState) Breadth() (advancing, declining, unchanged int) {
	for _, s := range m.Instruments {
		switch {
		case s.Price > s.PrevClose:
			advancing++
		case s.Price < s.PrevClose:
			declining++
		default:
			unchanged++
		}
	}
	return
}

// TotalVolume sums the session volume across instruments.
func (m MarketState) TotalVolume() int64 {
	var total int64
	for _, s := range m.Instruments {
		total += s.Volume
	}
	return total
}
