package indicators

import (
	"fmt"

	"nepse-simulator/internal/models"
)

// SMA calculates Simple Moving Average of closes.
type SMA struct {
	period int
}

// NewSMA creates a new SMA indicator.
func NewSMA(period int) *SMA {
	return &SMA{period: period}
}

func (s *SMA) Name() string { return fmt.Sprintf("SMA_%d", s.period) }

func (s *SMA) Period() int { return s.period }

func (s *SMA) Calculate(bars []models.Bar) ([]float64, error) {
	if s.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(bars) < s.period {
		return nil, ErrInsufficientData
	}
	return CalculateSMA(ClosePrices(bars), s.period), nil
}

// CalculateSMA calculates a rolling mean over raw values; warm-up entries are NaN.
func CalculateSMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	result := warmup(len(values))
	window := sum(values[:period])
	result[period-1] = window / float64(period)
	for i := period; i < len(values); i++ {
		window += values[i] - values[i-period]
		result[i] = window / float64(period)
	}
	return result
}

// EMA calculates Exponential Moving Average of closes.
type EMA struct {
	period int
}

// NewEMA creates a new EMA indicator.
func NewEMA(period int) *EMA {
	return &EMA{period: period}
}

func (e *EMA) Name() string { return fmt.Sprintf("EMA_%d", e.period) }

func (e *EMA) Period() int { return e.period }

func (e *EMA) Calculate(bars []models.Bar) ([]float64, error) {
	if e.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(bars) < e.period {
		return nil, ErrInsufficientData
	}
	return CalculateEMA(ClosePrices(bars), e.period), nil
}

// CalculateEMA calculates EMA on raw values, seeded with the SMA of the first period.
func CalculateEMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	result := warmup(len(values))
	k := 2.0 / float64(period+1)
	result[period-1] = mean(values[:period])
	for i := period; i < len(values); i++ {
		result[i] = (values[i]-result[i-1])*k + result[i-1]
	}
	return result
}

// MACD calculates Moving Average Convergence Divergence.
type MACD struct {
	fast   int
	slow   int
	signal int
}

// NewMACD creates a new MACD indicator; the usual periods are 12, 26, 9.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{fast: fast, slow: slow, signal: signal}
}

func (m *MACD) Name() string {
	return fmt.Sprintf("MACD_%d_%d_%d", m.fast, m.slow, m.signal)
}

func (m *MACD) Period() int {
	return m.slow + m.signal - 1
}

// Calculate returns "macd", "signal" and "histogram" series.
func (m *MACD) Calculate(bars []models.Bar) (map[string][]float64, error) {
	if m.fast <= 0 || m.slow <= 0 || m.signal <= 0 || m.fast >= m.slow {
		return nil, ErrInvalidPeriod
	}
	if len(bars) < m.Period() {
		return nil, ErrInsufficientData
	}

	n := len(bars)
	closes := ClosePrices(bars)
	fastEMA := CalculateEMA(closes, m.fast)
	slowEMA := CalculateEMA(closes, m.slow)

	line := warmup(n)
	for i := m.slow - 1; i < n; i++ {
		line[i] = fastEMA[i] - slowEMA[i]
	}

	start := m.slow - 1
	signal := warmup(n)
	copy(signal[start:], CalculateEMA(line[start:], m.signal))

	hist := warmup(n)
	for i := m.Period() - 1; i < n; i++ {
		hist[i] = line[i] - signal[i]
	}

	return map[string][]float64{
		"macd":      line,
		"signal":    signal,
		"histogram": hist,
	}, nil
}

// MACDState classifies the latest MACD relationship.
type MACDState string

const (
	MACDCrossover  MACDState = "crossover"
	MACDCrossunder MACDState = "crossunder"
	MACDPositive   MACDState = "positive"
	MACDNegative   MACDState = "negative"
)

// ClassifyMACD reports the state of the last two histogram values.
// A crossover is the histogram turning positive on the last bar.
func ClassifyMACD(values map[string][]float64) (MACDState, error) {
	hist := values["histogram"]
	n := len(hist)
	if n < 2 {
		return "", ErrInsufficientData
	}
	prev, cur := hist[n-2], hist[n-1]
	if prev != prev || cur != cur { // NaN
		return "", ErrInsufficientData
	}
	switch {
	case prev <= 0 && cur > 0:
		return MACDCrossover, nil
	case prev >= 0 && cur < 0:
		return MACDCrossunder, nil
	case cur > 0:
		return MACDPositive, nil
	default:
		return MACDNegative, nil
	}
}

// Matches reports whether state satisfies the wanted signal. A crossover is
// also positive and a crossunder is also negative.
func (s MACDState) Matches(want MACDState) bool {
	if s == want {
		return true
	}
	switch want {
	case MACDPositive:
		return s == MACDCrossover
	case MACDNegative:
		return s == MACDCrossunder
	}
	return false
}
