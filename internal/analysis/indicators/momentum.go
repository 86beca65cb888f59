package indicators

import (
	"fmt"

	"nepse-simulator/internal/models"
)

// RSI calculates the Relative Strength Index with Wilder smoothing.
type RSI struct {
	period int
}

// NewRSI creates a new RSI indicator.
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Name() string { return fmt.Sprintf("RSI_%d", r.period) }

func (r *RSI) Period() int { return r.period }

// Calculate returns RSI values in [0, 100]; the first period entries are NaN.
func (r *RSI) Calculate(bars []models.Bar) ([]float64, error) {
	if r.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(bars) < r.period+1 {
		return nil, ErrInsufficientData
	}
	return CalculateRSI(ClosePrices(bars), r.period), nil
}

// CalculateRSI computes RSI over raw closes.
func CalculateRSI(closes []float64, period int) []float64 {
	n := len(closes)
	if period <= 0 || n < period+1 {
		return nil
	}
	result := warmup(n)

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := split(closes[i] - closes[i-1])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	result[period] = rsiValue(avgGain, avgLoss)

	p := float64(period)
	for i := period + 1; i < n; i++ {
		gain, loss := split(closes[i] - closes[i-1])
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		result[i] = rsiValue(avgGain, avgLoss)
	}
	return result
}

func split(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

func rsiValue(avgGain, avgLoss float64) float64 {
	switch {
	case avgGain == 0 && avgLoss == 0:
		// Flat series: neither overbought nor oversold.
		return 50
	case avgLoss == 0:
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
