package indicators

import (
	"fmt"

	"nepse-simulator/internal/models"
)

// BollingerBands calculates Bollinger Bands using the sample standard deviation.
type BollingerBands struct {
	period    int
	stdDevMul float64
}

// NewBollingerBands creates a new Bollinger Bands indicator.
func NewBollingerBands(period int, stdDevMul float64) *BollingerBands {
	return &BollingerBands{period: period, stdDevMul: stdDevMul}
}

func (b *BollingerBands) Name() string {
	return fmt.Sprintf("BB_%d_%.1f", b.period, b.stdDevMul)
}

func (b *BollingerBands) Period() int { return b.period }

// Calculate returns "middle", "upper", "lower", "bandwidth" and "percent_b".
func (b *BollingerBands) Calculate(bars []models.Bar) (map[string][]float64, error) {
	if b.period <= 1 || b.stdDevMul <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(bars) < b.period {
		return nil, ErrInsufficientData
	}

	n := len(bars)
	closes := ClosePrices(bars)
	middle, upper, lower := warmup(n), warmup(n), warmup(n)
	bandwidth, percentB := warmup(n), warmup(n)

	for i := b.period - 1; i < n; i++ {
		window := closes[i-b.period+1 : i+1]
		m := mean(window)
		width := b.stdDevMul * sampleStdDev(window)

		middle[i] = m
		upper[i] = m + width
		lower[i] = m - width
		bandwidth[i] = 0
		if m != 0 {
			bandwidth[i] = (upper[i] - lower[i]) / m
		}
		// A flat window sits in the middle of a zero-width band.
		percentB[i] = 0.5
		if upper[i] != lower[i] {
			percentB[i] = (closes[i] - lower[i]) / (upper[i] - lower[i])
		}
	}

	return map[string][]float64{
		"middle":    middle,
		"upper":     upper,
		"lower":     lower,
		"bandwidth": bandwidth,
		"percent_b": percentB,
	}, nil
}
