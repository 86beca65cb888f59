package indicators

import (
	"math"
	"sort"

	"nepse-simulator/internal/models"
)

// Level is a detected support or resistance price.
type Level struct {
	Index int
	Price float64
}

// SupportResistance finds closes that are the minimum (support) or maximum
// (resistance) of the surrounding ±window bars, then drops levels within
// threshold (fractional distance) of the previous kept level.
func SupportResistance(bars []models.Bar, window int, threshold float64) (support, resistance []Level, err error) {
	if window <= 0 || threshold < 0 {
		return nil, nil, ErrInvalidPeriod
	}
	if len(bars) < 2*window+1 {
		return nil, nil, ErrInsufficientData
	}

	closes := ClosePrices(bars)
	for i := window; i < len(closes)-window; i++ {
		seg := closes[i-window : i+window+1]
		lo, hi := seg[0], seg[0]
		for _, v := range seg[1:] {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		switch closes[i] {
		case lo:
			support = append(support, Level{Index: i, Price: closes[i]})
		case hi:
			resistance = append(resistance, Level{Index: i, Price: closes[i]})
		}
	}
	return dedupeLevels(support, threshold), dedupeLevels(resistance, threshold), nil
}

func dedupeLevels(levels []Level, threshold float64) []Level {
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	var out []Level
	for i, l := range levels {
		if i == 0 || l.Price == 0 || math.Abs(l.Price-levels[i-1].Price)/l.Price > threshold {
			out = append(out, l)
		}
	}
	return out
}
