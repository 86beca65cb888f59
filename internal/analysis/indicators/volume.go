package indicators

import (
	"math"

	"nepse-simulator/internal/models"
)

// AverageVolume returns the rolling mean volume; warm-up entries are NaN.
func AverageVolume(bars []models.Bar, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(bars) < period {
		return nil, ErrInsufficientData
	}
	return CalculateSMA(volumes(bars), period), nil
}

// VolumeSpikes flags bars whose volume exceeds factor times the rolling
// average volume (the window includes the bar itself).
func VolumeSpikes(bars []models.Bar, factor float64, period int) ([]bool, error) {
	if factor <= 0 {
		return nil, ErrInvalidPeriod
	}
	avg, err := AverageVolume(bars, period)
	if err != nil {
		return nil, err
	}
	spikes := make([]bool, len(bars))
	for i, b := range bars {
		if !math.IsNaN(avg[i]) && float64(b.Volume) > avg[i]*factor {
			spikes[i] = true
		}
	}
	return spikes, nil
}

// VolumeProfileResult holds the volume distribution across price levels.
type VolumeProfileResult struct {
	Edges   []float64 // bins+1 boundaries from min to max close
	Volumes []int64
	POC     float64 // midpoint of the bin with the most volume
}

// VolumeProfile buckets volume by close price into equal-width bins.
func VolumeProfile(bars []models.Bar, bins int) (*VolumeProfileResult, error) {
	if bins <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(bars) == 0 {
		return nil, ErrInsufficientData
	}

	lo, hi := bars[0].Close, bars[0].Close
	for _, b := range bars[1:] {
		lo = math.Min(lo, b.Close)
		hi = math.Max(hi, b.Close)
	}

	res := &VolumeProfileResult{
		Edges:   make([]float64, bins+1),
		Volumes: make([]int64, bins),
	}
	width := (hi - lo) / float64(bins)
	for i := range res.Edges {
		res.Edges[i] = lo + float64(i)*width
	}

	for _, b := range bars {
		idx := 0
		if hi > lo {
			idx = int((b.Close - lo) / (hi - lo) * float64(bins))
		}
		if idx >= bins {
			idx = bins - 1
		}
		res.Volumes[idx] += b.Volume
	}

	poc := 0
	for i, v := range res.Volumes {
		if v > res.Volumes[poc] {
			poc = i
		}
	}
	res.POC = lo + (float64(poc)+0.5)*width
	return res, nil
}

// CircuitCounts tallies upper and lower circuit hits in a bar series.
func CircuitCounts(bars []models.Bar) (upper, lower int) {
	for _, b := range bars {
		switch b.Circuit {
		case models.CircuitUpper:
			upper++
		case models.CircuitLower:
			lower++
		}
	}
	return
}
