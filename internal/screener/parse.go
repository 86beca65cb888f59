package screener

import (
	"math"
	"strconv"
	"strings"

	"nepse-simulator/internal/analysis/indicators"
	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/models"
)

// ParseFilter parses a "kind:arg[:arg...]" filter such as "rsi:30:70",
// "price:100:500", "volume:100000", "pe:0:20" or "sector:Commercial Bank". An empty
// bound is open.
func ParseFilter(s string) (Predicate, error) {
	kind, rest, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found || rest == "" {
		return nil, apperrors.NewConfigError("filter", s, "expected kind:args")
	}
	args := strings.Split(rest, ":")

	var (
		pred Predicate
		err  error
	)
	switch strings.ToLower(kind) {
	case "price":
		var lo, hi float64
		if lo, hi, err = bounds(args, 0); err == nil {
			pred = PriceRange{Min: lo, Max: hi}
		}
	case "volume":
		var v int64
		if v, err = strconv.ParseInt(args[0], 10, 64); err == nil {
			pred = MinVolume{Min: v}
		}
	case "rsi":
		var lo, hi float64
		if lo, hi, err = bounds(args, 100); err == nil {
			r := RSIRange{Min: lo, Max: hi}
			if len(args) > 2 {
				r.Period, err = strconv.Atoi(args[2])
			}
			pred = r
		}
	case "sector":
		var sectors []string
		for _, sec := range strings.Split(rest, ",") {
			if sec = strings.TrimSpace(sec); sec != "" {
				sectors = append(sectors, sec)
			}
		}
		pred = SectorIn{Sectors: sectors}
	case "avgvolume":
		var lo, hi float64
		if lo, hi, err = bounds(args, 0); err == nil {
			r := AvgVolumeRange{Min: lo, Max: hi}
			if len(args) > 2 {
				r.Period, err = strconv.Atoi(args[2])
			}
			pred = r
		}
	case "change":
		var lo, hi float64
		if lo, hi, err = openBounds(args); err == nil {
			pred = PriceChangeRange{Min: lo, Max: hi}
		}
	case "macd":
		pred = MACDSignal{Want: indicators.MACDState(strings.ToLower(args[0]))}
	case "circuit":
		c := CircuitCount{Min: 1}
		switch strings.ToLower(args[0]) {
		case "upper":
			c.Status = models.CircuitUpper
		case "lower":
			c.Status = models.CircuitLower
		default:
			c.Status = models.CircuitStatus(strings.ToUpper(args[0]))
		}
		if len(args) > 1 && args[1] != "" {
			c.Min, err = strconv.Atoi(args[1])
		}
		if err == nil && len(args) > 2 && args[2] != "" {
			c.Days, err = strconv.Atoi(args[2])
		}
		pred = c
	case "mcap":
		var lo, hi float64
		if lo, hi, err = bounds(args, 0); err == nil {
			pred = MarketCapRange{Min: lo, Max: hi}
		}
	case "pe":
		var lo, hi float64
		if lo, hi, err = bounds(args, 0); err == nil {
			pred = PERange{Min: lo, Max: hi}
		}
	case "eps":
		var lo, hi float64
		if lo, hi, err = openBounds(args); err == nil {
			pred = EPSRange{Min: lo, Max: hi}
		}
	default:
		return nil, apperrors.NewConfigError("filter", kind, "unknown filter kind")
	}
	if err != nil {
		return nil, apperrors.NewConfigError("filter", s, err.Error())
	}
	if v, ok := pred.(validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return pred, nil
}

// ParseFilters parses each filter string in order.
func ParseFilters(specs []string) ([]Predicate, error) {
	preds := make([]Predicate, 0, len(specs))
	for _, s := range specs {
		p, err := ParseFilter(s)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func bounds(args []string, defaultMax float64) (lo, hi float64, err error) {
	hi = defaultMax
	if args[0] != "" {
		if lo, err = strconv.ParseFloat(args[0], 64); err != nil {
			return 0, 0, err
		}
	}
	if len(args) > 1 && args[1] != "" {
		if hi, err = strconv.ParseFloat(args[1], 64); err != nil {
			return 0, 0, err
		}
	}
	return lo, hi, nil
}

// openBounds parses signed bounds where an empty bound is NaN.
func openBounds(args []string) (lo, hi float64, err error) {
	lo, hi = math.NaN(), math.NaN()
	if args[0] != "" {
		if lo, err = strconv.ParseFloat(args[0], 64); err != nil {
			return 0, 0, err
		}
	}
	if len(args) > 1 && args[1] != "" {
		if hi, err = strconv.ParseFloat(args[1], 64); err != nil {
			return 0, 0, err
		}
	}
	return lo, hi, nil
}
