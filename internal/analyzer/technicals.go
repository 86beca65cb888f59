package analyzer

import (
	"context"
	"sort"
	"strings"

	"nepse-simulator/internal/analysis/indicators"
	apperrors "nepse-simulator/internal/errors"
)

const (
	levelWindow    = 5
	levelThreshold = 0.02
	profileBins    = 10
)

// Technicals evaluates the default indicator set over symbol's full history
// and reports the latest finite reading of each series. Multi-value
// indicators are flattened as "NAME.field". Indicators that need more bars
// than are available are listed in Skipped.
func (a *Analyzer) Technicals(ctx context.Context, symbol string) (Technicals, error) {
	const op = "technicals"
	asOf, err := a.latest(op)
	if err != nil {
		return Technicals{}, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	series := a.source.SeriesUntil(symbol, asOf)
	if _, known := a.sectors[symbol]; !known && len(series) == 0 {
		return Technicals{}, apperrors.NewUnknownSymbolError(symbol, "no history")
	}
	if len(series) < 2 {
		return Technicals{}, apperrors.NewNoDataError(op, len(series), 2)
	}

	res, err := indicators.NewDefaultEngine(a.opts.RSIPeriod).CalculateAll(ctx, series)
	if err != nil {
		return Technicals{}, err
	}

	last := series[len(series)-1]
	t := Technicals{
		Symbol: symbol,
		Date:   last.DateKey(),
		Close:  last.Close,
		Bars:   len(series),
		Values: make(map[string]float64, len(res.Single)+4*len(res.Multi)),
	}
	for name, values := range res.Single {
		if v, ok := indicators.LastValid(values); ok {
			t.Values[name] = v
		}
	}
	for name, fields := range res.Multi {
		for field, values := range fields {
			if v, ok := indicators.LastValid(values); ok {
				t.Values[name+"."+field] = v
			}
		}
	}
	sort.Strings(res.Skipped)
	t.Skipped = res.Skipped

	if support, resistance, err := indicators.SupportResistance(series, levelWindow, levelThreshold); err == nil {
		for _, l := range support {
			t.Support = append(t.Support, l.Price)
		}
		for _, l := range resistance {
			t.Resistance = append(t.Resistance, l.Price)
		}
	}
	if vp, err := indicators.VolumeProfile(series, profileBins); err == nil {
		t.VolumePOC = vp.POC
	}
	t.UpperCircuits, t.LowerCircuits = indicators.CircuitCounts(series)

	a.logger.Debug().Str("symbol", symbol).Int("bars", t.Bars).Strs("skipped", t.Skipped).Msg("Technicals computed")
	return t, nil
}
