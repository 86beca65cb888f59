// Package analyzer computes cross-sectional market analytics over the
// simulated bar history. It never mutates the history it reads.
package analyzer

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/exp/maps"

	"nepse-simulator/internal/analysis/indicators"
	"nepse-simulator/internal/config"
	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/logging"
	"nepse-simulator/internal/models"
)

// HistorySource is the read side of the bar history.
type HistorySource interface {
	Dates() []time.Time
	DatesUntil(asOf time.Time) []time.Time
	Latest() (time.Time, bool)
	OnDate(date time.Time) []models.Bar
	SeriesUntil(symbol string, asOf time.Time) []models.Bar
}

// Options tunes the summary statistics.
type Options struct {
	RSIPeriod         int
	RSIOverbought     float64
	RSIOversold       float64
	VolumeSpikeFactor float64
	VolumePeriod      int
	Workers           int
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		RSIPeriod:         14,
		RSIOverbought:     70,
		RSIOversold:       30,
		VolumeSpikeFactor: 2,
		VolumePeriod:      20,
		Workers:           4,
	}
}

// OptionsFromConfig converts the [analysis] section.
func OptionsFromConfig(c config.AnalysisConfig) Options {
	return Options{
		RSIPeriod:         c.RSIPeriod,
		RSIOverbought:     c.RSIOverbought,
		RSIOversold:       c.RSIOversold,
		VolumeSpikeFactor: c.VolumeSpikeFactor,
		VolumePeriod:      c.VolumePeriod,
		Workers:           c.Workers,
	}
}

// Analyzer answers analytics queries, caching results per as-of date.
type Analyzer struct {
	source  HistorySource
	sectors map[string]string
	opts    Options
	logger  zerolog.Logger
	cache   *resultCache
}

// New creates an analyzer over source. instruments supply sector labels.
func New(source HistorySource, instruments []models.Instrument, opts Options, logger zerolog.Logger) *Analyzer {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	sectors := make(map[string]string, len(instruments))
	for _, inst := range instruments {
		sectors[inst.Symbol] = inst.Sector
	}
	return &Analyzer{
		source:  source,
		sectors: sectors,
		opts:    opts,
		logger:  logging.WithComponent(logger, "analyzer"),
		cache:   newResultCache(),
	}
}

func (a *Analyzer) sector(symbol string) string {
	if s, ok := a.sectors[symbol]; ok {
		return s
	}
	return "Unknown"
}

// latest resolves the most recent trading date.
func (a *Analyzer) latest(op string) (time.Time, error) {
	d, ok := a.source.Latest()
	if !ok {
		return time.Time{}, apperrors.NewNoDataError(op, 0, 2)
	}
	return d, nil
}

// window returns the trading dates up to asOf, requiring at least two.
func (a *Analyzer) window(op string, asOf time.Time) ([]time.Time, error) {
	dates := a.source.DatesUntil(asOf)
	if len(dates) < 2 {
		return nil, apperrors.NewNoDataError(op, len(dates), 2)
	}
	return dates, nil
}

// movers computes every instrument's change on the last date up to asOf,
// ordered by symbol.
func (a *Analyzer) movers(op string, asOf time.Time) ([]Mover, error) {
	dates, err := a.window(op, asOf)
	if err != nil {
		return nil, err
	}
	cur, prev := dates[len(dates)-1], dates[len(dates)-2]
	return cached(a, cacheKey{kind: "movers", asOf: cur.Format(models.DateLayout)}, func() ([]Mover, error) {
		prevClose := make(map[string]float64)
		for _, b := range a.source.OnDate(prev) {
			prevClose[b.Symbol] = b.Close
		}
		var out []Mover
		for _, b := range a.source.OnDate(cur) {
			pc, ok := prevClose[b.Symbol]
			if !ok {
				continue
			}
			out = append(out, Mover{
				Symbol:    b.Symbol,
				Sector:    a.sector(b.Symbol),
				Close:     b.Close,
				PrevClose: pc,
				ChangePct: b.ChangePercent(pc),
				Volume:    b.Volume,
				Circuit:   string(b.Circuit),
			})
		}
		return out, nil
	})
}

// TopGainers returns up to n instruments with a strictly positive change,
// largest first, ties broken by symbol.
func (a *Analyzer) TopGainers(n int) ([]Mover, error) {
	asOf, err := a.latest("top_gainers")
	if err != nil {
		return nil, err
	}
	return a.TopGainersAt(asOf, n)
}

// TopGainersAt is TopGainers as of a given date.
func (a *Analyzer) TopGainersAt(asOf time.Time, n int) ([]Mover, error) {
	return a.ranked("top_gainers", asOf, n, func(m Mover) bool { return m.Close > m.PrevClose }, func(x, y Mover) bool {
		return x.ChangePct > y.ChangePct
	})
}

// TopLosers returns up to n instruments with a strictly negative change,
// most negative first, ties broken by symbol.
func (a *Analyzer) TopLosers(n int) ([]Mover, error) {
	asOf, err := a.latest("top_losers")
	if err != nil {
		return nil, err
	}
	return a.TopLosersAt(asOf, n)
}

// TopLosersAt is TopLosers as of a given date.
func (a *Analyzer) TopLosersAt(asOf time.Time, n int) ([]Mover, error) {
	return a.ranked("top_losers", asOf, n, func(m Mover) bool { return m.Close < m.PrevClose }, func(x, y Mover) bool {
		return x.ChangePct < y.ChangePct
	})
}

// VolumeLeaders returns up to n instruments by latest volume.
func (a *Analyzer) VolumeLeaders(n int) ([]Mover, error) {
	asOf, err := a.latest("volume_leaders")
	if err != nil {
		return nil, err
	}
	return a.VolumeLeadersAt(asOf, n)
}

// VolumeLeadersAt is VolumeLeaders as of a given date.
func (a *Analyzer) VolumeLeadersAt(asOf time.Time, n int) ([]Mover, error) {
	return a.ranked("volume_leaders", asOf, n, func(Mover) bool { return true }, func(x, y Mover) bool {
		return x.Volume > y.Volume
	})
}

func (a *Analyzer) ranked(op string, asOf time.Time, n int, keep func(Mover) bool, before func(x, y Mover) bool) ([]Mover, error) {
	if n < 0 {
		return nil, apperrors.NewConfigError("n", n, "must be non-negative")
	}
	all, err := a.movers(op, asOf)
	if err != nil {
		return nil, err
	}
	out := make([]Mover, 0, len(all))
	for _, m := range all {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if before(out[i], out[j]) {
			return true
		}
		if before(out[j], out[i]) {
			return false
		}
		return out[i].Symbol < out[j].Symbol
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// SectorPerformance returns per-sector mean change, best first.
func (a *Analyzer) SectorPerformance() ([]SectorStats, error) {
	asOf, err := a.latest("sector_performance")
	if err != nil {
		return nil, err
	}
	return a.SectorPerformanceAt(asOf)
}

// SectorPerformanceAt is SectorPerformance as of a given date.
func (a *Analyzer) SectorPerformanceAt(asOf time.Time) ([]SectorStats, error) {
	all, err := a.movers("sector_performance", asOf)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*SectorStats)
	sums := make(map[string]float64)
	for _, m := range all {
		s, ok := groups[m.Sector]
		if !ok {
			s = &SectorStats{Sector: m.Sector}
			groups[m.Sector] = s
		}
		s.Instruments++
		s.TotalVolume += m.Volume
		sums[m.Sector] += m.ChangePct
		switch {
		case m.Close > m.PrevClose:
			s.Advancing++
		case m.Close < m.PrevClose:
			s.Declining++
		default:
			s.Unchanged++
		}
	}

	names := maps.Keys(groups)
	sort.Strings(names)
	out := make([]SectorStats, 0, len(names))
	for _, name := range names {
		s := groups[name]
		s.AvgChangePct = sums[name] / float64(s.Instruments)
		out = append(out, *s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AvgChangePct > out[j].AvgChangePct })
	return out, nil
}

// MarketBreadth classifies instruments on the latest date against the previous one.
func (a *Analyzer) MarketBreadth() (Breadth, error) {
	asOf, err := a.latest("market_breadth")
	if err != nil {
		return Breadth{}, err
	}
	return a.MarketBreadthAt(asOf)
}

// MarketBreadthAt is MarketBreadth as of a given date.
func (a *Analyzer) MarketBreadthAt(asOf time.Time) (Breadth, error) {
	dates, err := a.window("market_breadth", asOf)
	if err != nil {
		return Breadth{}, err
	}
	all, err := a.movers("market_breadth", asOf)
	if err != nil {
		return Breadth{}, err
	}
	b := Breadth{Date: dates[len(dates)-1].Format(models.DateLayout)}
	for _, m := range all {
		switch {
		case m.Close > m.PrevClose:
			b.Advancing++
		case m.Close < m.PrevClose:
			b.Declining++
		default:
			b.Unchanged++
		}
	}
	return b, nil
}

// CorrelationMatrix returns pairwise Pearson correlations of daily returns.
// An empty symbol list means every instrument traded on the latest date.
func (a *Analyzer) CorrelationMatrix(symbols []string) (Correlation, error) {
	asOf, err := a.latest("correlation_matrix")
	if err != nil {
		return Correlation{}, err
	}
	return a.CorrelationMatrixAt(asOf, symbols)
}

// CorrelationMatrixAt is CorrelationMatrix as of a given date. Pairs where
// either series has zero variance report 0.
func (a *Analyzer) CorrelationMatrixAt(asOf time.Time, symbols []string) (Correlation, error) {
	const op = "correlation_matrix"
	dates, err := a.window(op, asOf)
	if err != nil {
		return Correlation{}, err
	}

	if len(symbols) == 0 {
		for _, b := range a.source.OnDate(dates[len(dates)-1]) {
			symbols = append(symbols, b.Symbol)
		}
	}
	syms := make([]string, 0, len(symbols))
	seen := make(map[string]bool)
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if !seen[s] {
			seen[s] = true
			syms = append(syms, s)
		}
	}
	sort.Strings(syms)

	key := cacheKey{kind: "correlation", asOf: dates[len(dates)-1].Format(models.DateLayout), arg: strings.Join(syms, ",")}
	return cached(a, key, func() (Correlation, error) {
		closes := make(map[string]map[string]float64, len(syms))
		for _, s := range syms {
			series := a.source.SeriesUntil(s, asOf)
			if len(series) == 0 {
				return Correlation{}, apperrors.NewUnknownSymbolError(s, "no history")
			}
			byDate := make(map[string]float64, len(series))
			for _, b := range series {
				byDate[b.DateKey()] = b.Close
			}
			closes[s] = byDate
		}

		// Align on dates where every symbol has a bar.
		aligned := make(map[string][]float64, len(syms))
		for _, d := range dates {
			key := d.Format(models.DateLayout)
			complete := true
			for _, s := range syms {
				if _, ok := closes[s][key]; !ok {
					complete = false
					break
				}
			}
			if !complete {
				continue
			}
			for _, s := range syms {
				aligned[s] = append(aligned[s], closes[s][key])
			}
		}

		returns := make([][]float64, len(syms))
		for i, s := range syms {
			returns[i] = indicators.Returns(aligned[s])
		}

		values := make([][]float64, len(syms))
		for i := range values {
			values[i] = make([]float64, len(syms))
			values[i][i] = 1
		}
		for i := 0; i < len(syms); i++ {
			for j := i + 1; j < len(syms); j++ {
				r, ok := indicators.Pearson(returns[i], returns[j])
				if !ok {
					r = 0
				}
				values[i][j], values[j][i] = r, r
			}
		}
		obs := 0
		if len(syms) > 0 {
			obs = len(returns[0])
		}
		return Correlation{Symbols: syms, Values: values, Observations: obs}, nil
	})
}

// PriceRange summarizes symbol over the last days trading days (all when days <= 0).
func (a *Analyzer) PriceRange(symbol string, days int) (PriceRange, error) {
	const op = "price_range"
	asOf, err := a.latest(op)
	if err != nil {
		return PriceRange{}, err
	}
	symbol = strings.ToUpper(symbol)
	series := a.source.SeriesUntil(symbol, asOf)
	if _, known := a.sectors[symbol]; !known && len(series) == 0 {
		return PriceRange{}, apperrors.NewUnknownSymbolError(symbol, "no history")
	}
	if days > 0 && len(series) > days {
		series = series[len(series)-days:]
	}
	if len(series) < 2 {
		return PriceRange{}, apperrors.NewNoDataError(op, len(series), 2)
	}

	first, last := series[0], series[len(series)-1]
	r := PriceRange{
		Symbol: symbol,
		From:   first.DateKey(),
		To:     last.DateKey(),
		Days:   len(series),
		Open:   first.Open,
		High:   math.Inf(-1),
		Low:    math.Inf(1),
		Close:  last.Close,
	}
	var volume float64
	for _, b := range series {
		r.High = math.Max(r.High, b.High)
		r.Low = math.Min(r.Low, b.Low)
		volume += float64(b.Volume)
	}
	r.AvgVolume = volume / float64(len(series))
	if first.Close != 0 {
		r.ChangePct = (last.Close - first.Close) / first.Close * 100
	}
	return r, nil
}

// Summary returns the market overview for the latest date.
func (a *Analyzer) Summary() (Summary, error) {
	asOf, err := a.latest("summary")
	if err != nil {
		return Summary{}, err
	}
	return a.SummaryAt(asOf)
}

// SummaryAt is Summary as of a given date.
func (a *Analyzer) SummaryAt(asOf time.Time) (Summary, error) {
	const op = "summary"
	dates, err := a.window(op, asOf)
	if err != nil {
		return Summary{}, err
	}
	cur := dates[len(dates)-1]

	return cached(a, cacheKey{kind: op, asOf: cur.Format(models.DateLayout)}, func() (Summary, error) {
		breadth, err := a.MarketBreadthAt(cur)
		if err != nil {
			return Summary{}, err
		}
		all, err := a.movers(op, cur)
		if err != nil {
			return Summary{}, err
		}
		sectors, err := a.SectorPerformanceAt(cur)
		if err != nil {
			return Summary{}, err
		}

		s := Summary{
			Date:    breadth.Date,
			Breadth: breadth,
			ADRatio: breadth.ADRatio(),
		}
		if len(sectors) > 0 {
			s.BestSector = sectors[0].Sector
			s.WorstSector = sectors[len(sectors)-1].Sector
		}
		var total float64
		for _, m := range all {
			total += m.ChangePct
			s.TotalVolume += m.Volume
			switch models.CircuitStatus(m.Circuit) {
			case models.CircuitUpper:
				s.UpperCircuits++
			case models.CircuitLower:
				s.LowerCircuits++
			case models.CircuitHalted:
				s.Halted++
			}
		}
		if len(all) > 0 {
			s.MarketReturnPct = total / float64(len(all))
		}

		for _, st := range a.instrumentStats(all, cur) {
			if st.hasRSI {
				if st.rsi >= a.opts.RSIOverbought {
					s.Overbought++
				}
				if st.rsi <= a.opts.RSIOversold {
					s.Oversold++
				}
			}
			if st.spike {
				s.VolumeSpikes++
			}
		}

		if s.TopGainers, err = a.TopGainersAt(cur, 5); err != nil {
			return Summary{}, err
		}
		if s.TopLosers, err = a.TopLosersAt(cur, 5); err != nil {
			return Summary{}, err
		}
		return s, nil
	})
}

type instrumentStat struct {
	symbol string
	rsi    float64
	hasRSI bool
	spike  bool
}

// instrumentStats computes per-instrument RSI and volume-spike flags in parallel.
func (a *Analyzer) instrumentStats(movers []Mover, asOf time.Time) []instrumentStat {
	p := pool.NewWithResults[instrumentStat]().WithMaxGoroutines(a.opts.Workers)
	for _, m := range movers {
		symbol := m.Symbol
		p.Go(func() instrumentStat {
			st := instrumentStat{symbol: symbol}
			series := a.source.SeriesUntil(symbol, asOf)
			if rsi := indicators.CalculateRSI(indicators.ClosePrices(series), a.opts.RSIPeriod); rsi != nil {
				st.rsi, st.hasRSI = indicators.LastValid(rsi)
			}
			if spikes, err := indicators.VolumeSpikes(series, a.opts.VolumeSpikeFactor, a.opts.VolumePeriod); err == nil && len(spikes) > 0 {
				st.spike = spikes[len(spikes)-1]
			}
			return st
		})
	}
	return p.Wait()
}
