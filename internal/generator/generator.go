// Package generator produces synthetic OHLCV bars under a sentiment, sector
// and event driven volatility model with circuit-breaker clipping.
package generator

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nepse-simulator/internal/logging"
	"nepse-simulator/internal/models"
)

// Generator is a seeded bar source. Identical seeds, universes and call
// sequences produce identical bars.
type Generator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	params Params
	cal    Calendar
	logger zerolog.Logger

	symbols []string
	sectors []string

	sentiment     float64
	sectorTrend   map[string]float64
	companyImpact map[string]float64
	factorsSet    bool
	factorsDate   time.Time
	day           int
	events        []Event
}

// New creates a generator over instruments. params must already be valid.
func New(seed int64, instruments []models.Instrument, params Params, logger zerolog.Logger) (*Generator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	g := &Generator{
		rng:           rand.New(rand.NewSource(seed)),
		params:        params,
		cal:           NewCalendar(params.Weekends),
		logger:        logging.WithComponent(logger, "generator"),
		sectorTrend:   make(map[string]float64),
		companyImpact: make(map[string]float64),
	}

	seen := make(map[string]bool)
	for _, inst := range instruments {
		g.symbols = append(g.symbols, inst.Symbol)
		if !seen[inst.Sector] {
			seen[inst.Sector] = true
			g.sectors = append(g.sectors, inst.Sector)
		}
	}
	sort.Strings(g.symbols)
	sort.Strings(g.sectors)

	// A factor with no volatility starts neutral and stays there.
	if params.SentimentVolatility > 0 {
		g.sentiment = g.rng.Float64() - 0.5
	}
	for _, sector := range g.sectors {
		if params.SectorVolatility > 0 {
			g.sectorTrend[sector] = g.rng.Float64() - 0.5
		} else {
			g.sectorTrend[sector] = 0
		}
	}
	return g, nil
}

// Params returns the model parameters.
func (g *Generator) Params() Params {
	return g.params
}

// Calendar returns the trading calendar.
func (g *Generator) Calendar() Calendar {
	return g.cal
}

// Limits returns the circuit limits around prevClose.
func (g *Generator) Limits(prevClose float64) (lower, upper float64) {
	return Limits(prevClose, g.params.CircuitBand)
}

// Limits returns the lower and upper circuit prices for a band around prevClose.
func Limits(prevClose, band float64) (lower, upper float64) {
	return prevClose * (1 - band), prevClose * (1 + band)
}

// NextBar generates the bar for date continuing from prevClose. The first call
// for a new date advances the market factors and draws the day's events.
func (g *Generator) NextBar(inst models.Instrument, date time.Time, prevClose float64) models.Bar {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.advanceFactors(date)
	return g.bar(inst, date, prevClose)
}

// GenerateSeries produces numDays consecutive trading-day bars for inst starting
// on or after start, seeded from seedPrice.
func (g *Generator) GenerateSeries(inst models.Instrument, start time.Time, numDays int, seedPrice float64) []models.Bar {
	days := g.cal.Days(start, numDays)
	bars := make([]models.Bar, 0, len(days))
	prev := seedPrice
	for _, d := range days {
		b := g.NextBar(inst, d, prev)
		bars = append(bars, b)
		prev = b.Close
	}
	return bars
}

func (g *Generator) bar(inst models.Instrument, date time.Time, prevClose float64) models.Bar {
	p := g.params
	companyVol := p.Volatility * (0.7 + 0.6*g.rng.Float64())

	ret := p.Drift +
		g.sentiment*0.3 +
		g.sectorTrend[inst.Sector]*0.4 +
		g.companyImpact[inst.Symbol] +
		g.rng.NormFloat64()*companyVol

	lower, upper := Limits(prevClose, p.CircuitBand)
	status := models.CircuitNormal
	close := prevClose + prevClose*ret
	switch {
	case ret >= p.CircuitBand:
		status = models.CircuitUpper
		close = upper
	case ret <= -p.CircuitBand:
		status = models.CircuitLower
		close = lower
	}
	close = clamp(math.Max(close, prevClose*0.1), lower, upper)

	spread := close * companyVol
	open := clamp(prevClose*(1+g.rng.NormFloat64()*companyVol*0.5), lower, upper)
	high := math.Min(math.Max(open, close)+math.Abs(g.rng.NormFloat64()*spread*0.3), upper)
	low := math.Max(math.Min(open, close)-math.Abs(g.rng.NormFloat64()*spread*0.3), lower)

	high, low = repair(open, high, low, close)

	base := inst.BaseVolume
	if base == 0 {
		base = p.BaseVolume
	}
	volFactor := 1 + math.Abs(ret)*5
	if status.IsLimit() {
		volFactor *= 1.5
	}
	volFactor *= 0.7 + 0.6*g.rng.Float64()
	volume := int64(float64(base) * volFactor)
	if volume < 0 {
		volume = 0
	}

	return models.Bar{
		Date:    date,
		Symbol:  inst.Symbol,
		Open:    open,
		High:    high,
		Low:     low,
		Close:   close,
		Volume:  volume,
		Circuit: status,
	}
}

// HaltedBar is the flat, zero-volume bar recorded for a halted instrument.
func HaltedBar(symbol string, date time.Time, price float64) models.Bar {
	return models.Bar{
		Date:    date,
		Symbol:  symbol,
		Open:    price,
		High:    price,
		Low:     price,
		Close:   price,
		Circuit: models.CircuitHalted,
	}
}

// Events returns the most recent recorded events, oldest first.
func (g *Generator) Events() []Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Event, len(g.events))
	copy(out, g.events)
	return out
}

// Factors returns the current sentiment and sector trends.
func (g *Generator) Factors() Factors {
	g.mu.Lock()
	defer g.mu.Unlock()
	sectors := make(map[string]float64, len(g.sectorTrend))
	for k, v := range g.sectorTrend {
		sectors[k] = v
	}
	return Factors{Date: g.factorsDate, Sentiment: g.sentiment, Sectors: sectors}
}

// repair widens high and low so the OHLC relationship holds and low stays positive.
func repair(open, high, low, close float64) (float64, float64) {
	high = math.Max(high, math.Max(open, close))
	low = math.Min(low, math.Min(open, close))
	if floor := math.Min(0.1, math.Min(open, close)); low < floor {
		low = floor
	}
	return high, low
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
