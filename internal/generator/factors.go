package generator

import (
	"math"
	"time"
)

// Factors is a read-only view of the latent market drivers.
type Factors struct {
	Date      time.Time          `json:"date"`
	Sentiment float64            `json:"sentiment"`
	Sectors   map[string]float64 `json:"sectors"`
}

// advanceFactors moves sentiment and sector trends to date and draws the
// day's events. Callers hold g.mu.
func (g *Generator) advanceFactors(date time.Time) {
	if g.factorsSet && g.factorsDate.Equal(date) {
		return
	}
	g.factorsSet = true
	g.factorsDate = date
	g.day++

	g.sentiment = clampUnit(g.sentiment + g.rng.NormFloat64()*g.params.SentimentVolatility)
	for _, sector := range g.sectors {
		change := g.rng.NormFloat64()*g.params.SectorVolatility + g.sentiment*0.3
		g.sectorTrend[sector] = clampUnit(g.sectorTrend[sector] + change)
	}

	if g.rng.Float64() < g.params.MarketEventProb {
		g.marketEvent(date)
	}
	if len(g.sectors) > 0 && g.rng.Float64() < g.params.SectorEventProb {
		g.sectorEvent(date)
	}

	for k := range g.companyImpact {
		delete(g.companyImpact, k)
	}
	for _, symbol := range g.symbols {
		if g.rng.Float64() < g.params.CompanyEventProb {
			g.companyEvent(date, symbol)
		}
	}
}

func (g *Generator) marketEvent(date time.Time) {
	name := marketEvents[g.rng.Intn(len(marketEvents))]
	impact := g.signedImpact(0.5)
	g.sentiment = clampUnit(g.sentiment + impact*2)
	g.record(Event{Date: date, Scope: ScopeMarket, Name: name, Impact: impact})
}

func (g *Generator) sectorEvent(date time.Time) {
	sector := g.sectors[g.rng.Intn(len(g.sectors))]
	names := eventsForSector(sector)
	name := names[g.rng.Intn(len(names))]
	impact := g.signedImpact(0.5)
	g.sectorTrend[sector] = clampUnit(g.sectorTrend[sector] + impact*3)
	g.record(Event{Date: date, Scope: ScopeSector, Target: sector, Name: name, Impact: impact})
}

func (g *Generator) companyEvent(date time.Time, symbol string) {
	name := companyEvents[g.rng.Intn(len(companyEvents))]
	impact := g.signedImpact(0.6)
	g.companyImpact[symbol] = impact
	g.record(Event{Date: date, Scope: ScopeCompany, Target: symbol, Name: name, Impact: impact})
}

// signedImpact picks an impact level, positive with probability pPositive.
func (g *Generator) signedImpact(pPositive float64) float64 {
	levels := g.params.Impacts.values()
	impact := math.Abs(levels[g.rng.Intn(len(levels))])
	if g.rng.Float64() >= pPositive {
		impact = -impact
	}
	return impact
}

func (g *Generator) record(e Event) {
	g.events = append(g.events, e)
	if len(g.events) > maxEvents {
		g.events = append(g.events[:0:0], g.events[len(g.events)-maxEvents:]...)
	}
	g.logger.Debug().
		Str("scope", string(e.Scope)).
		Str("target", e.Target).
		Str("event", e.Name).
		Float64("impact", e.Impact).
		Msg("Market event")
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
