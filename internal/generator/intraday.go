package generator

import (
	"math"

	"nepse-simulator/internal/models"
)

// Move is one instrument's intraday change for a tick.
type Move struct {
	Change float64
	Volume int64
}

// OpeningPrice draws a session opening price around prevClose, kept inside
// the circuit band.
func (g *Generator) OpeningPrice(prevClose, factor float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	lower, upper := g.Limits(prevClose)
	return clamp(prevClose*(1+g.rng.NormFloat64()*0.01*factor), lower, upper)
}

// IntradayTick draws one tick of price moves covering minutes simulated
// minutes. Every instrument shares the market shock; instruments in the same
// sector share the sector shock.
func (g *Generator) IntradayTick(instruments []models.Instrument, minutes int, factor float64) map[string]Move {
	g.mu.Lock()
	defer g.mu.Unlock()

	market := g.rng.NormFloat64() * 0.001 * factor
	sector := make(map[string]float64, len(g.sectors))
	for _, s := range g.sectors {
		sector[s] = g.rng.NormFloat64() * 0.002 * factor
	}

	moves := make(map[string]Move, len(instruments))
	for _, inst := range instruments {
		change := market + sector[inst.Sector] + g.rng.NormFloat64()*0.003*factor

		base := inst.BaseVolume
		if base == 0 {
			base = g.params.BaseVolume
		}
		increment := g.rng.Float64() * float64(base) * 0.01 * float64(minutes)
		increment *= 1 + math.Abs(change)*20

		moves[inst.Symbol] = Move{Change: change, Volume: int64(increment)}
	}
	return moves
}

// ApplyMove moves price by change, clipping to the band around prevClose.
func ApplyMove(price, prevClose, change, band float64) (float64, models.CircuitStatus) {
	lower, upper := Limits(prevClose, band)
	next := price * (1 + change)
	switch {
	case next >= upper:
		return upper, models.CircuitUpper
	case next <= lower:
		return lower, models.CircuitLower
	}
	return next, models.CircuitNormal
}
