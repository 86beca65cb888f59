package generator

import (
	"math"
	"time"

	"nepse-simulator/internal/config"
	apperrors "nepse-simulator/internal/errors"
)

// ImpactLevels are the magnitudes an event can take.
type ImpactLevels struct {
	Low    float64
	Medium float64
	High   float64
}

func (l ImpactLevels) values() [3]float64 {
	return [3]float64{l.Low, l.Medium, l.High}
}

// Params configures the stochastic price model.
type Params struct {
	Drift               float64
	Volatility          float64
	SentimentVolatility float64
	SectorVolatility    float64
	MarketEventProb     float64
	SectorEventProb     float64
	CompanyEventProb    float64
	Impacts             ImpactLevels
	CircuitBand         float64
	BaseVolume          int64
	Weekends            []time.Weekday
}

// DefaultParams returns the model defaults.
func DefaultParams() Params {
	return Params{
		Volatility:          0.015,
		SentimentVolatility: 0.05,
		SectorVolatility:    0.08,
		MarketEventProb:     0.20,
		SectorEventProb:     0.15,
		CompanyEventProb:    0.05,
		Impacts:             ImpactLevels{Low: 0.01, Medium: 0.03, High: 0.05},
		CircuitBand:         0.10,
		BaseVolume:          500_000,
		Weekends:            []time.Weekday{time.Saturday, time.Sunday},
	}
}

// ParamsFromConfig builds Params from the market and simulation sections.
func ParamsFromConfig(cfg *config.Config) (Params, error) {
	weekends, err := cfg.Weekends()
	if err != nil {
		return Params{}, err
	}
	m := cfg.Market
	p := Params{
		Drift:               m.Drift,
		Volatility:          m.Volatility,
		SentimentVolatility: m.SentimentVolatility,
		SectorVolatility:    m.SectorVolatility,
		MarketEventProb:     m.MarketEventProb,
		SectorEventProb:     m.SectorEventProb,
		CompanyEventProb:    m.CompanyEventProb,
		Impacts: ImpactLevels{
			Low:    m.EventImpact.Low,
			Medium: m.EventImpact.Medium,
			High:   m.EventImpact.High,
		},
		CircuitBand: m.CircuitBand,
		BaseVolume:  m.BaseVolume,
		Weekends:    weekends,
	}
	return p, p.Validate()
}

// Validate checks the parameters are usable.
func (p Params) Validate() error {
	if !finite(p.Drift) {
		return apperrors.NewConfigError("market.drift", p.Drift, "must be finite")
	}
	type check struct {
		field string
		value float64
	}
	for _, c := range []check{
		{"market.volatility", p.Volatility},
		{"market.sentiment_volatility", p.SentimentVolatility},
		{"market.sector_volatility", p.SectorVolatility},
		{"market.event_impact.low", p.Impacts.Low},
		{"market.event_impact.medium", p.Impacts.Medium},
		{"market.event_impact.high", p.Impacts.High},
	} {
		if c.value < 0 || !finite(c.value) {
			return apperrors.NewConfigError(c.field, c.value, "must be non-negative")
		}
	}
	for _, c := range []check{
		{"market.market_event_probability", p.MarketEventProb},
		{"market.sector_event_probability", p.SectorEventProb},
		{"market.company_event_probability", p.CompanyEventProb},
	} {
		if c.value < 0 || c.value > 1 || math.IsNaN(c.value) {
			return apperrors.NewConfigError(c.field, c.value, "must be within [0, 1]")
		}
	}
	if p.CircuitBand <= 0 || p.CircuitBand >= 1 || math.IsNaN(p.CircuitBand) {
		return apperrors.NewConfigError("market.circuit_band", p.CircuitBand, "must be within (0, 1)")
	}
	if p.BaseVolume < 0 {
		return apperrors.NewConfigError("market.base_volume", p.BaseVolume, "must be non-negative")
	}
	if len(p.Weekends) >= 7 {
		return apperrors.NewConfigError("simulation.weekend_days", p.Weekends, "at least one trading weekday is required")
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
