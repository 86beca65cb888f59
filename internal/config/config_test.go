package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "nepse-simulator/internal/errors"
)

func TestLoad_CreatesTemplateAndUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Fatalf("expected template to be written: %v", err)
	}
	if cfg.Market.CircuitBand != 0.10 {
		t.Errorf("circuit band = %v, want 0.10", cfg.Market.CircuitBand)
	}
	if cfg.RealTime.TickInterval != time.Second {
		t.Errorf("tick interval = %v, want 1s", cfg.RealTime.TickInterval)
	}
	if cfg.Storage.DBPath != filepath.Join(dir, "simulator.db") {
		t.Errorf("db path not anchored to config dir: %s", cfg.Storage.DBPath)
	}

	// Second load reads the written template.
	again, err := Load(dir)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if again.Analysis.RSIPeriod != 14 {
		t.Errorf("rsi period = %d, want 14", again.Analysis.RSIPeriod)
	}
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `
[market]
circuit_band = 0.05
volatility = 0.02

[simulation]
seed = 7
weekend_days = ["Friday", "Saturday"]
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Market.CircuitBand != 0.05 || cfg.Market.Volatility != 0.02 {
		t.Errorf("market overrides not applied: %+v", cfg.Market)
	}
	if cfg.Simulation.Seed != 7 {
		t.Errorf("seed = %d, want 7", cfg.Simulation.Seed)
	}
	days, err := cfg.Weekends()
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 2 || days[0] != time.Friday || days[1] != time.Saturday {
		t.Errorf("weekends = %v", days)
	}
	// Untouched keys keep defaults.
	if cfg.Market.EventImpact.High != 0.05 {
		t.Errorf("event impact high = %v, want 0.05", cfg.Market.EventImpact.High)
	}
}

func TestValidate_RejectsNegativeVolatility(t *testing.T) {
	cfg := Default()
	cfg.Market.Volatility = -0.01

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for negative volatility")
	}
	var cerr *apperrors.ConfigError
	if !apperrors.As(err, &cerr) || cerr.Field != "market.volatility" {
		t.Errorf("expected ConfigError on market.volatility, got %v", err)
	}
	if !apperrors.Is(err, apperrors.ErrConfig) {
		t.Error("expected errors.Is(err, ErrConfig)")
	}
}

func TestValidate_DefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

// Property: any circuit band outside (0, 1) is rejected and any band inside is accepted.
func TestProperty_CircuitBandRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("band validity matches (0,1)", prop.ForAll(
		func(band float64) bool {
			cfg := Default()
			cfg.Market.CircuitBand = band
			err := cfg.Validate()
			inRange := band > 0 && band < 1
			return (err == nil) == inRange
		},
		gen.Float64Range(-1.5, 1.5),
	))

	properties.TestingRun(t)
}
