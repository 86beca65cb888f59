// Package config provides configuration management for the simulator.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Simulation SimulationConfig  `mapstructure:"simulation"`
	Market     MarketConfig      `mapstructure:"market"`
	RealTime   RealTimeConfig    `mapstructure:"realtime"`
	Portfolio  PortfolioConfig   `mapstructure:"portfolio"`
	Analysis   AnalysisConfig    `mapstructure:"analysis"`
	Storage    StorageConfig     `mapstructure:"storage"`
	Server     ServerConfig      `mapstructure:"server"`
	Logging    logging.LogConfig `mapstructure:"logging"`
}

// SimulationConfig controls the day-advance loop.
type SimulationConfig struct {
	StartDate   string   `mapstructure:"start_date"` // YYYY-MM-DD
	MaxDays     int      `mapstructure:"max_days"`   // 0 = unbounded
	DefaultDays int      `mapstructure:"default_days"`
	Seed        int64    `mapstructure:"seed"`
	WeekendDays []string `mapstructure:"weekend_days"`
}

// MarketConfig holds the stochastic model and exchange rules.
type MarketConfig struct {
	CircuitBand         float64      `mapstructure:"circuit_band"`
	Volatility          float64      `mapstructure:"volatility"`
	Drift               float64      `mapstructure:"drift"`
	SentimentVolatility float64      `mapstructure:"sentiment_volatility"`
	SectorVolatility    float64      `mapstructure:"sector_volatility"`
	MarketEventProb     float64      `mapstructure:"market_event_probability"`
	SectorEventProb     float64      `mapstructure:"sector_event_probability"`
	CompanyEventProb    float64      `mapstructure:"company_event_probability"`
	BaseVolume          int64        `mapstructure:"base_volume"`
	HaltAfterLimitDays  int          `mapstructure:"halt_after_limit_days"` // 0 disables auto halts
	EventImpact         ImpactConfig `mapstructure:"event_impact"`
}

// ImpactConfig holds event impact levels as fractional moves.
type ImpactConfig struct {
	Low    float64 `mapstructure:"low"`
	Medium float64 `mapstructure:"medium"`
	High   float64 `mapstructure:"high"`
}

// RealTimeConfig controls the intraday scheduler.
type RealTimeConfig struct {
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	MinutesPerTick   int           `mapstructure:"minutes_per_tick"`
	TradingMinutes   int           `mapstructure:"trading_minutes"`
	QueueSize        int           `mapstructure:"queue_size"`
	VolatilityFactor float64       `mapstructure:"volatility_factor"`
	Continuous       bool          `mapstructure:"continuous"`
}

// PortfolioConfig holds ledger settings.
type PortfolioConfig struct {
	InitialCash float64 `mapstructure:"initial_cash"`
	FeeRate     float64 `mapstructure:"fee_rate"`
}

// AnalysisConfig holds analyzer and screener settings.
type AnalysisConfig struct {
	RSIPeriod         int     `mapstructure:"rsi_period"`
	RSIOverbought     float64 `mapstructure:"rsi_overbought"`
	RSIOversold       float64 `mapstructure:"rsi_oversold"`
	VolumeSpikeFactor float64 `mapstructure:"volume_spike_factor"`
	VolumePeriod      int     `mapstructure:"volume_period"`
	Workers           int     `mapstructure:"workers"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	DBPath    string        `mapstructure:"db_path"`
	CSVDir    string        `mapstructure:"csv_dir"`
	Universe  string        `mapstructure:"universe"` // optional companies CSV
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisTTL  time.Duration `mapstructure:"redis_ttl"`
}

// ServerConfig holds the presentation API settings.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/nepse-simulator"
	}
	return filepath.Join(home, ".config", "nepse-simulator")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing
// config.toml is created from the template and defaults are used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := newViper(configDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}
	cfg.resolvePaths(configDir)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration without touching the filesystem.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Defaults always decode.
	_ = v.Unmarshal(cfg)
	cfg.resolvePaths(DefaultConfigDir())
	return cfg
}

func newViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("simulation.start_date", "2024-01-01")
	v.SetDefault("simulation.max_days", 0)
	v.SetDefault("simulation.default_days", 30)
	v.SetDefault("simulation.seed", 42)
	v.SetDefault("simulation.weekend_days", []string{"Saturday", "Sunday"})

	v.SetDefault("market.circuit_band", 0.10)
	v.SetDefault("market.volatility", 0.015)
	v.SetDefault("market.drift", 0.0)
	v.SetDefault("market.sentiment_volatility", 0.05)
	v.SetDefault("market.sector_volatility", 0.08)
	v.SetDefault("market.market_event_probability", 0.20)
	v.SetDefault("market.sector_event_probability", 0.15)
	v.SetDefault("market.company_event_probability", 0.05)
	v.SetDefault("market.base_volume", 500000)
	v.SetDefault("market.halt_after_limit_days", 0)
	v.SetDefault("market.event_impact.low", 0.01)
	v.SetDefault("market.event_impact.medium", 0.03)
	v.SetDefault("market.event_impact.high", 0.05)

	v.SetDefault("realtime.tick_interval", "1s")
	v.SetDefault("realtime.minutes_per_tick", 1)
	v.SetDefault("realtime.trading_minutes", 300) // 10:00 to 15:00
	v.SetDefault("realtime.queue_size", 64)
	v.SetDefault("realtime.volatility_factor", 1.0)
	v.SetDefault("realtime.continuous", false)

	v.SetDefault("portfolio.initial_cash", 1000000.0)
	v.SetDefault("portfolio.fee_rate", 0.0)

	v.SetDefault("analysis.rsi_period", 14)
	v.SetDefault("analysis.rsi_overbought", 70.0)
	v.SetDefault("analysis.rsi_oversold", 30.0)
	v.SetDefault("analysis.volume_spike_factor", 2.0)
	v.SetDefault("analysis.volume_period", 20)
	v.SetDefault("analysis.workers", 4)

	v.SetDefault("storage.db_path", "simulator.db")
	v.SetDefault("storage.csv_dir", "history")
	v.SetDefault("storage.universe", "")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("storage.redis_ttl", "10m")

	v.SetDefault("server.listen_addr", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", false)
	v.SetDefault("logging.file_path", "logs/simulator.log")
	v.SetDefault("logging.max_size", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 14)
}

// resolvePaths anchors relative storage and log paths to the config directory.
func (c *Config) resolvePaths(configDir string) {
	anchor := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(configDir, p)
	}
	c.Storage.DBPath = anchor(c.Storage.DBPath)
	c.Storage.CSVDir = anchor(c.Storage.CSVDir)
	c.Logging.FilePath = anchor(c.Logging.FilePath)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NEPSESIM_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Simulation.Seed = seed
		}
	}
	if v := os.Getenv("NEPSESIM_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("NEPSESIM_REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("NEPSESIM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// StartDate parses the configured simulation start date.
func (c *Config) StartDate() (time.Time, error) {
	t, err := time.Parse("2006-01-02", c.Simulation.StartDate)
	if err != nil {
		return time.Time{}, apperrors.NewConfigError("simulation.start_date", c.Simulation.StartDate, "must be YYYY-MM-DD")
	}
	return t, nil
}

// Weekends parses the configured weekend day names.
func (c *Config) Weekends() ([]time.Weekday, error) {
	days := make([]time.Weekday, 0, len(c.Simulation.WeekendDays))
	for _, name := range c.Simulation.WeekendDays {
		d, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, apperrors.NewConfigError("simulation.weekend_days", name, "unknown weekday")
		}
		days = append(days, d)
	}
	if len(days) >= 7 {
		return nil, apperrors.NewConfigError("simulation.weekend_days", c.Simulation.WeekendDays, "at least one trading weekday is required")
	}
	return days, nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := c.StartDate(); err != nil {
		return err
	}
	if _, err := c.Weekends(); err != nil {
		return err
	}
	if c.Simulation.MaxDays < 0 {
		return apperrors.NewConfigError("simulation.max_days", c.Simulation.MaxDays, "must be non-negative")
	}

	m := c.Market
	if m.CircuitBand <= 0 || m.CircuitBand >= 1 {
		return apperrors.NewConfigError("market.circuit_band", m.CircuitBand, "must be between 0 and 1 (exclusive)")
	}
	if m.Volatility < 0 {
		return apperrors.NewConfigError("market.volatility", m.Volatility, "must be non-negative")
	}
	if m.SentimentVolatility < 0 || m.SectorVolatility < 0 {
		return apperrors.NewConfigError("market.sentiment_volatility", m.SentimentVolatility, "factor volatilities must be non-negative")
	}
	for name, p := range map[string]float64{
		"market.market_event_probability":  m.MarketEventProb,
		"market.sector_event_probability":  m.SectorEventProb,
		"market.company_event_probability": m.CompanyEventProb,
	} {
		if p < 0 || p > 1 {
			return apperrors.NewConfigError(name, p, "must be between 0 and 1")
		}
	}
	if m.EventImpact.Low < 0 || m.EventImpact.Medium < 0 || m.EventImpact.High < 0 {
		return apperrors.NewConfigError("market.event_impact", m.EventImpact, "impacts must be non-negative")
	}
	if m.BaseVolume < 0 {
		return apperrors.NewConfigError("market.base_volume", m.BaseVolume, "must be non-negative")
	}
	if m.HaltAfterLimitDays < 0 {
		return apperrors.NewConfigError("market.halt_after_limit_days", m.HaltAfterLimitDays, "must be non-negative")
	}

	rt := c.RealTime
	if rt.TickInterval <= 0 {
		return apperrors.NewConfigError("realtime.tick_interval", rt.TickInterval, "must be positive")
	}
	if rt.MinutesPerTick <= 0 || rt.TradingMinutes <= 0 {
		return apperrors.NewConfigError("realtime.minutes_per_tick", rt.MinutesPerTick, "session minutes must be positive")
	}
	if rt.QueueSize <= 0 {
		return apperrors.NewConfigError("realtime.queue_size", rt.QueueSize, "must be positive")
	}
	if rt.VolatilityFactor < 0 {
		return apperrors.NewConfigError("realtime.volatility_factor", rt.VolatilityFactor, "must be non-negative")
	}

	if c.Portfolio.InitialCash < 0 {
		return apperrors.NewConfigError("portfolio.initial_cash", c.Portfolio.InitialCash, "must be non-negative")
	}
	if c.Portfolio.FeeRate < 0 || c.Portfolio.FeeRate >= 0.1 {
		return apperrors.NewConfigError("portfolio.fee_rate", c.Portfolio.FeeRate, "must be in [0, 0.1)")
	}

	a := c.Analysis
	if a.RSIPeriod <= 0 || a.VolumePeriod <= 0 {
		return apperrors.NewConfigError("analysis.rsi_period", a.RSIPeriod, "periods must be positive")
	}
	if a.RSIOversold < 0 || a.RSIOverbought > 100 || a.RSIOversold >= a.RSIOverbought {
		return apperrors.NewConfigError("analysis.rsi_oversold", a.RSIOversold, "must satisfy 0 <= oversold < overbought <= 100")
	}
	if a.VolumeSpikeFactor <= 0 {
		return apperrors.NewConfigError("analysis.volume_spike_factor", a.VolumeSpikeFactor, "must be positive")
	}

	return nil
}
