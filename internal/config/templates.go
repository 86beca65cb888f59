package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# NEPSE Simulator Configuration

[simulation]
# First simulated trading date (YYYY-MM-DD)
start_date = "2024-01-01"
# Stop advancing after this many trading days (0 = unbounded)
max_days = 0
# Days simulated by "simulate" when --days is not given
default_days = 30
# Random seed; identical seeds give identical histories
seed = 42
# Non-trading weekdays
weekend_days = ["Saturday", "Sunday"]

[market]
# Circuit breaker band as a fraction of previous close (0.10 = +/-10%)
circuit_band = 0.10
# Base daily volatility of company-specific returns
volatility = 0.015
# Constant daily drift added to every return
drift = 0.0
# Daily drift volatility of the market sentiment and sector trends
sentiment_volatility = 0.05
sector_volatility = 0.08
# Daily event probabilities
market_event_probability = 0.20
sector_event_probability = 0.15
company_event_probability = 0.05
# Volume used for instruments without their own base volume
base_volume = 500000
# Halt an instrument after this many consecutive limit closes (0 = never)
halt_after_limit_days = 0

[market.event_impact]
low = 0.01
medium = 0.03
high = 0.05

[realtime]
# Wall-clock time between ticks
tick_interval = "1s"
# Simulated minutes per tick
minutes_per_tick = 1
# Session length in minutes (10:00 to 15:00)
trading_minutes = 300
# Pending snapshots buffered for slow observers
queue_size = 64
volatility_factor = 1.0
# Open the next session automatically after a close
continuous = false

[portfolio]
# Starting cash for new portfolios (NPR)
initial_cash = 1000000.0
# Transaction fee as a fraction of notional (0 = no fee)
fee_rate = 0.0

[analysis]
rsi_period = 14
rsi_overbought = 70.0
rsi_oversold = 30.0
volume_spike_factor = 2.0
volume_period = 20
workers = 4

[storage]
# Relative paths are resolved against the config directory
db_path = "simulator.db"
csv_dir = "history"
# Optional companies CSV (symbol,name,sector,listed_shares,paid_up_value,base_volume,initial_price)
universe = ""
# Optional Redis for the latest-price cache
redis_addr = ""
redis_ttl = "10m"

[server]
listen_addr = ":8080"

[logging]
level = "info"
console = true
file = false
file_path = "logs/simulator.log"
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}
