// Package cli provides the command-line interface for the simulator.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nepse-simulator/internal/config"
	"nepse-simulator/internal/logging"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-01-01"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
}

// NewRootCmd creates the root command for the CLI. Configuration is loaded
// once flags are parsed so --config can point at another directory.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "nepsesim",
		Short: "NEPSE market simulator",
		Long: `nepsesim simulates a Nepal Stock Exchange style market.

It generates daily and intraday prices with circuit breakers, keeps virtual
portfolios, screens and analyzes the simulated history, and serves the live
market over HTTP and WebSocket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.Config = cfg
			app.ConfigDir = dir
			app.Logger = logging.NewLoggerWithConfig(cfg.Logging)

			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/nepse-simulator)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newSimulateCmd(app))
	rootCmd.AddCommand(newRealtimeCmd(app))
	rootCmd.AddCommand(newAnalyzeCmd(app))
	rootCmd.AddCommand(newScreenCmd(app))
	rootCmd.AddCommand(newPortfolioCmd(app))
	rootCmd.AddCommand(newServeCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Version needs no configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("nepsesim v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the simulator configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config, app.ConfigDir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config, dir string) {
	output.Dim("Config directory: %s", dir)
	output.Println()

	output.Bold("Simulation")
	output.Printf("  Start Date:      %s\n", cfg.Simulation.StartDate)
	output.Printf("  Seed:            %d\n", cfg.Simulation.Seed)
	output.Printf("  Max Days:        %d\n", cfg.Simulation.MaxDays)
	output.Printf("  Weekend:         %v\n", cfg.Simulation.WeekendDays)
	output.Println()

	output.Bold("Market")
	output.Printf("  Circuit Band:    %.1f%%\n", cfg.Market.CircuitBand*100)
	output.Printf("  Volatility:      %.2f%%\n", cfg.Market.Volatility*100)
	output.Printf("  Halt After:      %d limit days\n", cfg.Market.HaltAfterLimitDays)
	output.Println()

	output.Bold("Real Time")
	output.Printf("  Tick Interval:   %s\n", cfg.RealTime.TickInterval)
	output.Printf("  Minutes/Tick:    %d\n", cfg.RealTime.MinutesPerTick)
	output.Printf("  Session Length:  %d min\n", cfg.RealTime.TradingMinutes)
	output.Println()

	output.Bold("Portfolio")
	output.Printf("  Initial Cash:    %s\n", FormatNPR(cfg.Portfolio.InitialCash))
	output.Printf("  Fee Rate:        %.3f%%\n", cfg.Portfolio.FeeRate*100)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Database:        %s\n", cfg.Storage.DBPath)
	output.Printf("  CSV Directory:   %s\n", cfg.Storage.CSVDir)
	if cfg.Storage.Universe != "" {
		output.Printf("  Universe:        %s\n", cfg.Storage.Universe)
	}
	if cfg.Storage.RedisAddr != "" {
		output.Printf("  Redis:           %s\n", cfg.Storage.RedisAddr)
	}
	output.Printf("  Listen Address:  %s\n", cfg.Server.ListenAddr)
}
