package cli

import (
	"time"

	"github.com/spf13/cobra"

	"nepse-simulator/internal/analyzer"
	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/models"
)

// SimulationResult is the JSON output of the simulate command.
type SimulationResult struct {
	Simulated int               `json:"days_simulated"`
	TotalDays int               `json:"total_days"`
	FirstDate string            `json:"first_date,omitempty"`
	LastDate  string            `json:"last_date,omitempty"`
	State     string            `json:"state"`
	Breadth   *analyzer.Breadth `json:"breadth,omitempty"`
	Gainers   []analyzer.Mover  `json:"top_gainers,omitempty"`
	Losers    []analyzer.Mover  `json:"top_losers,omitempty"`
	Elapsed   string            `json:"elapsed"`
}

func newSimulateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate trading days and save the history",
		Long: `Advance the simulated market day by day and save the generated bars.

By default the simulation continues from the history stored in the database.
Use --fresh to discard it and start again from the configured start date.`,
		Example: `  nepsesim simulate --days 60
  nepsesim simulate --days 250 --fresh --csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			days, _ := cmd.Flags().GetInt("days")
			fresh, _ := cmd.Flags().GetBool("fresh")
			csv, _ := cmd.Flags().GetBool("csv")
			if days <= 0 {
				days = app.Config.Simulation.DefaultDays
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			m, err := app.openMarket(ctx, fresh)
			if err != nil {
				output.Error("Failed to open market: %v", err)
				return err
			}
			defer m.Close()
			if pub := app.publisher(m); pub != nil {
				m.engine.Observe(pub)
			}

			start := time.Now()
			simulated := 0
			for simulated < days {
				if _, err := m.engine.AdvanceOneDay(ctx); err != nil {
					if ctx.Err() != nil {
						output.Warning("Interrupted after %d days", simulated)
						break
					}
					if apperrors.Is(err, apperrors.ErrSimulation) && m.engine.State() == models.StateCompleted {
						output.Warning("Simulation completed after %d days (max_days reached)", m.engine.History().Len())
						break
					}
					return err
				}
				simulated++
				output.Progress(simulated, days, "Simulating")
			}

			// Save with a fresh context so an interrupted run still persists.
			if err := app.saveHistory(cmd.Context(), m, csv); err != nil {
				output.Error("Failed to save history: %v", err)
				return err
			}

			result := SimulationResult{
				Simulated: simulated,
				TotalDays: m.engine.History().Len(),
				State:     string(m.engine.State()),
				Elapsed:   FormatDuration(time.Since(start)),
			}
			if dates := m.engine.History().Dates(); len(dates) > 0 {
				result.FirstDate = FormatDate(dates[0])
				result.LastDate = FormatDate(dates[len(dates)-1])
			}
			if result.TotalDays >= 2 {
				a := app.analyzer(m.engine)
				if b, err := a.MarketBreadth(); err == nil {
					result.Breadth = &b
				}
				result.Gainers, _ = a.TopGainers(5)
				result.Losers, _ = a.TopLosers(5)
			}

			if output.IsJSON() {
				return output.JSON(result)
			}
			printSimulation(output, result)
			return nil
		},
	}

	cmd.Flags().IntP("days", "d", 0, "trading days to simulate (default from config)")
	cmd.Flags().Bool("fresh", false, "discard stored history and start over")
	cmd.Flags().Bool("csv", false, "also export the history to CSV")

	return cmd
}

func printSimulation(output *Output, r SimulationResult) {
	output.Success("Simulated %d trading days in %s", r.Simulated, r.Elapsed)
	if r.FirstDate != "" {
		output.Printf("  History: %s to %s (%d days, %s)\n", r.FirstDate, r.LastDate, r.TotalDays, r.State)
	}
	if r.Breadth != nil {
		output.Printf("  Breadth: %s advancing, %s declining, %d unchanged\n",
			output.Green(itoa(r.Breadth.Advancing)), output.Red(itoa(r.Breadth.Declining)), r.Breadth.Unchanged)
	}
	if len(r.Gainers) > 0 {
		output.Println()
		output.Bold("Top Gainers")
		printMovers(output, r.Gainers)
	}
	if len(r.Losers) > 0 {
		output.Println()
		output.Bold("Top Losers")
		printMovers(output, r.Losers)
	}
}
