package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nepse-simulator/internal/analyzer"
	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/models"
)

func newAnalyzeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze the simulated market history",
		Long: `Market analytics over the stored history: top movers, sector
performance, breadth, return correlations and a daily summary.

Use --date to analyze an earlier trading day.`,
		Example: `  nepsesim analyze gainers -n 10
  nepsesim analyze sectors --date 2024-02-15
  nepsesim analyze correlation NABIL NLIC UPPER
  nepsesim analyze indicators NABIL
  nepsesim analyze summary --json`,
	}

	cmd.PersistentFlags().String("date", "", "analyze as of this trading date (YYYY-MM-DD)")

	moverCmd := func(use, short string, latest func(*analyzer.Analyzer, int) ([]analyzer.Mover, error), at func(*analyzer.Analyzer, time.Time, int) ([]analyzer.Mover, error)) *cobra.Command {
		c := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				n, _ := cmd.Flags().GetInt("limit")
				return runAnalysis(app, cmd, func(ctx context.Context, a *analyzer.Analyzer, asOf *time.Time, output *Output) error {
					var (
						movers []analyzer.Mover
						err    error
					)
					if asOf != nil {
						movers, err = at(a, *asOf, n)
					} else {
						movers, err = latest(a, n)
					}
					if err != nil {
						return err
					}
					if output.IsJSON() {
						return output.JSON(movers)
					}
					output.Bold("%s", short)
					printMovers(output, movers)
					return nil
				})
			},
		}
		c.Flags().IntP("limit", "n", 10, "number of instruments")
		return c
	}

	cmd.AddCommand(moverCmd("gainers", "Top gainers", (*analyzer.Analyzer).TopGainers, (*analyzer.Analyzer).TopGainersAt))
	cmd.AddCommand(moverCmd("losers", "Top losers", (*analyzer.Analyzer).TopLosers, (*analyzer.Analyzer).TopLosersAt))
	cmd.AddCommand(moverCmd("volume", "Volume leaders", (*analyzer.Analyzer).VolumeLeaders, (*analyzer.Analyzer).VolumeLeadersAt))

	cmd.AddCommand(&cobra.Command{
		Use:   "sectors",
		Short: "Sector performance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalysis(app, cmd, func(ctx context.Context, a *analyzer.Analyzer, asOf *time.Time, output *Output) error {
				var (
					stats []analyzer.SectorStats
					err   error
				)
				if asOf != nil {
					stats, err = a.SectorPerformanceAt(*asOf)
				} else {
					stats, err = a.SectorPerformance()
				}
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(stats)
				}
				table := NewTable(output, "Sector", "Avg Change", "Adv", "Dec", "Unch", "Volume")
				for _, s := range stats {
					table.AddRow(s.Sector, output.FormatPercent(s.AvgChangePct),
						itoa(s.Advancing), itoa(s.Declining), itoa(s.Unchanged), FormatVolume(s.TotalVolume))
				}
				table.Render()
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "breadth",
		Short: "Advancing versus declining instruments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalysis(app, cmd, func(ctx context.Context, a *analyzer.Analyzer, asOf *time.Time, output *Output) error {
				var (
					b   analyzer.Breadth
					err error
				)
				if asOf != nil {
					b, err = a.MarketBreadthAt(*asOf)
				} else {
					b, err = a.MarketBreadth()
				}
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(b)
				}
				output.Bold("Market Breadth %s", b.Date)
				output.Printf("  Advancing: %s\n", output.Green(itoa(b.Advancing)))
				output.Printf("  Declining: %s\n", output.Red(itoa(b.Declining)))
				output.Printf("  Unchanged: %d\n", b.Unchanged)
				output.Printf("  A/D Ratio: %.2f\n", b.ADRatio())
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "correlation [symbols...]",
		Short: "Daily return correlation matrix",
		Long:  "Correlation of daily returns. With no symbols every instrument is included.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalysis(app, cmd, func(ctx context.Context, a *analyzer.Analyzer, asOf *time.Time, output *Output) error {
				var (
					c   analyzer.Correlation
					err error
				)
				if asOf != nil {
					c, err = a.CorrelationMatrixAt(*asOf, args)
				} else {
					c, err = a.CorrelationMatrix(args)
				}
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(c)
				}
				output.Dim("%d return observations", c.Observations)
				table := NewTable(output, append([]string{""}, c.Symbols...)...)
				for i, sym := range c.Symbols {
					row := []string{sym}
					for _, v := range c.Values[i] {
						row = append(row, output.signed(v, fmt.Sprintf("%.2f", v)))
					}
					table.AddRow(row...)
				}
				table.Render()
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "Market summary for one trading day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalysis(app, cmd, func(ctx context.Context, a *analyzer.Analyzer, asOf *time.Time, output *Output) error {
				var (
					s   analyzer.Summary
					err error
				)
				if asOf != nil {
					s, err = a.SummaryAt(*asOf)
				} else {
					s, err = a.Summary()
				}
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(s)
				}
				printSummary(output, s)
				return nil
			})
		},
	})

	rangeCmd := &cobra.Command{
		Use:   "range <symbol>",
		Short: "Price range of one instrument over recent days",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			return runAnalysis(app, cmd, func(ctx context.Context, a *analyzer.Analyzer, _ *time.Time, output *Output) error {
				r, err := a.PriceRange(strings.ToUpper(args[0]), days)
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(r)
				}
				output.Bold("%s  %s to %s (%d days)", r.Symbol, r.From, r.To, r.Days)
				output.Printf("  Open:  %s   Close: %s   Change: %s\n", FormatPrice(r.Open), FormatPrice(r.Close), output.FormatPercent(r.ChangePct))
				output.Printf("  High:  %s   Low:   %s\n", FormatPrice(r.High), FormatPrice(r.Low))
				output.Printf("  Avg Volume: %s\n", FormatVolume(int64(r.AvgVolume)))
				return nil
			})
		},
	}
	rangeCmd.Flags().Int("days", 20, "trading days in the window")
	cmd.AddCommand(rangeCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "indicators <symbol>",
		Short: "Technical indicators for one instrument",
		Long: `Latest RSI, SMA, EMA, MACD and Bollinger Band readings over the full
history of one instrument, with support and resistance levels and the
volume point of control.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalysis(app, cmd, func(ctx context.Context, a *analyzer.Analyzer, _ *time.Time, output *Output) error {
				t, err := a.Technicals(ctx, args[0])
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(t)
				}
				printTechnicals(output, t)
				return nil
			})
		},
	})

	return cmd
}

// runAnalysis restores the stored history, builds an analyzer and runs fn.
// Results of the summary are mirrored to Redis when it is configured.
func runAnalysis(app *App, cmd *cobra.Command, fn func(ctx context.Context, a *analyzer.Analyzer, asOf *time.Time, output *Output) error) error {
	output := NewOutput(cmd)
	ctx := cmd.Context()

	var asOf *time.Time
	if raw, _ := cmd.Flags().GetString("date"); raw != "" {
		t, err := time.Parse(models.DateLayout, raw)
		if err != nil {
			return apperrors.NewConfigError("date", raw, "must be YYYY-MM-DD")
		}
		asOf = &t
	}

	m, err := app.openMarket(ctx, false)
	if err != nil {
		return err
	}
	defer m.Close()

	a := app.analyzer(m.engine)
	if err := fn(ctx, a, asOf, output); err != nil {
		if apperrors.Is(err, apperrors.ErrNoData) {
			output.Warning("Not enough history: run 'nepsesim simulate' first")
		}
		return err
	}

	if pub := app.publisher(m); pub != nil && cmd.Name() == "summary" {
		date := m.engine.Snapshot().Date
		if asOf != nil {
			date = *asOf
		}
		if s, err := a.SummaryAt(date); err == nil {
			if err := pub.PublishSummary(ctx, "summary", date, s); err != nil {
				app.Logger.Warn().Err(err).Msg("Failed to publish summary")
			}
		}
	}
	return nil
}

func printMovers(output *Output, movers []analyzer.Mover) {
	if len(movers) == 0 {
		output.Dim("  none")
		return
	}
	table := NewTable(output, "#", "Symbol", "Sector", "Close", "Prev", "Change", "Volume", "Circuit")
	for i, m := range movers {
		table.AddRow(
			itoa(i+1),
			m.Symbol,
			TruncateString(m.Sector, 20),
			FormatPrice(m.Close),
			FormatPrice(m.PrevClose),
			output.FormatPercent(m.ChangePct),
			FormatVolume(m.Volume),
			output.Circuit(models.CircuitStatus(m.Circuit)),
		)
	}
	table.Render()
}

func printSummary(output *Output, s analyzer.Summary) {
	output.Bold("Market Summary %s", s.Date)
	output.Printf("  Market Return:  %s\n", output.FormatPercent(s.MarketReturnPct))
	output.Printf("  Breadth:        %s / %s / %d  (A/D %.2f)\n",
		output.Green(itoa(s.Breadth.Advancing)), output.Red(itoa(s.Breadth.Declining)), s.Breadth.Unchanged, s.ADRatio)
	output.Printf("  Total Volume:   %s\n", FormatVolume(s.TotalVolume))
	output.Printf("  Best Sector:    %s\n", s.BestSector)
	output.Printf("  Worst Sector:   %s\n", s.WorstSector)
	output.Printf("  Circuits:       %d upper, %d lower, %d halted\n", s.UpperCircuits, s.LowerCircuits, s.Halted)
	output.Printf("  RSI:            %d overbought, %d oversold\n", s.Overbought, s.Oversold)
	output.Printf("  Volume Spikes:  %d\n", s.VolumeSpikes)

	output.Println()
	output.Bold("Top Gainers")
	printMovers(output, s.TopGainers)
	output.Println()
	output.Bold("Top Losers")
	printMovers(output, s.TopLosers)
}

func printTechnicals(output *Output, t analyzer.Technicals) {
	output.Bold("%s  %s  close %s (%d bars)", t.Symbol, t.Date, FormatPrice(t.Close), t.Bars)

	names := make([]string, 0, len(t.Values))
	for name := range t.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	table := NewTable(output, "Indicator", "Value", "Close vs")
	for _, name := range names {
		v := t.Values[name]
		vs := ""
		if strings.HasPrefix(name, "SMA_") || strings.HasPrefix(name, "EMA_") || strings.HasSuffix(name, ".middle") {
			if v != 0 {
				diff := t.Close - v
				vs = output.signed(diff, FormatChange(diff, diff/v*100))
			}
		}
		table.AddRow(output.Cyan(name), fmt.Sprintf("%.2f", v), vs)
	}
	table.Render()

	if len(t.Skipped) > 0 {
		output.Dim("  not enough history for %s", strings.Join(t.Skipped, ", "))
	}
	output.Printf("  Support:     %s\n", joinPrices(t.Support))
	output.Printf("  Resistance:  %s\n", joinPrices(t.Resistance))
	output.Printf("  Volume POC:  %s\n", FormatPrice(t.VolumePOC))
	output.Printf("  Circuits:    %d upper, %d lower\n", t.UpperCircuits, t.LowerCircuits)
}

func joinPrices(prices []float64) string {
	if len(prices) == 0 {
		return "-"
	}
	out := make([]string, len(prices))
	for i, p := range prices {
		out[i] = FormatPrice(p)
	}
	return strings.Join(out, ", ")
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
