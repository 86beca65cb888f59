package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"nepse-simulator/internal/config"
	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/screener"
)

// presetFilters expands a named screen into filter strings. RSI presets use
// the configured overbought and oversold levels.
func presetFilters(name string, cfg config.AnalysisConfig) ([]string, error) {
	switch strings.ToLower(name) {
	case "momentum":
		return []string{"rsi:60:100", "change:0:", "macd:positive"}, nil
	case "oversold":
		return []string{fmt.Sprintf("rsi:0:%g", cfg.RSIOversold)}, nil
	case "overbought":
		return []string{fmt.Sprintf("rsi:%g:100", cfg.RSIOverbought)}, nil
	case "breakout":
		return []string{"change:3:", "macd:crossover"}, nil
	case "reversal":
		return []string{"rsi:0:35", "macd:crossover"}, nil
	case "upper-circuit":
		return []string{"circuit:upper:1:5"}, nil
	case "lower-circuit":
		return []string{"circuit:lower:1:5"}, nil
	}
	return nil, apperrors.NewConfigError("preset", name, "unknown preset")
}

func presetNames() []string {
	names := []string{"momentum", "oversold", "overbought", "breakout", "reversal", "upper-circuit", "lower-circuit"}
	sort.Strings(names)
	return names
}

func newScreenCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "screen",
		Short: "Screen instruments with technical filters",
		Long: `Screen instruments on the latest trading day. All filters must match.

Filters are kind:args strings; an empty bound is open:
  price:MIN:MAX          last close
  volume:MIN             last volume
  rsi:MIN:MAX[:PERIOD]   RSI (default period 14)
  avgvolume:MIN:MAX[:N]  average volume over N days (default 20)
  change:MIN:MAX         last day percent change
  macd:STATE             crossover, crossunder, positive or negative
  circuit:upper|lower:MIN:DAYS   limit closes in the last DAYS days
  sector:NAME[,NAME]     sector membership
  mcap:MIN:MAX           market capitalization
  pe:MIN:MAX             price to earnings at the last close
  eps:MIN:MAX            reported earnings per share`,
		Example: `  nepsesim screen -f rsi:0:30
  nepsesim screen -f price:100:500 -f volume:50000
  nepsesim screen --preset momentum
  nepsesim screen --preset breakout -f "sector:Commercial Bank"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			filters, _ := cmd.Flags().GetStringArray("filter")
			preset, _ := cmd.Flags().GetString("preset")

			if preset != "" {
				extra, err := presetFilters(preset, app.Config.Analysis)
				if err != nil {
					output.Error("Unknown preset %q (available: %s)", preset, strings.Join(presetNames(), ", "))
					return err
				}
				filters = append(extra, filters...)
			}
			if len(filters) == 0 {
				output.Error("No filters given; use --filter or --preset")
				return apperrors.NewConfigError("filter", "", "at least one filter is required")
			}

			preds, err := screener.ParseFilters(filters)
			if err != nil {
				output.Error("Invalid filter: %v", err)
				return err
			}

			ctx := cmd.Context()
			m, err := app.openMarket(ctx, false)
			if err != nil {
				return err
			}
			defer m.Close()

			matches, err := app.screener(m.engine).Matches(ctx, preds...)
			if err != nil {
				if apperrors.Is(err, apperrors.ErrNoData) {
					output.Warning("No history yet: run 'nepsesim simulate' first")
				}
				return err
			}

			if output.IsJSON() {
				return output.JSON(matches)
			}

			output.Info("Screening %d instruments", len(m.engine.Instruments()))
			for _, p := range preds {
				output.Printf("  %s\n", p.Name())
			}
			output.Println()

			if len(matches) == 0 {
				output.Dim("No instruments matched")
				return nil
			}
			table := NewTable(output, "Symbol", "Sector", "Close", "Change", "Volume", "RSI")
			for _, mt := range matches {
				rsi := "-"
				if mt.RSI > 0 {
					rsi = fmt.Sprintf("%.1f", mt.RSI)
				}
				table.AddRow(mt.Symbol, TruncateString(mt.Sector, 20), FormatPrice(mt.Close),
					output.FormatPercent(mt.ChangePct), FormatVolume(mt.Volume), rsi)
			}
			table.Render()
			output.Println()
			output.Success("%d matched", len(matches))
			return nil
		},
	}

	cmd.Flags().StringArrayP("filter", "f", nil, "filter as kind:args (repeatable)")
	cmd.Flags().StringP("preset", "p", "", "preset screen ("+strings.Join(presetNames(), ", ")+")")

	return cmd
}
