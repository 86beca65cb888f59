package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"nepse-simulator/internal/engine"
	"nepse-simulator/internal/models"
	"nepse-simulator/internal/stream"
)

func newRealtimeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "realtime",
		Aliases: []string{"live"},
		Short:   "Run the intraday market on a wall-clock schedule",
		Long: `Run the simulated market tick by tick. Each tick advances the session by
the configured number of minutes; the session closes after the trading window
and committed days are saved on exit.

Alerts use SYMBOL:CONDITION[:PRICE] with conditions above, below, cross_above,
cross_below, percent_change and circuit.`,
		Example: `  nepsesim realtime --symbols NABIL,NLIC
  nepsesim realtime --alert NABIL:above:1300 --alert UPPER:circuit
  nepsesim realtime --days 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbols, _ := cmd.Flags().GetStringSlice("symbols")
			alertSpecs, _ := cmd.Flags().GetStringArray("alert")
			days, _ := cmd.Flags().GetInt("days")
			closeOnExit, _ := cmd.Flags().GetBool("close-on-exit")

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			m, err := app.openMarket(ctx, false)
			if err != nil {
				output.Error("Failed to open market: %v", err)
				return err
			}
			defer m.Close()

			hub := stream.NewHub(app.Logger)
			hub.Start(ctx)
			defer hub.Stop()
			m.engine.Observe(hub)
			if pub := app.publisher(m); pub != nil {
				m.engine.Observe(pub)
			}

			alerts := stream.NewAlertMonitor(app.Logger)
			for _, spec := range alertSpecs {
				a, err := alerts.ParseAlert(spec)
				if err != nil {
					output.Error("Invalid alert %q: %v", spec, err)
					return err
				}
				output.Info("Alert %s", a)
			}
			alerts.SetOnTrigger(func(t stream.Trigger) {
				output.Warning("ALERT %s %s at %s (%s)", t.Alert.Symbol, t.Alert.Condition,
					FormatPrice(t.Quote.Price), FormatPercent(t.Quote.ChangePercent()))
			})
			hub.RegisterConsumer(alerts)

			sessions := 0
			stop := make(chan struct{})
			m.engine.Observe(engine.ObserverFuncs{
				PriceUpdate: func(s models.MarketState) {
					if !output.IsJSON() && len(symbols) > 0 {
						printTicks(output, s, symbols)
					}
				},
				SessionClose: func(s models.MarketState) {
					sessions++
					if output.IsJSON() {
						_ = output.JSON(engine.StatusOf(s, app.Config.RealTime.TradingMinutes))
					} else {
						printSessionClose(output, s)
					}
					if days > 0 && sessions == days {
						close(stop)
					}
				},
			})

			rt, err := m.engine.NewRealTime(engine.RealTimeConfigFrom(app.Config.RealTime))
			if err != nil {
				return err
			}
			if err := rt.Start(ctx); err != nil {
				output.Error("Failed to start: %v", err)
				return err
			}
			if !output.IsJSON() {
				output.Success("Real-time market started (tick every %s, %d minutes per tick)",
					app.Config.RealTime.TickInterval, app.Config.RealTime.MinutesPerTick)
				output.Dim("Press Ctrl+C to stop")
			}

			select {
			case <-ctx.Done():
			case <-stop:
			case <-rt.Done():
			}
			rt.Stop()

			if err := rt.Err(); err != nil {
				output.Error("Real-time loop failed: %v", err)
			}

			// The signal context may be cancelled here; persist with the parent.
			saveCtx := cmd.Context()
			if closeOnExit {
				if err := m.engine.CloseSession(saveCtx); err != nil {
					output.Warning("Could not close the open session: %v", err)
				}
			}
			if err := app.saveHistory(saveCtx, m, false); err != nil {
				output.Error("Failed to save history: %v", err)
				return err
			}

			stats := rt.Stats()
			if !output.IsJSON() {
				output.Println()
				output.Info("Stopped after %d sessions: %d ticks, %d skipped, %d dropped",
					sessions, stats.Produced, stats.Skipped, stats.Dropped)
				if fired := alerts.Stats().TriggeredAlerts; fired > 0 {
					output.Info("%d alerts triggered", fired)
				}
			}
			return rt.Err()
		},
	}

	cmd.Flags().StringSlice("symbols", nil, "print ticks for these symbols")
	cmd.Flags().StringArray("alert", nil, "price alert as SYMBOL:CONDITION[:PRICE] (repeatable)")
	cmd.Flags().Int("days", 0, "stop after this many sessions (0 runs until interrupted)")
	cmd.Flags().Bool("close-on-exit", false, "commit an open session at current prices when stopping")

	return cmd
}

func printTicks(output *Output, s models.MarketState, symbols []string) {
	parts := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		q, ok := s.Instruments[strings.ToUpper(sym)]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", q.Symbol, FormatPrice(q.Price), output.FormatPercent(q.ChangePercent())))
	}
	if len(parts) == 0 {
		return
	}
	output.Printf("%s %s  %s\n", output.DimText(FormatDate(s.Date)), FormatSessionTime(s.Minute), strings.Join(parts, "  "))
}

func printSessionClose(output *Output, s models.MarketState) {
	adv, dec, unch := s.Breadth()
	output.Bold("Session closed %s (day %d)", FormatDate(s.Date), s.Day)
	output.Printf("  Breadth: %s advancing, %s declining, %d unchanged   Volume: %s\n",
		output.Green(itoa(adv)), output.Red(itoa(dec)), unch, FormatVolume(s.TotalVolume()))

	var limits []string
	for _, q := range s.Instruments {
		if q.Status != models.CircuitNormal {
			limits = append(limits, q.Symbol+" "+output.Circuit(q.Status))
		}
	}
	if len(limits) > 0 {
		sort.Strings(limits)
		output.Printf("  Circuits: %s\n", strings.Join(limits, ", "))
	}
}
