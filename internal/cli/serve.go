package cli

import (
	"github.com/spf13/cobra"

	"nepse-simulator/internal/engine"
	"nepse-simulator/internal/server"
	"nepse-simulator/internal/stream"
)

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve market data, analytics and portfolios over HTTP",
		Long: `Start the HTTP API over the stored history.

Routes live under /api/v1: state, quote/{symbol}, gainers, losers, volume,
sectors, breadth, correlation, summary and portfolios. Live snapshots stream
on /api/v1/ws and Prometheus metrics on /metrics.

With --live the real-time loop runs alongside the server.`,
		Example: `  nepsesim serve
  nepsesim serve --addr :9090 --live`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			addr, _ := cmd.Flags().GetString("addr")
			live, _ := cmd.Flags().GetBool("live")
			if addr == "" {
				addr = app.Config.Server.ListenAddr
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			m, err := app.openMarket(ctx, false)
			if err != nil {
				output.Error("Failed to open market: %v", err)
				return err
			}
			defer m.Close()

			l, err := app.ledger(ctx, m)
			if err != nil {
				return err
			}

			hub := stream.NewHub(app.Logger)
			hub.Start(ctx)
			defer hub.Stop()
			m.engine.Observe(hub)
			if pub := app.publisher(m); pub != nil {
				m.engine.Observe(pub)
			}

			var rt *engine.RealTime
			if live {
				rt, err = m.engine.NewRealTime(engine.RealTimeConfigFrom(app.Config.RealTime))
				if err != nil {
					return err
				}
				if err := rt.Start(ctx); err != nil {
					output.Error("Failed to start real-time loop: %v", err)
					return err
				}
			}

			srv := server.New(m.engine, app.analyzer(m.engine), l, hub, app.Logger)
			output.Success("Listening on %s", addr)
			serveErr := srv.ListenAndServe(ctx, addr)

			if rt != nil {
				rt.Stop()
				if err := app.saveHistory(cmd.Context(), m, false); err != nil {
					output.Error("Failed to save history: %v", err)
					return err
				}
			}
			return serveErr
		},
	}

	cmd.Flags().String("addr", "", "listen address (default from config)")
	cmd.Flags().Bool("live", false, "run the real-time loop while serving")

	return cmd
}
