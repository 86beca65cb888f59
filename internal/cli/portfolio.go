package cli

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/ledger"
	"nepse-simulator/internal/models"
)

// PortfolioView is the JSON output of portfolio show.
type PortfolioView struct {
	Portfolio models.Portfolio `json:"portfolio"`
	Valuation models.Valuation `json:"valuation"`
}

func newPortfolioCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "portfolio",
		Aliases: []string{"pf"},
		Short:   "Manage virtual portfolios",
		Long: `Create virtual portfolios and trade them at the latest simulated prices.

Trades execute at the last close of the stored history. Instruments halted by
the circuit breaker cannot be traded.`,
		Example: `  nepsesim portfolio create alice --cash 500000
  nepsesim portfolio buy alice NABIL 100
  nepsesim portfolio sell alice NABIL 40
  nepsesim portfolio show alice`,
	}

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a portfolio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cash, _ := cmd.Flags().GetFloat64("cash")
			if cash == 0 {
				cash = app.Config.Portfolio.InitialCash
			}
			return withLedger(app, cmd, func(ctx context.Context, l *ledger.Ledger, output *Output) error {
				p, err := l.Create(ctx, args[0], decimal.NewFromFloat(cash))
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(p)
				}
				output.Success("Created portfolio %s with %s", p.Name, FormatNPR(p.Cash.InexactFloat64()))
				return nil
			})
		},
	}
	create.Flags().Float64("cash", 0, "starting cash (default from config)")
	cmd.AddCommand(create)

	cmd.AddCommand(newTradeCmd(app, models.OrderSideBuy))
	cmd.AddCommand(newTradeCmd(app, models.OrderSideSell))

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Show holdings and valuation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(app, cmd, func(ctx context.Context, l *ledger.Ledger, output *Output) error {
				p, err := l.Get(args[0])
				if err != nil {
					return err
				}
				v, err := l.Value(args[0])
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(PortfolioView{Portfolio: p, Valuation: v})
				}
				printPortfolio(output, p, v)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List portfolios",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(app, cmd, func(ctx context.Context, l *ledger.Ledger, output *Output) error {
				portfolios := l.List()
				if output.IsJSON() {
					return output.JSON(portfolios)
				}
				if len(portfolios) == 0 {
					output.Dim("No portfolios; create one with 'nepsesim portfolio create <name>'")
					return nil
				}
				table := NewTable(output, "Name", "Cash", "Holdings", "Total Value", "Created")
				for _, p := range portfolios {
					total := "-"
					if v, err := l.Value(p.Name); err == nil {
						total = FormatNPR(v.Total.InexactFloat64())
					}
					table.AddRow(p.Name, FormatNPR(p.Cash.InexactFloat64()), itoa(len(p.Holdings)), total, FormatDate(p.CreatedAt))
				}
				table.Render()
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "history <name>",
		Short: "Show the transaction log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(app, cmd, func(ctx context.Context, l *ledger.Ledger, output *Output) error {
				txs, err := l.Transactions(args[0])
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(txs)
				}
				if len(txs) == 0 {
					output.Dim("No transactions")
					return nil
				}
				table := NewTable(output, "Time", "Side", "Symbol", "Qty", "Price", "Fee", "Realized")
				for _, tx := range txs {
					side := output.Green(string(tx.Side))
					if tx.Side == models.OrderSideSell {
						side = output.Red(string(tx.Side))
					}
					table.AddRow(tx.Timestamp.Format("2006-01-02 15:04"), side, tx.Symbol,
						FormatQuantity(tx.Quantity), tx.Price.StringFixed(2), tx.Fee.StringFixed(2),
						output.FormatPnL(tx.RealizedPnL.InexactFloat64()))
				}
				table.Render()
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a portfolio and its transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(app, cmd, func(ctx context.Context, l *ledger.Ledger, output *Output) error {
				if err := l.Delete(ctx, args[0]); err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(map[string]string{"deleted": args[0]})
				}
				output.Success("Deleted portfolio %s", args[0])
				return nil
			})
		},
	})

	return cmd
}

func newTradeCmd(app *App, side models.OrderSide) *cobra.Command {
	verb := strings.ToLower(string(side))
	return &cobra.Command{
		Use:   verb + " <name> <symbol> <quantity>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " shares at the latest price",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return apperrors.NewConfigError("quantity", args[2], "must be an integer")
			}
			return withLedger(app, cmd, func(ctx context.Context, l *ledger.Ledger, output *Output) error {
				trade := l.Buy
				if side == models.OrderSideSell {
					trade = l.Sell
				}
				h, err := trade(ctx, args[0], args[1], qty)
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(h)
				}
				txs, _ := l.Transactions(args[0])
				price := "-"
				if len(txs) > 0 {
					price = txs[len(txs)-1].Price.StringFixed(2)
				}
				output.Success("%s %s %s @ %s", side, FormatQuantity(qty), strings.ToUpper(args[1]), price)
				output.Printf("  Position: %s shares, avg cost %s\n", FormatQuantity(h.Shares), h.AvgCost.StringFixed(2))
				return nil
			})
		},
	}
}

// withLedger opens the market and ledger, then runs fn. Domain errors are
// reported before being returned.
func withLedger(app *App, cmd *cobra.Command, fn func(ctx context.Context, l *ledger.Ledger, output *Output) error) error {
	output := NewOutput(cmd)
	ctx := cmd.Context()

	m, err := app.openMarket(ctx, false)
	if err != nil {
		return err
	}
	defer m.Close()

	l, err := app.ledger(ctx, m)
	if err != nil {
		return err
	}
	if err := fn(ctx, l, output); err != nil {
		output.Error("%v", err)
		return err
	}
	return nil
}

func printPortfolio(output *Output, p models.Portfolio, v models.Valuation) {
	output.Bold("Portfolio %s", p.Name)
	if !v.AsOf.IsZero() {
		output.Dim("Valued at the %s close", FormatDate(v.AsOf))
	}
	output.Println()

	symbols := make([]string, 0, len(p.Holdings))
	for sym := range p.Holdings {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	if len(symbols) > 0 {
		table := NewTable(output, "Symbol", "Shares", "Avg Cost", "Cost Basis")
		for _, sym := range symbols {
			h := p.Holdings[sym]
			table.AddRow(sym, FormatQuantity(h.Shares), h.AvgCost.StringFixed(2), FormatNPR(h.CostBasis().InexactFloat64()))
		}
		table.Render()
		output.Println()
	}

	output.Printf("  Cash:          %s\n", FormatNPR(v.Cash.InexactFloat64()))
	output.Printf("  Market Value:  %s\n", FormatNPR(v.MarketValue.InexactFloat64()))
	output.Printf("  Total:         %s\n", FormatNPR(v.Total.InexactFloat64()))
	output.Printf("  Unrealized:    %s\n", output.FormatPnL(v.Unrealized.InexactFloat64()))
}
