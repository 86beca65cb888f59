package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents the side of a trade.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Holding is a portfolio position in one instrument.
type Holding struct {
	Symbol  string          `json:"symbol"`
	Shares  int64           `json:"shares"`
	AvgCost decimal.Decimal `json:"avg_cost"`
}

// CostBasis returns shares times average cost.
func (h Holding) CostBasis() decimal.Decimal {
	return h.AvgCost.Mul(decimal.NewFromInt(h.Shares))
}

// Portfolio is a named cash balance with holdings.
type Portfolio struct {
	Name      string             `json:"name"`
	Cash      decimal.Decimal    `json:"cash"`
	Holdings  map[string]Holding `json:"holdings"`
	CreatedAt time.Time          `json:"created_at"`
}

// Clone returns a deep copy of the portfolio.
func (p Portfolio) Clone() Portfolio {
	out := p
	out.Holdings = make(map[string]Holding, len(p.Holdings))
	for k, v := range p.Holdings {
		out.Holdings[k] = v
	}
	return out
}

// Transaction is an immutable trade record.
type Transaction struct {
	ID          string          `json:"id"`
	Portfolio   string          `json:"portfolio"`
	Symbol      string          `json:"symbol"`
	Side        OrderSide       `json:"side"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Fee         decimal.Decimal `json:"fee"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Notional returns price times quantity, before fees.
func (t Transaction) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

// Valuation is a point-in-time portfolio value.
type Valuation struct {
	Portfolio   string          `json:"portfolio"`
	Cash        decimal.Decimal `json:"cash"`
	MarketValue decimal.Decimal `json:"market_value"`
	Total       decimal.Decimal `json:"total"`
	Unrealized  decimal.Decimal `json:"unrealized_pnl"`
	AsOf        time.Time       `json:"as_of"`
}
