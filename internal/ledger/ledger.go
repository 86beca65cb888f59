// Package ledger manages named portfolios trading against simulated prices.
package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/logging"
	"nepse-simulator/internal/metrics"
	"nepse-simulator/internal/models"
)

// PriceSource supplies current prices and halt status.
type PriceSource interface {
	Quote(symbol string) (models.InstrumentState, error)
	Snapshot() models.MarketState
}

// Store persists portfolios and their transaction logs.
type Store interface {
	SavePortfolio(ctx context.Context, p models.Portfolio) error
	DeletePortfolio(ctx context.Context, name string) error
	LoadPortfolios(ctx context.Context) ([]models.Portfolio, error)
	ApplyTrade(ctx context.Context, p models.Portfolio, tx models.Transaction) error
	LoadTransactions(ctx context.Context, portfolio string) ([]models.Transaction, error)
}

// Options configures a Ledger.
type Options struct {
	// FeeRate is charged on notional for both sides. Zero means no fees.
	FeeRate decimal.Decimal
	// Store is optional; when set every mutation is persisted before it is applied.
	Store Store
	Now   func() time.Time
}

// Ledger holds portfolios. Operations on one portfolio are serialized;
// different portfolios proceed independently.
type Ledger struct {
	prices PriceSource
	opts   Options
	logger zerolog.Logger

	mu       sync.RWMutex
	accounts map[string]*account
}

type account struct {
	mu        sync.Mutex
	portfolio models.Portfolio
	txs       []models.Transaction
	deleted   bool
}

// New creates a ledger pricing trades from prices.
func New(prices PriceSource, opts Options, logger zerolog.Logger) (*Ledger, error) {
	if opts.FeeRate.IsNegative() || opts.FeeRate.GreaterThanOrEqual(decimal.NewFromFloat(0.1)) {
		return nil, apperrors.NewConfigError("portfolio.fee_rate", opts.FeeRate.String(), "must be in [0, 0.1)")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{
		prices:   prices,
		opts:     opts,
		logger:   logging.WithComponent(logger, "ledger"),
		accounts: make(map[string]*account),
	}, nil
}

// Create opens a portfolio with initial cash.
func (l *Ledger) Create(ctx context.Context, name string, cash decimal.Decimal) (models.Portfolio, error) {
	name = normalizeName(name)
	if name == "" {
		return models.Portfolio{}, apperrors.NewConfigError("portfolio.name", name, "must not be empty")
	}
	if cash.IsNegative() {
		return models.Portfolio{}, apperrors.NewConfigError("portfolio.initial_cash", cash.String(), "must be non-negative")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.accounts[name]; exists {
		return models.Portfolio{}, apperrors.NewDuplicateNameError("portfolio", name)
	}
	p := models.Portfolio{
		Name:      name,
		Cash:      cash,
		Holdings:  make(map[string]models.Holding),
		CreatedAt: l.opts.Now().UTC(),
	}
	if l.opts.Store != nil {
		if err := l.opts.Store.SavePortfolio(ctx, p); err != nil {
			return models.Portfolio{}, apperrors.Wrap(err, "failed to save portfolio")
		}
	}
	l.accounts[name] = &account{portfolio: p}

	logger := logging.WithPortfolio(l.logger, name)
	logger.Info().Str("cash", cash.StringFixed(2)).Msg("Portfolio created")
	return p.Clone(), nil
}

// Delete removes a portfolio and its transaction log.
func (l *Ledger) Delete(ctx context.Context, name string) error {
	name = normalizeName(name)
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[name]
	if !ok {
		return apperrors.NewNotFoundError(name)
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if l.opts.Store != nil {
		if err := l.opts.Store.DeletePortfolio(ctx, name); err != nil {
			return apperrors.Wrap(err, "failed to delete portfolio")
		}
	}
	acct.deleted = true
	delete(l.accounts, name)
	logger := logging.WithPortfolio(l.logger, name)
	logger.Info().Msg("Portfolio deleted")
	return nil
}

// Get returns a copy of a portfolio.
func (l *Ledger) Get(name string) (models.Portfolio, error) {
	acct, err := l.lock(name)
	if err != nil {
		return models.Portfolio{}, err
	}
	defer acct.mu.Unlock()
	return acct.portfolio.Clone(), nil
}

// List returns copies of all portfolios ordered by name.
func (l *Ledger) List() []models.Portfolio {
	l.mu.RLock()
	names := make([]string, 0, len(l.accounts))
	for n := range l.accounts {
		names = append(names, n)
	}
	l.mu.RUnlock()
	sort.Strings(names)

	out := make([]models.Portfolio, 0, len(names))
	for _, n := range names {
		if p, err := l.Get(n); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// Transactions returns the trade log of a portfolio, oldest first.
func (l *Ledger) Transactions(name string) ([]models.Transaction, error) {
	acct, err := l.lock(name)
	if err != nil {
		return nil, err
	}
	defer acct.mu.Unlock()
	out := make([]models.Transaction, len(acct.txs))
	copy(out, acct.txs)
	return out, nil
}

// Buy purchases quantity shares at the current price.
func (l *Ledger) Buy(ctx context.Context, name, symbol string, quantity int64) (models.Holding, error) {
	return l.trade(ctx, name, symbol, models.OrderSideBuy, quantity)
}

// Sell disposes of quantity shares at the current price. A holding that
// reaches zero shares is removed.
func (l *Ledger) Sell(ctx context.Context, name, symbol string, quantity int64) (models.Holding, error) {
	return l.trade(ctx, name, symbol, models.OrderSideSell, quantity)
}

func (l *Ledger) trade(ctx context.Context, name, symbol string, side models.OrderSide, quantity int64) (models.Holding, error) {
	name = normalizeName(name)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if quantity <= 0 {
		return models.Holding{}, apperrors.NewConfigError("quantity", quantity, "must be positive")
	}

	acct, err := l.lock(name)
	if err != nil {
		return models.Holding{}, err
	}
	defer acct.mu.Unlock()

	quote, err := l.prices.Quote(symbol)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("unknown_symbol").Inc()
		return models.Holding{}, err
	}
	if !quote.Status.Tradable() {
		metrics.TradeRejections.WithLabelValues("halted").Inc()
		return models.Holding{}, apperrors.NewHaltedError(symbol)
	}

	price := decimal.NewFromFloat(quote.Price).Round(2)
	qty := decimal.NewFromInt(quantity)
	notional := price.Mul(qty)
	fee := notional.Mul(l.opts.FeeRate).Round(2)

	next := acct.portfolio.Clone()
	holding := next.Holdings[symbol]
	holding.Symbol = symbol
	realized := decimal.Zero

	switch side {
	case models.OrderSideBuy:
		cost := notional.Add(fee)
		if cost.GreaterThan(next.Cash) {
			metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
			return models.Holding{}, apperrors.NewInsufficientFundsError(name, cost, next.Cash)
		}
		next.Cash = next.Cash.Sub(cost)
		shares := holding.Shares + quantity
		holding.AvgCost = holding.CostBasis().Add(notional).Div(decimal.NewFromInt(shares))
		holding.Shares = shares
		next.Holdings[symbol] = holding

	case models.OrderSideSell:
		if quantity > holding.Shares {
			metrics.TradeRejections.WithLabelValues("insufficient_shares").Inc()
			return models.Holding{}, apperrors.NewInsufficientSharesError(name, symbol, quantity, holding.Shares)
		}
		next.Cash = next.Cash.Add(notional.Sub(fee))
		realized = price.Sub(holding.AvgCost).Mul(qty).Sub(fee)
		holding.Shares -= quantity
		if holding.Shares == 0 {
			delete(next.Holdings, symbol)
			holding.AvgCost = decimal.Zero
		} else {
			next.Holdings[symbol] = holding
		}
	}

	tx := models.Transaction{
		ID:          uuid.NewString(),
		Portfolio:   name,
		Symbol:      symbol,
		Side:        side,
		Quantity:    quantity,
		Price:       price,
		Fee:         fee,
		RealizedPnL: realized,
		Timestamp:   l.opts.Now().UTC(),
	}

	if l.opts.Store != nil {
		if err := l.opts.Store.ApplyTrade(ctx, next, tx); err != nil {
			return models.Holding{}, apperrors.Wrap(err, "failed to persist trade")
		}
	}
	acct.portfolio = next
	acct.txs = append(acct.txs, tx)

	metrics.TradesTotal.WithLabelValues(string(side)).Inc()
	logging.LogTrade(l.logger, name, symbol, string(side), quantity, price.StringFixed(2))
	return holding, nil
}

// Value marks a portfolio to market using one consistent snapshot.
func (l *Ledger) Value(name string) (models.Valuation, error) {
	acct, err := l.lock(name)
	if err != nil {
		return models.Valuation{}, err
	}
	p := acct.portfolio.Clone()
	acct.mu.Unlock()

	snapshot := l.prices.Snapshot()
	marketValue := decimal.Zero
	costBasis := decimal.Zero
	for sym, h := range p.Holdings {
		st, ok := snapshot.Instruments[sym]
		if !ok {
			return models.Valuation{}, apperrors.NewUnknownSymbolError(sym, "held instrument missing from market state")
		}
		price := decimal.NewFromFloat(st.Price).Round(2)
		marketValue = marketValue.Add(price.Mul(decimal.NewFromInt(h.Shares)))
		costBasis = costBasis.Add(h.CostBasis())
	}

	return models.Valuation{
		Portfolio:   p.Name,
		Cash:        p.Cash,
		MarketValue: marketValue,
		Total:       p.Cash.Add(marketValue),
		Unrealized:  marketValue.Sub(costBasis),
		AsOf:        snapshot.Date,
	}, nil
}

// Restore replaces in-memory portfolios with those in the store.
func (l *Ledger) Restore(ctx context.Context) error {
	if l.opts.Store == nil {
		return nil
	}
	portfolios, err := l.opts.Store.LoadPortfolios(ctx)
	if err != nil {
		return apperrors.Wrap(err, "failed to load portfolios")
	}
	accounts := make(map[string]*account, len(portfolios))
	for _, p := range portfolios {
		txs, err := l.opts.Store.LoadTransactions(ctx, p.Name)
		if err != nil {
			return apperrors.Wrapf(err, "failed to load transactions for %s", p.Name)
		}
		if p.Holdings == nil {
			p.Holdings = make(map[string]models.Holding)
		}
		accounts[p.Name] = &account{portfolio: p, txs: txs}
	}

	l.mu.Lock()
	l.accounts = accounts
	l.mu.Unlock()

	l.logger.Info().Int("portfolios", len(accounts)).Msg("Portfolios restored")
	return nil
}

// normalizeName is the key every portfolio is stored and looked up under.
func normalizeName(name string) string {
	return strings.TrimSpace(name)
}

// lock returns the named account with its mutex held.
func (l *Ledger) lock(name string) (*account, error) {
	name = normalizeName(name)
	l.mu.RLock()
	acct, ok := l.accounts[name]
	l.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFoundError(name)
	}
	acct.mu.Lock()
	if acct.deleted {
		acct.mu.Unlock()
		return nil, apperrors.NewNotFoundError(name)
	}
	return acct, nil
}
