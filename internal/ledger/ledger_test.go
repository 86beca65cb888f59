package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/models"
)

type fakePrices struct {
	mu     sync.RWMutex
	quotes map[string]models.InstrumentState
}

func newFakePrices() *fakePrices {
	return &fakePrices{quotes: map[string]models.InstrumentState{
		"NABIL": {Symbol: "NABIL", Price: 500, Status: models.CircuitNormal},
		"NLIC":  {Symbol: "NLIC", Price: 812.35, Status: models.CircuitUpper},
		"UPPER": {Symbol: "UPPER", Price: 245, Status: models.CircuitHalted},
	}}
}

func (f *fakePrices) set(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.quotes[symbol]
	q.Price = price
	f.quotes[symbol] = q
}

func (f *fakePrices) Quote(symbol string) (models.InstrumentState, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[symbol]
	if !ok {
		return models.InstrumentState{}, apperrors.NewUnknownSymbolError(symbol, "not in universe")
	}
	return q, nil
}

func (f *fakePrices) Snapshot() models.MarketState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s := models.MarketState{Instruments: map[string]models.InstrumentState{}}
	for k, v := range f.quotes {
		s.Instruments[k] = v
	}
	return s
}

func newLedger(t *testing.T, prices PriceSource, opts Options) *Ledger {
	t.Helper()
	l, err := New(prices, opts, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestBuySellRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, newFakePrices(), Options{})

	if _, err := l.Create(ctx, "alice", dec(100_000)); err != nil {
		t.Fatal(err)
	}

	h, err := l.Buy(ctx, "alice", "NABIL", 10)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if h.Shares != 10 || !h.AvgCost.Equal(dec(500)) {
		t.Errorf("holding = %+v, want 10 @ 500", h)
	}
	p, _ := l.Get("alice")
	if !p.Cash.Equal(dec(95_000)) {
		t.Errorf("cash = %s, want 95000", p.Cash)
	}

	if _, err := l.Sell(ctx, "alice", "NABIL", 10); err != nil {
		t.Fatalf("sell: %v", err)
	}
	p, _ = l.Get("alice")
	if !p.Cash.Equal(dec(100_000)) {
		t.Errorf("cash = %s, want 100000", p.Cash)
	}
	if _, held := p.Holdings["NABIL"]; held {
		t.Error("holding should be removed after selling all shares")
	}

	txs, _ := l.Transactions("alice")
	if len(txs) != 2 || txs[0].Side != models.OrderSideBuy || txs[1].Side != models.OrderSideSell {
		t.Fatalf("unexpected transaction log: %+v", txs)
	}
	if txs[0].ID == "" || txs[0].ID == txs[1].ID {
		t.Error("transactions need distinct ids")
	}
	if !txs[1].RealizedPnL.IsZero() {
		t.Errorf("realized pnl = %s, want 0", txs[1].RealizedPnL)
	}
}

func TestNamesAreTrimmedEverywhere(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, newFakePrices(), Options{})

	p, err := l.Create(ctx, " alice ", dec(100_000))
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "alice" {
		t.Fatalf("name = %q, want alice", p.Name)
	}
	if _, err := l.Create(ctx, "alice", dec(1)); !apperrors.Is(err, apperrors.ErrDuplicateName) {
		t.Errorf("expected DuplicateNameError, got %v", err)
	}

	if _, err := l.Get(" alice"); err != nil {
		t.Errorf("Get: %v", err)
	}
	if _, err := l.Buy(ctx, "alice\t", "NABIL", 2); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	txs, err := l.Transactions("alice ")
	if err != nil || len(txs) != 1 || txs[0].Portfolio != "alice" {
		t.Fatalf("Transactions = %+v, %v", txs, err)
	}
	if _, err := l.Value(" alice "); err != nil {
		t.Errorf("Value: %v", err)
	}

	if err := l.Delete(ctx, " alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := l.Get("alice"); !apperrors.Is(err, apperrors.ErrPortfolioNotFound) {
		t.Errorf("expected PortfolioNotFoundError after delete, got %v", err)
	}
}

func TestWeightedAverageCost(t *testing.T) {
	ctx := context.Background()
	prices := newFakePrices()
	l := newLedger(t, prices, Options{})
	l.Create(ctx, "bob", dec(1_000_000))

	l.Buy(ctx, "bob", "NABIL", 10)
	prices.set("NABIL", 600)
	h, err := l.Buy(ctx, "bob", "NABIL", 30)
	if err != nil {
		t.Fatal(err)
	}
	// (10*500 + 30*600) / 40 = 575
	if h.Shares != 40 || !h.AvgCost.Equal(dec(575)) {
		t.Errorf("holding = %+v, want 40 @ 575", h)
	}

	h, err = l.Sell(ctx, "bob", "NABIL", 15)
	if err != nil {
		t.Fatal(err)
	}
	if h.Shares != 25 || !h.AvgCost.Equal(dec(575)) {
		t.Errorf("partial sell changed average cost: %+v", h)
	}
	txs, _ := l.Transactions("bob")
	if last := txs[len(txs)-1]; !last.RealizedPnL.Equal(dec(375)) {
		t.Errorf("realized pnl = %s, want 375", last.RealizedPnL)
	}

	v, err := l.Value("bob")
	if err != nil {
		t.Fatal(err)
	}
	if !v.MarketValue.Equal(dec(15_000)) || !v.Total.Equal(v.Cash.Add(v.MarketValue)) {
		t.Errorf("valuation = %+v", v)
	}
}

func TestFeesCharged(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, newFakePrices(), Options{FeeRate: dec(0.01)})
	l.Create(ctx, "carol", dec(100_000))

	if _, err := l.Buy(ctx, "carol", "NABIL", 10); err != nil {
		t.Fatal(err)
	}
	p, _ := l.Get("carol")
	if !p.Cash.Equal(dec(94_950)) {
		t.Errorf("cash = %s, want 94950", p.Cash)
	}
	l.Sell(ctx, "carol", "NABIL", 10)
	p, _ = l.Get("carol")
	if !p.Cash.Equal(dec(99_900)) {
		t.Errorf("cash after round trip = %s, want 99900", p.Cash)
	}
}

func TestTradeErrors(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, newFakePrices(), Options{})
	l.Create(ctx, "dave", dec(1_000))

	cases := []struct {
		name string
		run  func() error
		want error
	}{
		{"duplicate", func() error { _, err := l.Create(ctx, "dave", dec(1)); return err }, apperrors.ErrDuplicateName},
		{"negative cash", func() error { _, err := l.Create(ctx, "eve", dec(-1)); return err }, apperrors.ErrConfig},
		{"unknown symbol", func() error { _, err := l.Buy(ctx, "dave", "XYZ", 1); return err }, apperrors.ErrUnknownSymbol},
		{"halted", func() error { _, err := l.Buy(ctx, "dave", "UPPER", 1); return err }, apperrors.ErrHalted},
		{"funds", func() error { _, err := l.Buy(ctx, "dave", "NABIL", 3); return err }, apperrors.ErrInsufficientFunds},
		{"shares", func() error { _, err := l.Sell(ctx, "dave", "NABIL", 1); return err }, apperrors.ErrInsufficientShares},
		{"zero quantity", func() error { _, err := l.Buy(ctx, "dave", "NABIL", 0); return err }, apperrors.ErrConfig},
		{"missing portfolio", func() error { _, err := l.Buy(ctx, "zed", "NABIL", 1); return err }, apperrors.ErrPortfolioNotFound},
	}
	for _, tc := range cases {
		if err := tc.run(); !apperrors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}

	var ferr *apperrors.InsufficientFundsError
	_, err := l.Buy(ctx, "dave", "NABIL", 3)
	if !apperrors.As(err, &ferr) || ferr.Need != "1500" || ferr.Have != "1000" {
		t.Errorf("unexpected funds error: %v", err)
	}

	p, _ := l.Get("dave")
	if !p.Cash.Equal(dec(1_000)) || len(p.Holdings) != 0 {
		t.Errorf("failed trades changed the portfolio: %+v", p)
	}
	if txs, _ := l.Transactions("dave"); len(txs) != 0 {
		t.Errorf("failed trades logged transactions: %d", len(txs))
	}
}

func TestLimitStatusStillTrades(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, newFakePrices(), Options{})
	l.Create(ctx, "frank", dec(10_000))
	h, err := l.Buy(ctx, "frank", "NLIC", 2)
	if err != nil {
		t.Fatalf("upper-limit instrument should trade: %v", err)
	}
	if !h.AvgCost.Equal(dec(812.35)) {
		t.Errorf("avg cost = %s", h.AvgCost)
	}
}

type failingStore struct {
	*memStore
}

func (f *failingStore) ApplyTrade(context.Context, models.Portfolio, models.Transaction) error {
	return errors.New("disk full")
}

func TestStoreFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{memStore: newMemStore()}
	l := newLedger(t, newFakePrices(), Options{Store: store})
	l.Create(ctx, "gina", dec(10_000))

	if _, err := l.Buy(ctx, "gina", "NABIL", 1); err == nil {
		t.Fatal("expected persistence error")
	}
	p, _ := l.Get("gina")
	if !p.Cash.Equal(dec(10_000)) || len(p.Holdings) != 0 {
		t.Errorf("state changed despite failed persist: %+v", p)
	}
}

type memStore struct {
	mu         sync.Mutex
	portfolios map[string]models.Portfolio
	txs        map[string][]models.Transaction
}

func newMemStore() *memStore {
	return &memStore{portfolios: map[string]models.Portfolio{}, txs: map[string][]models.Transaction{}}
}

func (m *memStore) SavePortfolio(_ context.Context, p models.Portfolio) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolios[p.Name] = p.Clone()
	return nil
}

func (m *memStore) DeletePortfolio(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.portfolios, name)
	delete(m.txs, name)
	return nil
}

func (m *memStore) LoadPortfolios(context.Context) ([]models.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Portfolio
	for _, p := range m.portfolios {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (m *memStore) ApplyTrade(_ context.Context, p models.Portfolio, tx models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolios[p.Name] = p.Clone()
	m.txs[p.Name] = append(m.txs[p.Name], tx)
	return nil
}

func (m *memStore) LoadTransactions(_ context.Context, name string) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Transaction(nil), m.txs[name]...), nil
}

func TestRestoreFromStore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	prices := newFakePrices()

	l := newLedger(t, prices, Options{Store: store})
	l.Create(ctx, "hari", dec(50_000))
	l.Buy(ctx, "hari", "NABIL", 20)
	l.Create(ctx, "temp", dec(1))
	if err := l.Delete(ctx, "temp"); err != nil {
		t.Fatal(err)
	}

	restored := newLedger(t, prices, Options{Store: store})
	if err := restored.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	list := restored.List()
	if len(list) != 1 || list[0].Name != "hari" {
		t.Fatalf("restored portfolios = %+v", list)
	}
	if !list[0].Cash.Equal(dec(40_000)) || list[0].Holdings["NABIL"].Shares != 20 {
		t.Errorf("restored state = %+v", list[0])
	}
	if txs, _ := restored.Transactions("hari"); len(txs) != 1 {
		t.Errorf("restored %d transactions, want 1", len(txs))
	}
}

func TestConcurrentTradesSamePortfolio(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, newFakePrices(), Options{})
	l.Create(ctx, "a", dec(1_000_000))
	l.Create(ctx, "b", dec(1_000_000))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); l.Buy(ctx, "a", "NABIL", 1) }()
		go func() { defer wg.Done(); l.Buy(ctx, "b", "NABIL", 2) }()
	}
	wg.Wait()

	a, _ := l.Get("a")
	b, _ := l.Get("b")
	if a.Holdings["NABIL"].Shares != 100 || !a.Cash.Equal(dec(950_000)) {
		t.Errorf("portfolio a lost updates: %+v", a)
	}
	if b.Holdings["NABIL"].Shares != 200 || !b.Cash.Equal(dec(900_000)) {
		t.Errorf("portfolio b lost updates: %+v", b)
	}
}

// Property: after any sequence of buys and sells at moving prices, cash and
// every share count stay non-negative and total shares match the trade log.
func TestProperty_PortfolioInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("cash and shares never go negative", prop.ForAll(
		func(ops []int, prices []float64) bool {
			ctx := context.Background()
			src := newFakePrices()
			l := newLedger(t, src, Options{})
			l.Create(ctx, "p", dec(20_000))

			for i, op := range ops {
				if len(prices) > 0 {
					src.set("NABIL", prices[i%len(prices)])
				}
				qty := int64(op%50) + 1
				if op%2 == 0 {
					l.Buy(ctx, "p", "NABIL", qty)
				} else {
					l.Sell(ctx, "p", "NABIL", qty)
				}
				p, _ := l.Get("p")
				if p.Cash.IsNegative() {
					return false
				}
				for _, h := range p.Holdings {
					if h.Shares <= 0 {
						return false
					}
				}
			}

			p, _ := l.Get("p")
			txs, _ := l.Transactions("p")
			var net int64
			for _, tx := range txs {
				if tx.Side == models.OrderSideBuy {
					net += tx.Quantity
				} else {
					net -= tx.Quantity
				}
			}
			return net == p.Holdings["NABIL"].Shares
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
		gen.SliceOf(gen.Float64Range(1, 2_000)),
	))

	properties.TestingRun(t)
}

// Property: with no fee, buying then selling the same quantity at the same
// price restores cash exactly.
func TestProperty_RoundTripExact(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("round trip returns cash", prop.ForAll(
		func(price float64, qty int64, cash float64) bool {
			ctx := context.Background()
			src := newFakePrices()
			src.set("NABIL", price)
			l := newLedger(t, src, Options{})
			start := dec(cash)
			l.Create(ctx, "p", start)

			if _, err := l.Buy(ctx, "p", "NABIL", qty); err != nil {
				return apperrors.Is(err, apperrors.ErrInsufficientFunds)
			}
			if _, err := l.Sell(ctx, "p", "NABIL", qty); err != nil {
				return false
			}
			p, _ := l.Get("p")
			return p.Cash.Equal(start) && len(p.Holdings) == 0
		},
		gen.Float64Range(0.1, 5_000),
		gen.Int64Range(1, 1_000),
		gen.Float64Range(0, 2_000_000),
	))

	properties.TestingRun(t)
}
