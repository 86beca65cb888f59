package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/generator"
	"nepse-simulator/internal/models"
)

func fiveAt100() []models.Instrument {
	return []models.Instrument{
		{Symbol: "NABIL", Sector: "Commercial Bank", InitialPrice: 100, BaseVolume: 10_000},
		{Symbol: "NLIC", Sector: "Life Insurance", InitialPrice: 100, BaseVolume: 10_000},
		{Symbol: "NRIC", Sector: "Non-Life Insurance", InitialPrice: 100, BaseVolume: 10_000},
		{Symbol: "EBL", Sector: "Commercial Bank", InitialPrice: 100, BaseVolume: 10_000},
		{Symbol: "ADBL", Sector: "Commercial Bank", InitialPrice: 100, BaseVolume: 10_000},
	}
}

func flatOptions() Options {
	opts := DefaultOptions()
	p := opts.Params
	p.Drift = 0
	p.Volatility = 0
	p.SentimentVolatility = 0
	p.SectorVolatility = 0
	p.MarketEventProb = 0
	p.SectorEventProb = 0
	p.CompanyEventProb = 0
	opts.Params = p
	return opts
}

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e := New(zerolog.Nop())
	if err := e.Initialize(fiveAt100(), opts); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return e
}

func TestZeroVarianceMarketStaysUnchanged(t *testing.T) {
	e := newEngine(t, flatOptions())

	n, err := e.Run(context.Background(), 30)
	if err != nil || n != 30 {
		t.Fatalf("Run = %d, %v; want 30, nil", n, err)
	}

	for _, inst := range e.Instruments() {
		series := e.History().Series(inst.Symbol)
		if len(series) != 30 {
			t.Fatalf("%s has %d bars, want 30", inst.Symbol, len(series))
		}
		for _, b := range series {
			if b.Close != 100 {
				t.Fatalf("%s closed at %v on %s", inst.Symbol, b.Close, b.DateKey())
			}
		}
	}

	adv, dec, unch := e.Snapshot().Breadth()
	if adv != 0 || dec != 0 || unch != 5 {
		t.Errorf("breadth = %d/%d/%d, want 0/0/5", adv, dec, unch)
	}
	if e.State() != models.StateRunning {
		t.Errorf("state = %s, want RUNNING", e.State())
	}
}

func TestAdvanceAfterCompletedFails(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxDays = 3
	e := newEngine(t, opts)

	n, err := e.Run(context.Background(), 5)
	if n != 3 {
		t.Errorf("completed %d days, want 3", n)
	}
	if !apperrors.Is(err, apperrors.ErrSimulation) {
		t.Fatalf("expected SimulationError, got %v", err)
	}
	if e.State() != models.StateCompleted {
		t.Fatalf("state = %s, want COMPLETED", e.State())
	}

	before := len(e.History().All())
	if _, err := e.AdvanceOneDay(context.Background()); !apperrors.Is(err, apperrors.ErrSimulation) {
		t.Fatalf("expected SimulationError, got %v", err)
	}
	if after := len(e.History().All()); after != before {
		t.Errorf("bars appended after completion: %d -> %d", before, after)
	}
}

func TestAdvanceBeforeInitializeFails(t *testing.T) {
	e := New(zerolog.Nop())
	if _, err := e.AdvanceOneDay(context.Background()); !apperrors.Is(err, apperrors.ErrSimulation) {
		t.Fatalf("expected SimulationError, got %v", err)
	}
}

func TestConcurrentAdvanceRejected(t *testing.T) {
	e := newEngine(t, DefaultOptions())

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	e.Observe(ObserverFuncs{PriceUpdate: func(models.MarketState) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}})

	errCh := make(chan error, 1)
	go func() {
		_, err := e.AdvanceOneDay(context.Background())
		errCh <- err
	}()

	<-entered
	_, err := e.AdvanceOneDay(context.Background())
	var cerr *apperrors.ConcurrentAdvanceError
	if !apperrors.As(err, &cerr) {
		t.Errorf("expected ConcurrentAdvanceError, got %v", err)
	}
	close(release)

	if err := <-errCh; err != nil {
		t.Fatalf("first advance failed: %v", err)
	}
	if got := e.History().Len(); got != 1 {
		t.Errorf("history has %d days, want 1", got)
	}
}

func TestObserverPanicDoesNotAbort(t *testing.T) {
	e := newEngine(t, DefaultOptions())

	var closes int
	e.Observe(ObserverFuncs{PriceUpdate: func(models.MarketState) { panic("boom") }})
	e.Observe(ObserverFuncs{SessionClose: func(models.MarketState) { closes++ }})

	if n, err := e.Run(context.Background(), 3); err != nil || n != 3 {
		t.Fatalf("Run = %d, %v", n, err)
	}
	if closes != 3 {
		t.Errorf("session closes observed = %d, want 3", closes)
	}
}

func TestObserverReceivesCopy(t *testing.T) {
	e := newEngine(t, DefaultOptions())
	e.Observe(ObserverFuncs{PriceUpdate: func(s models.MarketState) {
		s.Instruments["NABIL"] = models.InstrumentState{Price: -1}
	}})
	if _, err := e.AdvanceOneDay(context.Background()); err != nil {
		t.Fatal(err)
	}
	if q, _ := e.Quote("NABIL"); q.Price <= 0 {
		t.Error("observer mutation leaked into market state")
	}
}

func TestInitializeValidation(t *testing.T) {
	e := New(zerolog.Nop())

	if err := e.Initialize(nil, DefaultOptions()); !apperrors.Is(err, apperrors.ErrConfig) {
		t.Errorf("empty universe: expected ConfigError, got %v", err)
	}

	opts := DefaultOptions()
	opts.Params.Volatility = -0.01
	if err := e.Initialize(fiveAt100(), opts); !apperrors.Is(err, apperrors.ErrConfig) {
		t.Errorf("negative volatility: expected ConfigError, got %v", err)
	}

	opts = DefaultOptions()
	opts.Params.CircuitBand = 1.5
	if err := e.Initialize(fiveAt100(), opts); !apperrors.Is(err, apperrors.ErrConfig) {
		t.Errorf("band: expected ConfigError, got %v", err)
	}

	dup := append(fiveAt100(), fiveAt100()[0])
	if err := e.Initialize(dup, DefaultOptions()); !apperrors.Is(err, apperrors.ErrConfig) {
		t.Errorf("duplicate symbol: expected ConfigError, got %v", err)
	}

	if e.State() != models.StateUninitialized {
		t.Errorf("failed initialization changed state to %s", e.State())
	}
}

func TestReinitializeResetsHistory(t *testing.T) {
	e := newEngine(t, DefaultOptions())
	if _, err := e.Run(context.Background(), 4); err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(fiveAt100(), DefaultOptions()); err != nil {
		t.Fatal(err)
	}
	if e.History().Len() != 0 || e.State() != models.StateReady || e.Snapshot().Day != 0 {
		t.Error("re-initialization did not reset the simulation")
	}
}

func TestHaltRecordsFlatBar(t *testing.T) {
	e := newEngine(t, DefaultOptions())
	if _, err := e.AdvanceOneDay(context.Background()); err != nil {
		t.Fatal(err)
	}
	before, _ := e.Quote("NABIL")

	if err := e.Halt("nabil"); err != nil {
		t.Fatal(err)
	}
	bars, err := e.AdvanceOneDay(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var halted models.Bar
	for _, b := range bars {
		if b.Symbol == "NABIL" {
			halted = b
		}
	}
	if halted.Circuit != models.CircuitHalted || halted.Volume != 0 || halted.Close != before.Price {
		t.Errorf("unexpected halted bar: %+v", halted)
	}
	if q, _ := e.Quote("NABIL"); q.Status != models.CircuitHalted {
		t.Errorf("status = %s, want HALTED", q.Status)
	}

	if err := e.ResumeTrading("NABIL"); err != nil {
		t.Fatal(err)
	}
	bars, _ = e.AdvanceOneDay(context.Background())
	for _, b := range bars {
		if b.Symbol == "NABIL" && b.Circuit == models.CircuitHalted {
			t.Error("instrument still halted after resume")
		}
	}

	if err := e.Halt("XXXX"); !apperrors.Is(err, apperrors.ErrUnknownSymbol) {
		t.Errorf("expected UnknownSymbolError, got %v", err)
	}
}

func TestAutoHaltAfterConsecutiveLimits(t *testing.T) {
	opts := flatOptions()
	opts.Params.Drift = 0.5 // every day closes at the upper limit
	opts.HaltAfterLimitDays = 2
	e := newEngine(t, opts)

	if _, err := e.Run(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	if got := e.Halted(); len(got) != 5 {
		t.Fatalf("halted = %v, want all five", got)
	}
	bars, err := e.AdvanceOneDay(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range bars {
		if b.Circuit != models.CircuitHalted {
			t.Errorf("%s status %s, want HALTED", b.Symbol, b.Circuit)
		}
	}
}

func TestRestoreKeepsAutomaticHalts(t *testing.T) {
	opts := flatOptions()
	opts.Params.Drift = 0.5
	opts.HaltAfterLimitDays = 2
	e := newEngine(t, opts)

	if _, err := e.Run(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	store := &memoryBars{}
	if err := e.Save(context.Background(), store); err != nil {
		t.Fatal(err)
	}
	for _, b := range store.bars {
		if b.Circuit != models.CircuitUpper {
			t.Fatalf("stored bar %s %s, want UPPER_LIMIT", b.Symbol, b.Circuit)
		}
	}

	restored := newEngine(t, opts)
	if err := restored.Restore(context.Background(), store); err != nil {
		t.Fatal(err)
	}
	if got := restored.Halted(); len(got) != 5 {
		t.Fatalf("halted after restore = %v, want all five", got)
	}
	q, err := restored.Quote("NABIL")
	if err != nil {
		t.Fatal(err)
	}
	if q.Status.Tradable() {
		t.Fatalf("NABIL restored as %s, want halted", q.Status)
	}

	bars, err := restored.AdvanceOneDay(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range bars {
		if b.Circuit != models.CircuitHalted || b.Volume != 0 {
			t.Errorf("%s resumed as %s volume %d, want flat HALTED bar", b.Symbol, b.Circuit, b.Volume)
		}
	}
}

func TestPauseResume(t *testing.T) {
	e := newEngine(t, DefaultOptions())
	if err := e.Pause(); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AdvanceOneDay(context.Background()); !apperrors.Is(err, apperrors.ErrSimulation) {
		t.Errorf("expected SimulationError while paused, got %v", err)
	}
	if err := e.Resume(); err != nil {
		t.Fatal(err)
	}
	if e.State() != models.StateReady {
		t.Errorf("state = %s, want READY", e.State())
	}
	if err := e.Resume(); !apperrors.Is(err, apperrors.ErrSimulation) {
		t.Errorf("expected SimulationError resuming a running engine, got %v", err)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	e := newEngine(t, DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	e.Observe(ObserverFuncs{SessionClose: func(s models.MarketState) {
		if s.Day == 2 {
			cancel()
		}
	}})
	n, err := e.Run(ctx, 10)
	if n != 2 || err == nil {
		t.Errorf("Run = %d, %v; want 2 and a context error", n, err)
	}
	if e.History().Len() != 2 {
		t.Errorf("history has %d days, want 2", e.History().Len())
	}
}

type memoryBars struct {
	bars []models.Bar
}

func (m *memoryBars) SaveBars(_ context.Context, bars []models.Bar) error {
	m.bars = append([]models.Bar(nil), bars...)
	return nil
}

func (m *memoryBars) LoadBars(context.Context) ([]models.Bar, error) {
	return m.bars, nil
}

func TestSaveRestoreContinuesPath(t *testing.T) {
	e := newEngine(t, DefaultOptions())
	if _, err := e.Run(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	store := &memoryBars{}
	if err := e.Save(context.Background(), store); err != nil {
		t.Fatal(err)
	}

	restored := newEngine(t, DefaultOptions())
	if err := restored.Restore(context.Background(), store); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	want, got := e.Snapshot(), restored.Snapshot()
	if got.Day != 5 || !got.Date.Equal(want.Date) {
		t.Fatalf("restored day/date = %d/%s, want 5/%s", got.Day, got.Date, want.Date)
	}
	for sym, st := range want.Instruments {
		if got.Instruments[sym].Price != st.Price || got.Instruments[sym].PrevClose != st.PrevClose {
			t.Errorf("%s restored %+v, want %+v", sym, got.Instruments[sym], st)
		}
	}

	bars, err := restored.AdvanceOneDay(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range bars {
		prev := want.Instruments[b.Symbol].Price
		lower, upper := generator.Limits(prev, restored.Options().Params.CircuitBand)
		if !b.Date.After(want.Date) || b.Close < lower || b.Close > upper {
			t.Errorf("resumed bar %+v discontinuous with close %v", b, prev)
		}
	}
}

func TestRestoreRejectsUnknownSymbol(t *testing.T) {
	e := newEngine(t, DefaultOptions())
	store := &memoryBars{bars: []models.Bar{{
		Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Symbol: "ZZZ",
		Open: 1, High: 1, Low: 1, Close: 1,
	}}}
	if err := e.Restore(context.Background(), store); !apperrors.Is(err, apperrors.ErrUnknownSymbol) {
		t.Errorf("expected UnknownSymbolError, got %v", err)
	}
}

// Property: every committed day has one valid bar per instrument, dates strictly
// increase, and identical seeds yield identical histories.
func TestProperty_HistoryIsCompleteAndDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25

	properties := gopter.NewProperties(parameters)

	properties.Property("complete, ordered, deterministic history", prop.ForAll(
		func(seed int64, days int) bool {
			opts := DefaultOptions()
			opts.Seed = seed
			a := newEngine(t, opts)
			b := newEngine(t, opts)
			if _, err := a.Run(context.Background(), days); err != nil {
				return false
			}
			if _, err := b.Run(context.Background(), days); err != nil {
				return false
			}

			dates := a.History().Dates()
			if len(dates) != days {
				return false
			}
			for i, d := range dates {
				if i > 0 && !d.After(dates[i-1]) {
					return false
				}
				day := a.History().OnDate(d)
				if len(day) != 5 {
					return false
				}
				for _, bar := range day {
					if !bar.Valid() {
						return false
					}
				}
			}

			ba, bb := a.History().All(), b.History().All()
			if len(ba) != len(bb) {
				return false
			}
			for i := range ba {
				if ba[i] != bb[i] {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(1, 25),
	))

	properties.TestingRun(t)
}
