package analyzer

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"nepse-simulator/internal/engine"
	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/models"
	"nepse-simulator/internal/universe"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var testInstruments = []models.Instrument{
	{Symbol: "AAA", Sector: "Banking", InitialPrice: 100},
	{Symbol: "BBB", Sector: "Banking", InitialPrice: 100},
	{Symbol: "CCC", Sector: "Hydro", InitialPrice: 100},
	{Symbol: "DDD", Sector: "Hydro", InitialPrice: 100},
}

func bar(date time.Time, symbol string, close float64, volume int64) models.Bar {
	return models.Bar{
		Date: date, Symbol: symbol,
		Open: close, High: close, Low: close, Close: close,
		Volume: volume, Circuit: models.CircuitNormal,
	}
}

// buildHistory appends one day per row; each row maps symbol to close.
func buildHistory(t *testing.T, rows ...map[string]float64) *engine.History {
	t.Helper()
	h := engine.NewHistory()
	for i, row := range rows {
		date := day0.AddDate(0, 0, i)
		var bars []models.Bar
		for sym, c := range row {
			bars = append(bars, bar(date, sym, c, 1000))
		}
		if err := h.AppendDay(date, bars); err != nil {
			t.Fatalf("AppendDay: %v", err)
		}
	}
	return h
}

func newAnalyzer(h HistorySource) *Analyzer {
	return New(h, testInstruments, DefaultOptions(), zerolog.Nop())
}

func TestNoDataWithFewerThanTwoDays(t *testing.T) {
	empty := newAnalyzer(engine.NewHistory())
	if _, err := empty.TopGainers(5); !apperrors.Is(err, apperrors.ErrNoData) {
		t.Errorf("empty history: expected ErrNoData, got %v", err)
	}

	a := newAnalyzer(buildHistory(t, map[string]float64{"AAA": 100, "BBB": 100}))
	checks := map[string]func() error{
		"gainers": func() error { _, err := a.TopGainers(5); return err },
		"losers":  func() error { _, err := a.TopLosers(5); return err },
		"volume":  func() error { _, err := a.VolumeLeaders(5); return err },
		"sectors": func() error { _, err := a.SectorPerformance(); return err },
		"breadth": func() error { _, err := a.MarketBreadth(); return err },
		"corr":    func() error { _, err := a.CorrelationMatrix(nil); return err },
		"summary": func() error { _, err := a.Summary(); return err },
	}
	for name, fn := range checks {
		err := fn()
		var nerr *apperrors.NoDataError
		if !apperrors.As(err, &nerr) {
			t.Errorf("%s: expected NoDataError, got %v", name, err)
			continue
		}
		if nerr.Have != 1 || nerr.Need != 2 {
			t.Errorf("%s: have/need = %d/%d", name, nerr.Have, nerr.Need)
		}
	}
}

func TestGainersAndLosersExcludeUnchanged(t *testing.T) {
	h := buildHistory(t,
		map[string]float64{"AAA": 100, "BBB": 100, "CCC": 100, "DDD": 100},
		map[string]float64{"AAA": 105, "BBB": 100, "CCC": 95, "DDD": 102},
	)
	a := newAnalyzer(h)

	gainers, err := a.TopGainers(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(gainers) != 2 || gainers[0].Symbol != "AAA" || gainers[1].Symbol != "DDD" {
		t.Errorf("gainers = %+v", gainers)
	}

	losers, err := a.TopLosers(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(losers) != 1 || losers[0].Symbol != "CCC" {
		t.Errorf("losers = %+v", losers)
	}
	if math.Abs(losers[0].ChangePct+5) > 1e-9 {
		t.Errorf("CCC change = %v, want -5", losers[0].ChangePct)
	}

	for _, m := range append(gainers, losers...) {
		if m.Symbol == "BBB" {
			t.Error("unchanged BBB listed as mover")
		}
	}

	breadth, err := a.MarketBreadth()
	if err != nil {
		t.Fatal(err)
	}
	if breadth.Advancing != 2 || breadth.Declining != 1 || breadth.Unchanged != 1 {
		t.Errorf("breadth = %+v", breadth)
	}
}

func TestRankingTieBreakBySymbol(t *testing.T) {
	h := buildHistory(t,
		map[string]float64{"DDD": 100, "BBB": 100, "AAA": 100},
		map[string]float64{"DDD": 103, "BBB": 103, "AAA": 101},
	)
	a := newAnalyzer(h)

	gainers, err := a.TopGainers(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(gainers) != 2 || gainers[0].Symbol != "BBB" || gainers[1].Symbol != "DDD" {
		t.Errorf("gainers = %+v, want BBB then DDD", gainers)
	}

	if _, err := a.TopGainers(-1); !apperrors.Is(err, apperrors.ErrConfig) {
		t.Errorf("negative n: expected ErrConfig, got %v", err)
	}
	none, err := a.TopGainers(0)
	if err != nil || len(none) != 0 {
		t.Errorf("n=0: %v, %v", none, err)
	}
}

func TestSectorPerformance(t *testing.T) {
	h := buildHistory(t,
		map[string]float64{"AAA": 100, "BBB": 100, "CCC": 100, "DDD": 100},
		map[string]float64{"AAA": 110, "BBB": 104, "CCC": 98, "DDD": 96},
	)
	a := newAnalyzer(h)

	sectors, err := a.SectorPerformance()
	if err != nil {
		t.Fatal(err)
	}
	if len(sectors) != 2 {
		t.Fatalf("sectors = %+v", sectors)
	}
	if sectors[0].Sector != "Banking" || math.Abs(sectors[0].AvgChangePct-7) > 1e-9 {
		t.Errorf("best sector = %+v", sectors[0])
	}
	if sectors[1].Sector != "Hydro" || math.Abs(sectors[1].AvgChangePct+3) > 1e-9 {
		t.Errorf("worst sector = %+v", sectors[1])
	}
	if sectors[1].Declining != 2 || sectors[1].Instruments != 2 {
		t.Errorf("hydro counts = %+v", sectors[1])
	}
}

func TestCorrelationMatrix(t *testing.T) {
	h := buildHistory(t,
		map[string]float64{"AAA": 100, "BBB": 50, "CCC": 100, "DDD": 100},
		map[string]float64{"AAA": 110, "BBB": 55, "CCC": 90, "DDD": 100},
		map[string]float64{"AAA": 99, "BBB": 49.5, "CCC": 99, "DDD": 100},
		map[string]float64{"AAA": 108.9, "BBB": 54.45, "CCC": 89.1, "DDD": 100},
	)
	a := newAnalyzer(h)

	corr, err := a.CorrelationMatrix([]string{"aaa", "BBB", "CCC", "DDD"})
	if err != nil {
		t.Fatal(err)
	}
	if corr.Observations != 3 {
		t.Errorf("observations = %d, want 3", corr.Observations)
	}
	if v, _ := corr.Get("AAA", "BBB"); math.Abs(v-1) > 1e-9 {
		t.Errorf("corr(AAA,BBB) = %v, want 1", v)
	}
	if v, _ := corr.Get("AAA", "CCC"); math.Abs(v+1) > 1e-9 {
		t.Errorf("corr(AAA,CCC) = %v, want -1", v)
	}
	// DDD never moves.
	if v, _ := corr.Get("AAA", "DDD"); v != 0 {
		t.Errorf("corr(AAA,DDD) = %v, want 0", v)
	}
	for i := range corr.Symbols {
		if corr.Values[i][i] != 1 {
			t.Errorf("diagonal %s = %v", corr.Symbols[i], corr.Values[i][i])
		}
	}

	if _, err := a.CorrelationMatrix([]string{"AAA", "ZZZ"}); !apperrors.Is(err, apperrors.ErrUnknownSymbol) {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
}

func TestPriceRange(t *testing.T) {
	h := buildHistory(t,
		map[string]float64{"AAA": 100},
		map[string]float64{"AAA": 120},
		map[string]float64{"AAA": 90},
		map[string]float64{"AAA": 110},
	)
	a := newAnalyzer(h)

	r, err := a.PriceRange("aaa", 3)
	if err != nil {
		t.Fatal(err)
	}
	if r.Days != 3 || r.High != 120 || r.Low != 90 || r.Close != 110 {
		t.Errorf("range = %+v", r)
	}
	if math.Abs(r.ChangePct-(110-120)/120.0*100) > 1e-9 {
		t.Errorf("change = %v", r.ChangePct)
	}
	if _, err := a.PriceRange("ZZZ", 0); !apperrors.Is(err, apperrors.ErrUnknownSymbol) {
		t.Errorf("unknown symbol range: expected ErrUnknownSymbol, got %v", err)
	}
	if _, err := a.PriceRange("AAA", 1); !apperrors.Is(err, apperrors.ErrNoData) {
		t.Errorf("single-day range: expected ErrNoData, got %v", err)
	}
}

func TestCacheInvalidatedOnAppend(t *testing.T) {
	h := buildHistory(t,
		map[string]float64{"AAA": 100, "BBB": 100},
		map[string]float64{"AAA": 101, "BBB": 99},
	)
	a := newAnalyzer(h)

	first, err := a.TopGainers(5)
	if err != nil || len(first) != 1 || first[0].Symbol != "AAA" {
		t.Fatalf("first = %+v, %v", first, err)
	}

	date := day0.AddDate(0, 0, 2)
	if err := h.AppendDay(date, []models.Bar{bar(date, "AAA", 100, 1), bar(date, "BBB", 102, 1)}); err != nil {
		t.Fatal(err)
	}

	second, err := a.TopGainers(5)
	if err != nil || len(second) != 1 || second[0].Symbol != "BBB" {
		t.Errorf("after append = %+v, %v", second, err)
	}

	// The earlier date is still addressable.
	past, err := a.TopGainersAt(day0.AddDate(0, 0, 1), 5)
	if err != nil || len(past) != 1 || past[0].Symbol != "AAA" {
		t.Errorf("as-of past = %+v, %v", past, err)
	}
}

func TestCachedResultsAreCopies(t *testing.T) {
	h := buildHistory(t,
		map[string]float64{"AAA": 100, "BBB": 100, "CCC": 100},
		map[string]float64{"AAA": 110, "BBB": 95, "CCC": 101},
		map[string]float64{"AAA": 115, "BBB": 90, "CCC": 99},
	)
	a := newAnalyzer(h)

	corr, err := a.CorrelationMatrix(nil)
	if err != nil {
		t.Fatal(err)
	}
	want := corr.Values[0][1]
	corr.Values[0][1] = 42
	corr.Symbols[0] = "ZZZ"
	again, err := a.CorrelationMatrix(nil)
	if err != nil {
		t.Fatal(err)
	}
	if again.Values[0][1] != want || again.Symbols[0] != "AAA" {
		t.Errorf("caller mutation leaked into cached correlation: %+v", again)
	}
	again.Values[0][1] = 7
	if third, _ := a.CorrelationMatrix(nil); third.Values[0][1] != want {
		t.Error("mutating a cache hit leaked into the next read")
	}

	sum, err := a.Summary()
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.TopGainers) == 0 || len(sum.TopLosers) == 0 {
		t.Fatalf("summary has no movers: %+v", sum)
	}
	gainer, loser := sum.TopGainers[0].Symbol, sum.TopLosers[0].Symbol
	sum.TopGainers[0].Symbol = "ZZZ"
	sum.TopLosers[0].ChangePct = 999
	sum2, err := a.Summary()
	if err != nil {
		t.Fatal(err)
	}
	if sum2.TopGainers[0].Symbol != gainer || sum2.TopLosers[0].Symbol != loser || sum2.TopLosers[0].ChangePct == 999 {
		t.Errorf("caller mutation leaked into cached summary: %+v", sum2)
	}
}

func TestSummaryOnSimulatedMarket(t *testing.T) {
	e := engine.New(zerolog.Nop())
	if err := e.Initialize(universe.Default().Instruments(), engine.DefaultOptions()); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(context.Background(), 40); err != nil {
		t.Fatal(err)
	}
	a := New(e.History(), e.Instruments(), DefaultOptions(), zerolog.Nop())

	s, err := a.Summary()
	if err != nil {
		t.Fatal(err)
	}
	b := s.Breadth
	if b.Advancing+b.Declining+b.Unchanged != len(e.Instruments()) {
		t.Errorf("breadth %+v does not cover %d instruments", b, len(e.Instruments()))
	}
	if s.Overbought+s.Oversold > len(e.Instruments()) {
		t.Errorf("rsi counts out of range: %+v", s)
	}
	if len(s.TopGainers) > 5 || len(s.TopLosers) > 5 {
		t.Errorf("top lists too long: %d/%d", len(s.TopGainers), len(s.TopLosers))
	}
	if s.BestSector == "" || s.WorstSector == "" {
		t.Errorf("missing sectors: %+v", s)
	}
}

// Property: the correlation matrix is symmetric with a unit diagonal and
// entries in [-1, 1].
func TestProperty_CorrelationSymmetric(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("symmetric unit-diagonal matrix", prop.ForAll(
		func(seed int64, days int) bool {
			e := engine.New(zerolog.Nop())
			opts := engine.DefaultOptions()
			opts.Seed = seed
			if err := e.Initialize(testInstruments, opts); err != nil {
				return false
			}
			if _, err := e.Run(context.Background(), days); err != nil {
				return false
			}
			corr, err := newAnalyzer(e.History()).CorrelationMatrix(nil)
			if err != nil {
				return false
			}
			n := len(corr.Symbols)
			if n != len(testInstruments) {
				return false
			}
			for i := 0; i < n; i++ {
				if corr.Values[i][i] != 1 {
					return false
				}
				for j := 0; j < n; j++ {
					v := corr.Values[i][j]
					if v != corr.Values[j][i] || v < -1 || v > 1 {
						return false
					}
				}
			}
			return true
		},
		gen.Int64Range(1, 1_000_000),
		gen.IntRange(2, 30),
	))

	properties.TestingRun(t)
}

// Property: gainers are strictly positive and ordered by change then symbol.
func TestProperty_GainersOrdered(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("gainers ordered", prop.ForAll(
		func(seed int64) bool {
			e := engine.New(zerolog.Nop())
			opts := engine.DefaultOptions()
			opts.Seed = seed
			if err := e.Initialize(universe.Default().Instruments(), opts); err != nil {
				return false
			}
			if _, err := e.Run(context.Background(), 3); err != nil {
				return false
			}
			gainers, err := newAnalyzer(e.History()).TopGainers(100)
			if err != nil {
				return false
			}
			for i, g := range gainers {
				if g.Close <= g.PrevClose {
					return false
				}
				if i > 0 {
					p := gainers[i-1]
					if p.ChangePct < g.ChangePct || (p.ChangePct == g.ChangePct && p.Symbol > g.Symbol) {
						return false
					}
				}
			}
			return true
		},
		gen.Int64Range(1, 1_000_000),
	))

	properties.TestingRun(t)
}

func TestTechnicalsRunsIndicatorEngine(t *testing.T) {
	rows := make([]map[string]float64, 40)
	for i := range rows {
		rows[i] = map[string]float64{"AAA": 100 + float64(i)}
	}
	a := newAnalyzer(buildHistory(t, rows...))

	tech, err := a.Technicals(context.Background(), " aaa")
	if err != nil {
		t.Fatal(err)
	}
	if tech.Symbol != "AAA" || tech.Bars != 40 || tech.Close != 139 {
		t.Errorf("unexpected header %+v", tech)
	}
	if len(tech.Skipped) != 0 {
		t.Errorf("skipped %v with 40 bars", tech.Skipped)
	}

	want := map[string]float64{
		"RSI_14":           100,
		"SMA_20":           129.5,
		"BB_20_2.0.middle": 129.5,
	}
	for name, v := range want {
		got, ok := tech.Values[name]
		if !ok || math.Abs(got-v) > 1e-9 {
			t.Errorf("%s = %v (present %v), want %v", name, got, ok, v)
		}
	}
	if macd := tech.Values["MACD_12_26_9.macd"]; macd <= 0 {
		t.Errorf("MACD on a rising series = %v, want positive", macd)
	}
	if _, ok := tech.Values["EMA_20"]; !ok {
		t.Error("EMA_20 missing")
	}
}

func TestTechnicalsShortHistory(t *testing.T) {
	rows := make([]map[string]float64, 5)
	for i := range rows {
		rows[i] = map[string]float64{"AAA": 100, "BBB": 50}
	}
	a := newAnalyzer(buildHistory(t, rows...))

	tech, err := a.Technicals(context.Background(), "BBB")
	if err != nil {
		t.Fatal(err)
	}
	if len(tech.Values) != 0 {
		t.Errorf("values = %v with 5 bars, want none", tech.Values)
	}
	if len(tech.Skipped) != 5 {
		t.Errorf("skipped = %v, want every registered indicator", tech.Skipped)
	}

	if _, err := a.Technicals(context.Background(), "ZZZ"); !apperrors.Is(err, apperrors.ErrUnknownSymbol) {
		t.Errorf("expected UnknownSymbolError, got %v", err)
	}
	if _, err := newAnalyzer(engine.NewHistory()).Technicals(context.Background(), "AAA"); !apperrors.Is(err, apperrors.ErrNoData) {
		t.Errorf("expected NoDataError, got %v", err)
	}
}
