package cli

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"nepse-simulator/internal/analyzer"
	"nepse-simulator/internal/engine"
	"nepse-simulator/internal/ledger"
	"nepse-simulator/internal/models"
	"nepse-simulator/internal/screener"
	"nepse-simulator/internal/store"
	"nepse-simulator/internal/universe"
)

// market bundles an engine with the stores it was restored from.
type market struct {
	engine *engine.Engine
	db     *store.SQLiteStore
	redis  *redis.Client
}

func (m *market) Close() {
	if m.redis != nil {
		m.redis.Close()
	}
	if m.db != nil {
		m.db.Close()
	}
}

func (a *App) universe() (*universe.Universe, error) {
	if a.Config.Storage.Universe != "" {
		return universe.Load(a.Config.Storage.Universe)
	}
	return universe.Default(), nil
}

// openMarket initializes an engine from configuration and, unless fresh is
// set, restores the history saved in the SQLite store.
func (a *App) openMarket(ctx context.Context, fresh bool) (*market, error) {
	u, err := a.universe()
	if err != nil {
		return nil, err
	}
	opts, err := engine.OptionsFromConfig(a.Config)
	if err != nil {
		return nil, err
	}

	db, err := store.NewSQLiteStore(a.Config.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	m := &market{engine: engine.New(a.Logger), db: db}

	if err := m.engine.Initialize(u.Instruments(), opts); err != nil {
		m.Close()
		return nil, err
	}

	if fresh {
		if err := db.ClearBars(ctx); err != nil {
			m.Close()
			return nil, err
		}
	} else if n, err := db.BarCount(ctx); err != nil {
		m.Close()
		return nil, err
	} else if n > 0 {
		a.checkSeed(ctx, db)
		if err := m.engine.Restore(ctx, db); err != nil {
			m.Close()
			return nil, err
		}
	}

	if addr := a.Config.Storage.RedisAddr; addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := store.Ping(ctx, rdb, store.DefaultRetryConfig()); err != nil {
			a.Logger.Warn().Err(err).Str("addr", addr).Msg("Redis unreachable, publishing disabled")
			rdb.Close()
		} else {
			m.redis = rdb
		}
	}
	return m, nil
}

// checkSeed warns when the stored history was generated with another seed.
func (a *App) checkSeed(ctx context.Context, db *store.SQLiteStore) {
	stored, err := db.Meta(ctx, store.MetaSeed)
	if err != nil || stored == "" {
		return
	}
	if seed, err := strconv.ParseInt(stored, 10, 64); err == nil && seed != a.Config.Simulation.Seed {
		a.Logger.Warn().
			Int64("stored_seed", seed).
			Int64("config_seed", a.Config.Simulation.Seed).
			Msg("Stored history used a different seed; continuing with the configured one")
	}
}

// publisher returns the Redis publisher for m, or nil when Redis is not configured.
func (a *App) publisher(m *market) *store.RedisPublisher {
	if m.redis == nil {
		return nil
	}
	return store.NewRedisPublisher(m.redis, a.Config.Storage.RedisTTL, a.Logger)
}

func (a *App) analyzer(e *engine.Engine) *analyzer.Analyzer {
	return analyzer.New(e.History(), e.Instruments(), analyzer.OptionsFromConfig(a.Config.Analysis), a.Logger)
}

func (a *App) screener(e *engine.Engine) *screener.Screener {
	return screener.New(e.History(), e.Instruments(), a.Config.Analysis.Workers, a.Logger)
}

// ledger opens the portfolio ledger backed by the market's SQLite store.
func (a *App) ledger(ctx context.Context, m *market) (*ledger.Ledger, error) {
	l, err := ledger.New(m.engine, ledger.Options{
		FeeRate: decimal.NewFromFloat(a.Config.Portfolio.FeeRate),
		Store:   m.db,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	if err := l.Restore(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// saveHistory persists the engine history to SQLite, plus CSV when asked.
func (a *App) saveHistory(ctx context.Context, m *market, csv bool) error {
	if err := m.engine.Save(ctx, m.db); err != nil {
		return err
	}
	if err := m.db.SetMeta(ctx, store.MetaSeed, strconv.FormatInt(a.Config.Simulation.Seed, 10)); err != nil {
		return err
	}
	if err := m.db.SetMeta(ctx, store.MetaStartDate, a.Config.Simulation.StartDate); err != nil {
		return err
	}
	if last, ok := m.engine.History().Latest(); ok {
		if err := m.db.SetMeta(ctx, store.MetaLastSaved, last.Format(models.DateLayout)); err != nil {
			return err
		}
	}

	if !csv {
		return nil
	}
	cs, err := store.NewCSVStore(a.Config.Storage.CSVDir)
	if err != nil {
		return err
	}
	if err := m.engine.Save(ctx, cs); err != nil {
		return err
	}
	a.Logger.Info().Str("path", cs.Path()).Msg("History exported")
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
