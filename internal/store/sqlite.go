package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/models"
)

// SQLiteStore implements BarStore and LedgerStore using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	meta map[string]string
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, dbErr("open database", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:   db,
		meta: make(map[string]string),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, dbErr("initialize schema", err)
	}

	return store, nil
}

func dbErr(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, apperrors.ErrDatabaseError, err)
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Daily bars, one row per instrument per trading date
	CREATE TABLE IF NOT EXISTS bars (
		date TEXT NOT NULL,
		symbol TEXT NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		circuit TEXT NOT NULL DEFAULT 'NORMAL',
		PRIMARY KEY (date, symbol)
	);
	CREATE INDEX IF NOT EXISTS idx_bars_symbol ON bars(symbol, date);

	-- Portfolios; money columns hold decimal strings
	CREATE TABLE IF NOT EXISTS portfolios (
		name TEXT PRIMARY KEY,
		cash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS holdings (
		portfolio TEXT NOT NULL,
		symbol TEXT NOT NULL,
		shares INTEGER NOT NULL,
		avg_cost TEXT NOT NULL,
		PRIMARY KEY (portfolio, symbol)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		portfolio TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price TEXT NOT NULL,
		fee TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_portfolio ON transactions(portfolio, timestamp);

	-- Simulation metadata (seed, start date, last save)
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Bar Methods
// ============================================================================

// SaveBars upserts bars keyed by (date, symbol) in one transaction.
func (s *SQLiteStore) SaveBars(ctx context.Context, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (date, symbol, open, high, low, close, volume, circuit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return dbErr("prepare statement", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx, b.DateKey(), b.Symbol, b.Open, b.High, b.Low, b.Close, b.Volume, string(b.Circuit))
		if err != nil {
			return dbErr("insert bar", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return dbErr("commit transaction", err)
	}

	return nil
}

// LoadBars returns every stored bar ordered by date then symbol.
func (s *SQLiteStore) LoadBars(ctx context.Context) ([]models.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, symbol, open, high, low, close, volume, circuit
		FROM bars
		ORDER BY date ASC, symbol ASC
	`)
	if err != nil {
		return nil, dbErr("query bars", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var (
			b       models.Bar
			date    string
			circuit string
		)
		if err := rows.Scan(&date, &b.Symbol, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &circuit); err != nil {
			return nil, dbErr("scan bar", err)
		}
		if b.Date, err = time.Parse(models.DateLayout, date); err != nil {
			return nil, dbErr("parse bar date", err)
		}
		b.Circuit = models.CircuitStatus(circuit)
		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate bars", err)
	}

	return bars, nil
}

// BarCount returns the number of stored bars.
func (s *SQLiteStore) BarCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bars`).Scan(&n); err != nil {
		return 0, dbErr("count bars", err)
	}
	return n, nil
}

// ClearBars removes all stored history.
func (s *SQLiteStore) ClearBars(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bars`); err != nil {
		return dbErr("clear bars", err)
	}
	return nil
}

// ============================================================================
// Portfolio Methods
// ============================================================================

// SavePortfolio inserts or replaces a portfolio and its holdings.
func (s *SQLiteStore) SavePortfolio(ctx context.Context, p models.Portfolio) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO portfolios (name, cash, created_at) VALUES (?, ?, ?)
	`, p.Name, p.Cash.String(), p.CreatedAt); err != nil {
		return dbErr("save portfolio", err)
	}
	if err := writeHoldings(ctx, tx, p); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return dbErr("commit transaction", err)
	}
	return nil
}

func writeHoldings(ctx context.Context, tx *sql.Tx, p models.Portfolio) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM holdings WHERE portfolio = ?`, p.Name); err != nil {
		return dbErr("clear holdings", err)
	}
	for _, h := range p.Holdings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO holdings (portfolio, symbol, shares, avg_cost) VALUES (?, ?, ?, ?)
		`, p.Name, h.Symbol, h.Shares, h.AvgCost.String()); err != nil {
			return dbErr("save holding", err)
		}
	}
	return nil
}

// DeletePortfolio removes a portfolio with its holdings and transactions.
func (s *SQLiteStore) DeletePortfolio(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("begin transaction", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM transactions WHERE portfolio = ?`,
		`DELETE FROM holdings WHERE portfolio = ?`,
		`DELETE FROM portfolios WHERE name = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, name); err != nil {
			return dbErr("delete portfolio", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return dbErr("commit transaction", err)
	}
	return nil
}

// LoadPortfolios returns every portfolio with its holdings, ordered by name.
func (s *SQLiteStore) LoadPortfolios(ctx context.Context) ([]models.Portfolio, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, cash, created_at FROM portfolios ORDER BY name
	`)
	if err != nil {
		return nil, dbErr("query portfolios", err)
	}

	var portfolios []models.Portfolio
	index := make(map[string]int)
	for rows.Next() {
		var (
			p    models.Portfolio
			cash string
		)
		if err := rows.Scan(&p.Name, &cash, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, dbErr("scan portfolio", err)
		}
		if p.Cash, err = decimal.NewFromString(cash); err != nil {
			rows.Close()
			return nil, dbErr("parse cash", err)
		}
		p.Holdings = make(map[string]models.Holding)
		index[p.Name] = len(portfolios)
		portfolios = append(portfolios, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate portfolios", err)
	}

	hrows, err := s.db.QueryContext(ctx, `SELECT portfolio, symbol, shares, avg_cost FROM holdings`)
	if err != nil {
		return nil, dbErr("query holdings", err)
	}
	defer hrows.Close()

	for hrows.Next() {
		var (
			owner string
			h     models.Holding
			cost  string
		)
		if err := hrows.Scan(&owner, &h.Symbol, &h.Shares, &cost); err != nil {
			return nil, dbErr("scan holding", err)
		}
		if h.AvgCost, err = decimal.NewFromString(cost); err != nil {
			return nil, dbErr("parse average cost", err)
		}
		if i, ok := index[owner]; ok {
			portfolios[i].Holdings[h.Symbol] = h
		}
	}
	if err := hrows.Err(); err != nil {
		return nil, dbErr("iterate holdings", err)
	}

	return portfolios, nil
}

// ApplyTrade writes the portfolio state after a trade and appends the
// transaction in a single database transaction.
func (s *SQLiteStore) ApplyTrade(ctx context.Context, p models.Portfolio, t models.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("begin transaction", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `UPDATE portfolios SET cash = ? WHERE name = ?`, p.Cash.String(), p.Name)
	if err != nil {
		return dbErr("update cash", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError(p.Name)
	}
	if err := writeHoldings(ctx, tx, p); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, portfolio, symbol, side, quantity, price, fee, realized_pnl, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Portfolio, t.Symbol, string(t.Side), t.Quantity, t.Price.String(), t.Fee.String(), t.RealizedPnL.String(), t.Timestamp); err != nil {
		return dbErr("insert transaction", err)
	}

	if err := tx.Commit(); err != nil {
		return dbErr("commit transaction", err)
	}
	return nil
}

// LoadTransactions returns a portfolio's transactions oldest first.
func (s *SQLiteStore) LoadTransactions(ctx context.Context, portfolio string) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, portfolio, symbol, side, quantity, price, fee, realized_pnl, timestamp
		FROM transactions
		WHERE portfolio = ?
		ORDER BY timestamp ASC, rowid ASC
	`, portfolio)
	if err != nil {
		return nil, dbErr("query transactions", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var (
			t                    models.Transaction
			side                 string
			price, fee, realized string
		)
		if err := rows.Scan(&t.ID, &t.Portfolio, &t.Symbol, &side, &t.Quantity, &price, &fee, &realized, &t.Timestamp); err != nil {
			return nil, dbErr("scan transaction", err)
		}
		t.Side = models.OrderSide(side)
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, dbErr("parse price", err)
		}
		if t.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, dbErr("parse fee", err)
		}
		if t.RealizedPnL, err = decimal.NewFromString(realized); err != nil {
			return nil, dbErr("parse realized pnl", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate transactions", err)
	}
	return txs, nil
}

// ============================================================================
// Metadata Methods
// ============================================================================

// Meta returns a metadata value, or "" when unset.
func (s *SQLiteStore) Meta(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	if v, ok := s.meta[key]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", dbErr("read meta", err)
	}

	s.mu.Lock()
	s.meta[key] = value
	s.mu.Unlock()

	return value, nil
}

// SetMeta records a metadata value.
func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO meta (key, value, updated_at) VALUES (?, ?, ?)
	`, key, value, time.Now())
	if err != nil {
		return dbErr("set meta", err)
	}

	s.mu.Lock()
	s.meta[key] = value
	s.mu.Unlock()

	return nil
}
