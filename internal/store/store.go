// Package store provides persistence for bar history and portfolios.
package store

import (
	"context"

	"nepse-simulator/internal/models"
)

// BarStore persists bar history. Bars are keyed by (date, symbol).
type BarStore interface {
	SaveBars(ctx context.Context, bars []models.Bar) error
	LoadBars(ctx context.Context) ([]models.Bar, error)
}

// LedgerStore persists portfolios and their transaction logs.
type LedgerStore interface {
	SavePortfolio(ctx context.Context, p models.Portfolio) error
	DeletePortfolio(ctx context.Context, name string) error
	LoadPortfolios(ctx context.Context) ([]models.Portfolio, error)
	// ApplyTrade writes the post-trade portfolio and its transaction atomically.
	ApplyTrade(ctx context.Context, p models.Portfolio, tx models.Transaction) error
	LoadTransactions(ctx context.Context, portfolio string) ([]models.Transaction, error)
}

// Metadata keys recorded alongside saved history.
const (
	MetaSeed      = "seed"
	MetaStartDate = "start_date"
	MetaLastSaved = "last_saved"
)
