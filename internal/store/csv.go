package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gocarina/gocsv"

	"nepse-simulator/internal/models"
)

// barRow is the tabular bar format. Circuit is optional on read.
type barRow struct {
	Date    string  `csv:"date"`
	Symbol  string  `csv:"symbol"`
	Open    float64 `csv:"open"`
	High    float64 `csv:"high"`
	Low     float64 `csv:"low"`
	Close   float64 `csv:"close"`
	Volume  int64   `csv:"volume"`
	Circuit string  `csv:"circuit"`
}

// CSVStore keeps bar history in a single CSV file.
type CSVStore struct {
	path string
}

// NewCSVStore stores bars in dir/bars.csv, creating dir if needed.
func NewCSVStore(dir string) (*CSVStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &CSVStore{path: filepath.Join(dir, "bars.csv")}, nil
}

// Path returns the backing file.
func (s *CSVStore) Path() string {
	return s.path
}

// SaveBars merges bars into the file; a bar replaces any stored bar with
// the same (date, symbol).
func (s *CSVStore) SaveBars(ctx context.Context, bars []models.Bar) error {
	existing, err := s.LoadBars(ctx)
	if err != nil {
		return err
	}

	type key struct{ date, symbol string }
	merged := make(map[key]models.Bar, len(existing)+len(bars))
	for _, b := range existing {
		merged[key{b.DateKey(), b.Symbol}] = b
	}
	for _, b := range bars {
		merged[key{b.DateKey(), b.Symbol}] = b
	}

	rows := make([]*barRow, 0, len(merged))
	for _, b := range merged {
		rows = append(rows, &barRow{
			Date:    b.DateKey(),
			Symbol:  b.Symbol,
			Open:    b.Open,
			High:    b.High,
			Low:     b.Low,
			Close:   b.Close,
			Volume:  b.Volume,
			Circuit: string(b.Circuit),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date < rows[j].Date
		}
		return rows[i].Symbol < rows[j].Symbol
	})

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create bar file: %w", err)
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write bars: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write bars: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// LoadBars reads every bar ordered by date then symbol. A missing file is
// an empty history.
func (s *CSVStore) LoadBars(ctx context.Context) ([]models.Bar, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bar file: %w", err)
	}
	defer f.Close()

	var rows []*barRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse bar file: %w", err)
	}

	bars := make([]models.Bar, 0, len(rows))
	for _, r := range rows {
		date, err := time.Parse(models.DateLayout, r.Date)
		if err != nil {
			return nil, fmt.Errorf("bar %s: invalid date %q: %w", r.Symbol, r.Date, err)
		}
		circuit := models.CircuitStatus(r.Circuit)
		if circuit == "" {
			circuit = models.CircuitNormal
		}
		b := models.Bar{
			Date:    date,
			Symbol:  r.Symbol,
			Open:    r.Open,
			High:    r.High,
			Low:     r.Low,
			Close:   r.Close,
			Volume:  r.Volume,
			Circuit: circuit,
		}
		if !b.Valid() {
			return nil, fmt.Errorf("bar %s on %s violates low <= open,close <= high", b.Symbol, r.Date)
		}
		bars = append(bars, b)
	}
	sort.SliceStable(bars, func(i, j int) bool {
		if !bars[i].Date.Equal(bars[j].Date) {
			return bars[i].Date.Before(bars[j].Date)
		}
		return bars[i].Symbol < bars[j].Symbol
	})
	return bars, nil
}
