// Package universe loads and validates the instrument universe.
package universe

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/models"
)

// companyRow is one row of the companies CSV file.
type companyRow struct {
	Symbol       string  `csv:"symbol"`
	Name         string  `csv:"name"`
	Sector       string  `csv:"sector"`
	ListedShares int64   `csv:"listed_shares"`
	PaidUpValue  float64 `csv:"paid_up_value"`
	BaseVolume   int64   `csv:"base_volume"`
	InitialPrice float64 `csv:"initial_price"`
	EPS          string  `csv:"eps"`
}

// Universe is an immutable, symbol-ordered instrument table.
type Universe struct {
	instruments []models.Instrument
	bySymbol    map[string]models.Instrument
}

// New validates instruments and builds a Universe. Symbols are upper-cased
// and must be unique.
func New(instruments []models.Instrument) (*Universe, error) {
	if len(instruments) == 0 {
		return nil, apperrors.NewConfigError("universe", 0, "at least one instrument is required")
	}
	u := &Universe{
		instruments: make([]models.Instrument, 0, len(instruments)),
		bySymbol:    make(map[string]models.Instrument, len(instruments)),
	}
	for _, inst := range instruments {
		inst.Symbol = strings.ToUpper(strings.TrimSpace(inst.Symbol))
		inst.Sector = strings.TrimSpace(inst.Sector)
		if err := inst.Validate(); err != nil {
			return nil, apperrors.NewConfigError("universe."+inst.Symbol, inst, err.Error())
		}
		if _, dup := u.bySymbol[inst.Symbol]; dup {
			return nil, apperrors.NewConfigError("universe."+inst.Symbol, inst.Symbol, "duplicate symbol")
		}
		u.bySymbol[inst.Symbol] = inst
		u.instruments = append(u.instruments, inst)
	}
	sort.Slice(u.instruments, func(i, j int) bool {
		return u.instruments[i].Symbol < u.instruments[j].Symbol
	})
	return u, nil
}

// Load reads a companies CSV with header
// symbol,name,sector,listed_shares,paid_up_value,base_volume,initial_price.
// An optional eps column carries earnings per share; blank means unreported.
func Load(path string) (*Universe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open universe file: %w", err)
	}
	defer f.Close()

	var rows []*companyRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, apperrors.NewConfigError("storage.universe", path, fmt.Sprintf("malformed companies file: %v", err))
	}

	instruments := make([]models.Instrument, 0, len(rows))
	for _, r := range rows {
		inst := models.Instrument{
			Symbol:       r.Symbol,
			Name:         r.Name,
			Sector:       r.Sector,
			ListedShares: r.ListedShares,
			PaidUpValue:  r.PaidUpValue,
			BaseVolume:   r.BaseVolume,
			InitialPrice: r.InitialPrice,
		}
		if raw := strings.TrimSpace(r.EPS); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, apperrors.NewConfigError("universe."+r.Symbol+".eps", raw, "must be a number")
			}
			inst.EPS = &v
		}
		instruments = append(instruments, inst)
	}
	return New(instruments)
}

// Save writes the universe in the format read by Load.
func (u *Universe) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create universe file: %w", err)
	}
	defer f.Close()

	rows := make([]*companyRow, 0, len(u.instruments))
	for _, i := range u.instruments {
		row := &companyRow{
			Symbol:       i.Symbol,
			Name:         i.Name,
			Sector:       i.Sector,
			ListedShares: i.ListedShares,
			PaidUpValue:  i.PaidUpValue,
			BaseVolume:   i.BaseVolume,
			InitialPrice: i.InitialPrice,
		}
		if v, ok := i.Earnings(); ok {
			row.EPS = strconv.FormatFloat(v, 'f', -1, 64)
		}
		rows = append(rows, row)
	}
	return gocsv.MarshalFile(&rows, f)
}

// Instruments returns the instruments ordered by symbol.
func (u *Universe) Instruments() []models.Instrument {
	out := make([]models.Instrument, len(u.instruments))
	copy(out, u.instruments)
	return out
}

// Get looks up an instrument by symbol.
func (u *Universe) Get(symbol string) (models.Instrument, bool) {
	inst, ok := u.bySymbol[strings.ToUpper(symbol)]
	return inst, ok
}

// Symbols returns all symbols in order.
func (u *Universe) Symbols() []string {
	out := make([]string, len(u.instruments))
	for i, inst := range u.instruments {
		out[i] = inst.Symbol
	}
	return out
}

// Sectors returns the distinct sectors in order.
func (u *Universe) Sectors() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, inst := range u.instruments {
		if _, ok := seen[inst.Sector]; !ok {
			seen[inst.Sector] = struct{}{}
			out = append(out, inst.Sector)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of instruments.
func (u *Universe) Len() int {
	return len(u.instruments)
}
