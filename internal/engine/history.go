package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"nepse-simulator/internal/models"
)

// History is the append-only bar store. A trading day is committed as a
// whole; readers never observe a partially appended day.
type History struct {
	mu       sync.RWMutex
	dates    []time.Time
	byDate   map[string][]models.Bar
	bySymbol map[string][]models.Bar
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{
		byDate:   make(map[string][]models.Bar),
		bySymbol: make(map[string][]models.Bar),
	}
}

// AppendDay commits the bars for date. The date must be later than every
// committed date and each symbol may appear once.
func (h *History) AppendDay(date time.Time, bars []models.Bar) error {
	key := date.Format(models.DateLayout)

	seen := make(map[string]bool, len(bars))
	day := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		if seen[b.Symbol] {
			return fmt.Errorf("duplicate bar for %s on %s", b.Symbol, key)
		}
		if b.DateKey() != key {
			return fmt.Errorf("bar for %s dated %s appended to %s", b.Symbol, b.DateKey(), key)
		}
		seen[b.Symbol] = true
		day = append(day, b)
	}
	sort.Slice(day, func(i, j int) bool { return day[i].Symbol < day[j].Symbol })

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.byDate[key]; exists {
		return fmt.Errorf("history already contains %s", key)
	}
	if n := len(h.dates); n > 0 && !date.After(h.dates[n-1]) {
		return fmt.Errorf("date %s is not after last committed date %s", key, h.dates[n-1].Format(models.DateLayout))
	}

	h.dates = append(h.dates, date)
	h.byDate[key] = day
	for _, b := range day {
		h.bySymbol[b.Symbol] = append(h.bySymbol[b.Symbol], b)
	}
	return nil
}

// Len returns the number of committed trading days.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.dates)
}

// Dates returns the committed trading dates in order.
func (h *History) Dates() []time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.dates)
	return h.dates[:n:n]
}

// Latest returns the most recent committed date.
func (h *History) Latest() (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.dates) == 0 {
		return time.Time{}, false
	}
	return h.dates[len(h.dates)-1], true
}

// DatesUntil returns committed dates on or before asOf.
func (h *History) DatesUntil(asOf time.Time) []time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := sort.Search(len(h.dates), func(i int) bool { return h.dates[i].After(asOf) })
	return h.dates[:n:n]
}

// OnDate returns the bars committed for date, ordered by symbol.
func (h *History) OnDate(date time.Time) []models.Bar {
	h.mu.RLock()
	defer h.mu.RUnlock()
	day := h.byDate[date.Format(models.DateLayout)]
	n := len(day)
	return day[:n:n]
}

// Series returns every bar for symbol in date order.
func (h *History) Series(symbol string) []models.Bar {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.bySymbol[symbol]
	n := len(s)
	return s[:n:n]
}

// SeriesUntil returns bars for symbol dated on or before asOf.
func (h *History) SeriesUntil(symbol string, asOf time.Time) []models.Bar {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.bySymbol[symbol]
	n := sort.Search(len(s), func(i int) bool { return s[i].Date.After(asOf) })
	return s[:n:n]
}

// Symbols returns every symbol with at least one bar.
func (h *History) Symbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.bySymbol))
	for s := range h.bySymbol {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// All returns every bar ordered by date then symbol.
func (h *History) All() []models.Bar {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []models.Bar
	for _, d := range h.dates {
		out = append(out, h.byDate[d.Format(models.DateLayout)]...)
	}
	return out
}
