// Package indicators provides technical indicator calculations over bar series.
package indicators

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc"

	"nepse-simulator/internal/models"
)

// Indicator defines the interface for single-value technical indicators.
type Indicator interface {
	Name() string
	Calculate(bars []models.Bar) ([]float64, error)
	Period() int
}

// MultiValueIndicator defines the interface for indicators that return multiple series.
type MultiValueIndicator interface {
	Name() string
	Calculate(bars []models.Bar) (map[string][]float64, error)
	Period() int
}

// Engine evaluates a registered set of indicators concurrently.
type Engine struct {
	mu     sync.RWMutex
	single map[string]Indicator
	multi  map[string]MultiValueIndicator
}

// NewEngine creates an empty indicator engine.
func NewEngine() *Engine {
	return &Engine{
		single: make(map[string]Indicator),
		multi:  make(map[string]MultiValueIndicator),
	}
}

// NewDefaultEngine registers RSI(rsiPeriod), SMA 20, EMA 20, MACD 12/26/9 and Bollinger 20/2.
func NewDefaultEngine(rsiPeriod int) *Engine {
	e := NewEngine()
	e.Register(NewRSI(rsiPeriod))
	e.Register(NewSMA(20))
	e.Register(NewEMA(20))
	e.RegisterMulti(NewMACD(12, 26, 9))
	e.RegisterMulti(NewBollingerBands(20, 2))
	return e
}

// Register adds a single-value indicator.
func (e *Engine) Register(ind Indicator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.single[ind.Name()] = ind
}

// RegisterMulti adds a multi-value indicator.
func (e *Engine) RegisterMulti(ind MultiValueIndicator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.multi[ind.Name()] = ind
}

// Results holds the outputs of CalculateAll. Indicators without enough data
// are absent from the maps and listed in Skipped.
type Results struct {
	Single  map[string][]float64
	Multi   map[string]map[string][]float64
	Skipped []string
}

// CalculateAll evaluates every registered indicator in parallel.
func (e *Engine) CalculateAll(ctx context.Context, bars []models.Bar) (*Results, error) {
	e.mu.RLock()
	single := make([]Indicator, 0, len(e.single))
	for _, ind := range e.single {
		single = append(single, ind)
	}
	multi := make([]MultiValueIndicator, 0, len(e.multi))
	for _, ind := range e.multi {
		multi = append(multi, ind)
	}
	e.mu.RUnlock()

	res := &Results{
		Single: make(map[string][]float64, len(single)),
		Multi:  make(map[string]map[string][]float64, len(multi)),
	}
	var mu sync.Mutex
	var wg conc.WaitGroup

	for _, ind := range single {
		ind := ind
		wg.Go(func() {
			values, err := ind.Calculate(bars)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Skipped = append(res.Skipped, ind.Name())
				return
			}
			res.Single[ind.Name()] = values
		})
	}
	for _, ind := range multi {
		ind := ind
		wg.Go(func() {
			values, err := ind.Calculate(bars)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Skipped = append(res.Skipped, ind.Name())
				return
			}
			res.Multi[ind.Name()] = values
		})
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Calculate evaluates one registered single-value indicator by name.
func (e *Engine) Calculate(name string, bars []models.Bar) ([]float64, error) {
	e.mu.RLock()
	ind, ok := e.single[name]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("indicator %s not registered", name)
	}
	return ind.Calculate(bars)
}
