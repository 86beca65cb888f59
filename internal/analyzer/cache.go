package analyzer

import (
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"nepse-simulator/internal/metrics"
)

type cacheKey struct {
	kind string
	asOf string
	arg  string
}

// resultCache memoizes results per (kind, as-of date). Any change to the
// history's extent clears it.
type resultCache struct {
	mu      sync.Mutex
	latest  time.Time
	days    int
	entries map[cacheKey]any
}

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[cacheKey]any)}
}

func (c *resultCache) sync(latest time.Time, days int) {
	if !c.latest.Equal(latest) || c.days != days {
		c.latest = latest
		c.days = days
		c.entries = make(map[cacheKey]any)
	}
}

func (c *resultCache) get(latest time.Time, days int, key cacheKey) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sync(latest, days)
	v, ok := c.entries[key]
	if ok {
		metrics.AnalysisCache.WithLabelValues("hit").Inc()
	} else {
		metrics.AnalysisCache.WithLabelValues("miss").Inc()
	}
	return v, ok
}

func (c *resultCache) put(latest time.Time, days int, key cacheKey, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sync(latest, days)
	c.entries[key] = v
}

// cached returns the memoized value for key or computes and stores it.
func cached[T any](a *Analyzer, key cacheKey, compute func() (T, error)) (T, error) {
	latest, _ := a.source.Latest()
	days := len(a.source.Dates())
	if v, ok := a.cache.get(latest, days, key); ok {
		return cloneResult(v.(T)), nil
	}
	v, err := compute()
	if err != nil {
		return v, err
	}
	a.cache.put(latest, days, key, cloneResult(v))
	return v, nil
}

// cloneResult copies the slices of a result so callers never share backing
// arrays with the cache.
func cloneResult[T any](v T) T {
	switch r := any(v).(type) {
	case []Mover:
		return any(slices.Clone(r)).(T)
	case []SectorStats:
		return any(slices.Clone(r)).(T)
	case Correlation:
		r.Symbols = slices.Clone(r.Symbols)
		if r.Values != nil {
			values := make([][]float64, len(r.Values))
			for i, row := range r.Values {
				values[i] = slices.Clone(row)
			}
			r.Values = values
		}
		return any(r).(T)
	case Summary:
		r.TopGainers = slices.Clone(r.TopGainers)
		r.TopLosers = slices.Clone(r.TopLosers)
		return any(r).(T)
	}
	return v
}
