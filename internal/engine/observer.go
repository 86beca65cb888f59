package engine

import (
	"github.com/rs/zerolog"

	"nepse-simulator/internal/logging"
	"nepse-simulator/internal/metrics"
	"nepse-simulator/internal/models"
)

// Observer receives market snapshots. Implementations must not retain the
// Instruments map beyond the call if they mutate it.
type Observer interface {
	OnPriceUpdate(state models.MarketState)
	OnSessionClose(state models.MarketState)
}

// ObserverFuncs adapts plain functions to Observer. Nil hooks are skipped.
type ObserverFuncs struct {
	PriceUpdate  func(models.MarketState)
	SessionClose func(models.MarketState)
}

func (f ObserverFuncs) OnPriceUpdate(state models.MarketState) {
	if f.PriceUpdate != nil {
		f.PriceUpdate(state)
	}
}

func (f ObserverFuncs) OnSessionClose(state models.MarketState) {
	if f.SessionClose != nil {
		f.SessionClose(state)
	}
}

const (
	hookPriceUpdate  = "price_update"
	hookSessionClose = "session_close"
)

// notifyObservers calls hook on every observer with its own copy of state.
// A panicking observer is logged and skipped.
func notifyObservers(logger zerolog.Logger, observers []Observer, hook string, state models.MarketState) {
	for _, o := range observers {
		callObserver(logger, o, hook, state.Clone())
	}
}

func callObserver(logger zerolog.Logger, o Observer, hook string, state models.MarketState) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserverPanics.WithLabelValues(hook).Inc()
			logging.LogObserverPanic(logger, hook, r)
		}
	}()

	switch hook {
	case hookPriceUpdate:
		o.OnPriceUpdate(state)
	case hookSessionClose:
		o.OnSessionClose(state)
	}
}
