package stream

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/logging"
	"nepse-simulator/internal/models"
)

// AlertCondition represents the type of alert condition.
type AlertCondition string

const (
	// AlertConditionAbove triggers when price is at or above the target.
	AlertConditionAbove AlertCondition = "above"
	// AlertConditionBelow triggers when price is at or below the target.
	AlertConditionBelow AlertCondition = "below"
	// AlertConditionPercentChange triggers when the absolute change versus
	// the previous close reaches the target percentage.
	AlertConditionPercentChange AlertCondition = "percent_change"
	// AlertConditionCrossAbove triggers when price crosses above the target.
	AlertConditionCrossAbove AlertCondition = "cross_above"
	// AlertConditionCrossBelow triggers when price crosses below the target.
	AlertConditionCrossBelow AlertCondition = "cross_below"
	// AlertConditionCircuit triggers when the instrument hits a circuit limit.
	AlertConditionCircuit AlertCondition = "circuit"
)

// Alert is a one-shot price condition on a symbol.
type Alert struct {
	ID          string         `json:"id"`
	Symbol      string         `json:"symbol"`
	Condition   AlertCondition `json:"condition"`
	Price       float64        `json:"price"`
	Triggered   bool           `json:"triggered"`
	TriggeredAt *time.Time     `json:"triggered_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Trigger describes an alert firing.
type Trigger struct {
	Alert Alert                  `json:"alert"`
	Date  time.Time              `json:"date"`
	Quote models.InstrumentState `json:"quote"`
}

// AlertMonitor checks alerts against hub updates. It implements Consumer.
type AlertMonitor struct {
	logger zerolog.Logger
	alerts map[string][]*Alert // symbol -> active alerts
	fired  []Trigger
	mu     sync.RWMutex

	// Track previous prices for cross-type alerts
	prevPrices map[string]float64

	onTrigger func(Trigger)
}

// NewAlertMonitor creates a new alert monitor.
func NewAlertMonitor(logger zerolog.Logger) *AlertMonitor {
	return &AlertMonitor{
		logger:     logging.WithComponent(logger, "alerts"),
		alerts:     make(map[string][]*Alert),
		prevPrices: make(map[string]float64),
	}
}

// SetOnTrigger sets a callback function to be called when an alert triggers.
func (m *AlertMonitor) SetOnTrigger(fn func(Trigger)) {
	m.mu.Lock()
	m.onTrigger = fn
	m.mu.Unlock()
}

// CreateAlert adds an alert and returns it.
func (m *AlertMonitor) CreateAlert(symbol string, condition AlertCondition, price float64) (Alert, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Alert{}, apperrors.NewConfigError("alert.symbol", symbol, "symbol is required")
	}
	switch condition {
	case AlertConditionAbove, AlertConditionBelow, AlertConditionCrossAbove, AlertConditionCrossBelow:
		if price <= 0 {
			return Alert{}, apperrors.NewConfigError("alert.price", price, "must be positive")
		}
	case AlertConditionPercentChange:
		if price <= 0 {
			return Alert{}, apperrors.NewConfigError("alert.price", price, "percentage must be positive")
		}
	case AlertConditionCircuit:
	default:
		return Alert{}, apperrors.NewConfigError("alert.condition", condition, "unknown condition")
	}

	alert := &Alert{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Condition: condition,
		Price:     price,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.alerts[symbol] = append(m.alerts[symbol], alert)
	m.mu.Unlock()
	return *alert, nil
}

// ParseAlert parses "SYMBOL:condition[:price]", e.g. "NABIL:above:600".
func (m *AlertMonitor) ParseAlert(s string) (Alert, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return Alert{}, apperrors.NewConfigError("alert", s, "expected SYMBOL:condition[:price]")
	}
	var price float64
	if len(parts) > 2 {
		v, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return Alert{}, apperrors.NewConfigError("alert", s, "invalid price")
		}
		price = v
	}
	return m.CreateAlert(parts[0], AlertCondition(strings.ToLower(parts[1])), price)
}

// RemoveAlert removes an alert by ID.
func (m *AlertMonitor) RemoveAlert(alertID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for symbol, alerts := range m.alerts {
		for i, a := range alerts {
			if a.ID == alertID {
				m.alerts[symbol] = append(alerts[:i], alerts[i+1:]...)
				if len(m.alerts[symbol]) == 0 {
					delete(m.alerts, symbol)
				}
				return
			}
		}
	}
}

// Alerts returns all active alerts ordered by symbol.
func (m *AlertMonitor) Alerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Alert
	for _, alerts := range m.alerts {
		for _, a := range alerts {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Triggered returns the alerts that have fired, oldest first.
func (m *AlertMonitor) Triggered() []Trigger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Trigger, len(m.fired))
	copy(out, m.fired)
	return out
}

// Symbols implements Consumer, narrowing updates to symbols with active alerts.
func (m *AlertMonitor) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	symbols := make([]string, 0, len(m.alerts))
	for symbol := range m.alerts {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// OnUpdate implements Consumer.
func (m *AlertMonitor) OnUpdate(u Update) {
	m.Check(u.State)
}

// Check evaluates every active alert against the snapshot.
func (m *AlertMonitor) Check(state models.MarketState) {
	var fired []Trigger

	m.mu.Lock()
	for symbol, quote := range state.Instruments {
		prev, seen := m.prevPrices[symbol]
		m.prevPrices[symbol] = quote.Price

		alerts := m.alerts[symbol]
		kept := alerts[:0]
		for _, a := range alerts {
			if !isTriggered(a, quote, prev, seen) {
				kept = append(kept, a)
				continue
			}
			now := time.Now()
			a.Triggered = true
			a.TriggeredAt = &now
			fired = append(fired, Trigger{Alert: *a, Date: state.Date, Quote: quote})
		}
		if len(kept) == 0 {
			delete(m.alerts, symbol)
		} else {
			m.alerts[symbol] = kept
		}
	}
	m.fired = append(m.fired, fired...)
	onTrigger := m.onTrigger
	m.mu.Unlock()

	for _, t := range fired {
		m.logger.Info().
			Str("event", "alert").
			Str("symbol", t.Alert.Symbol).
			Str("condition", string(t.Alert.Condition)).
			Float64("target", t.Alert.Price).
			Float64("price", t.Quote.Price).
			Msg("Alert triggered")
		if onTrigger != nil {
			onTrigger(t)
		}
	}
}

// isTriggered checks if an alert condition is met.
func isTriggered(alert *Alert, quote models.InstrumentState, prevPrice float64, seen bool) bool {
	switch alert.Condition {
	case AlertConditionAbove:
		return quote.Price >= alert.Price

	case AlertConditionBelow:
		return quote.Price <= alert.Price

	case AlertConditionPercentChange:
		if quote.PrevClose == 0 {
			return false
		}
		return math.Abs(quote.ChangePercent()) >= alert.Price

	case AlertConditionCrossAbove:
		return seen && prevPrice < alert.Price && quote.Price >= alert.Price

	case AlertConditionCrossBelow:
		return seen && prevPrice > alert.Price && quote.Price <= alert.Price

	case AlertConditionCircuit:
		return quote.Status.IsLimit()
	}
	return false
}

// AlertStats contains statistics about alerts.
type AlertStats struct {
	ActiveAlerts    int
	TriggeredAlerts int
	BySymbol        map[string]int
	ByCondition     map[AlertCondition]int
}

// Stats returns alert statistics.
func (m *AlertMonitor) Stats() AlertStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := AlertStats{
		TriggeredAlerts: len(m.fired),
		BySymbol:        make(map[string]int),
		ByCondition:     make(map[AlertCondition]int),
	}
	for symbol, alerts := range m.alerts {
		for _, a := range alerts {
			stats.ActiveAlerts++
			stats.BySymbol[symbol]++
			stats.ByCondition[a.Condition]++
		}
	}
	return stats
}

func (a Alert) String() string {
	if a.Condition == AlertConditionCircuit {
		return fmt.Sprintf("%s %s", a.Symbol, a.Condition)
	}
	return fmt.Sprintf("%s %s %g", a.Symbol, a.Condition, a.Price)
}
