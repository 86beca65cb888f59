package stream

import (
	"testing"

	"github.com/rs/zerolog"

	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/models"
)

func quoteState(prices map[string]float64, status models.CircuitStatus) models.MarketState {
	st := models.MarketState{Instruments: make(map[string]models.InstrumentState)}
	for s, p := range prices {
		st.Instruments[s] = models.InstrumentState{Symbol: s, Price: p, PrevClose: 100, Status: status}
	}
	return st
}

func TestAlertConditions(t *testing.T) {
	m := NewAlertMonitor(zerolog.Nop())
	var fired []Trigger
	m.SetOnTrigger(func(tr Trigger) { fired = append(fired, tr) })

	mustAlert := func(s string) {
		t.Helper()
		if _, err := m.ParseAlert(s); err != nil {
			t.Fatalf("ParseAlert(%q): %v", s, err)
		}
	}
	mustAlert("nabil:above:105")
	mustAlert("NICA:cross_below:95")
	mustAlert("NTC:percent_change:5")
	mustAlert("UPPER:circuit")

	m.Check(quoteState(map[string]float64{"NABIL": 104, "NICA": 98, "NTC": 103, "UPPER": 100}, models.CircuitNormal))
	if len(fired) != 0 {
		t.Fatalf("fired early: %+v", fired)
	}

	m.Check(quoteState(map[string]float64{"NABIL": 106, "NICA": 94, "NTC": 94, "UPPER": 110}, models.CircuitUpper))
	if len(fired) != 4 {
		t.Fatalf("fired = %d, want 4: %+v", len(fired), fired)
	}
	if m.Stats().ActiveAlerts != 0 || len(m.Triggered()) != 4 {
		t.Errorf("stats = %+v", m.Stats())
	}

	// One-shot: nothing fires again.
	m.Check(quoteState(map[string]float64{"NABIL": 120}, models.CircuitNormal))
	if len(fired) != 4 {
		t.Errorf("alert fired twice")
	}
}

func TestCrossAlertNeedsPriorObservation(t *testing.T) {
	m := NewAlertMonitor(zerolog.Nop())
	if _, err := m.CreateAlert("NABIL", AlertConditionCrossAbove, 100); err != nil {
		t.Fatal(err)
	}
	m.Check(quoteState(map[string]float64{"NABIL": 120}, models.CircuitNormal))
	if len(m.Triggered()) != 0 {
		t.Error("cross alert fired without a prior price")
	}
}

func TestAlertValidationAndRemoval(t *testing.T) {
	m := NewAlertMonitor(zerolog.Nop())
	for _, bad := range []string{"NABIL", "NABIL:sideways:10", "NABIL:above", "NABIL:above:x", ":above:10"} {
		if _, err := m.ParseAlert(bad); !apperrors.Is(err, apperrors.ErrConfig) {
			t.Errorf("ParseAlert(%q): expected ErrConfig, got %v", bad, err)
		}
	}

	a, err := m.CreateAlert("NABIL", AlertConditionBelow, 90)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Alerts(); len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("alerts = %+v", got)
	}
	m.RemoveAlert(a.ID)
	if len(m.Alerts()) != 0 {
		t.Error("alert not removed")
	}
}
