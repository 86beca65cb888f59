package universe

import (
	"os"
	"path/filepath"
	"testing"

	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/models"
)

func TestDefault_IsValidAndSorted(t *testing.T) {
	u := Default()
	symbols := u.Symbols()
	if len(symbols) == 0 {
		t.Fatal("default universe is empty")
	}
	for i := 1; i < len(symbols); i++ {
		if symbols[i-1] >= symbols[i] {
			t.Fatalf("symbols not strictly ordered: %s >= %s", symbols[i-1], symbols[i])
		}
	}
	if _, ok := u.Get("nabil"); !ok {
		t.Error("lookup should be case-insensitive")
	}
}

func TestNew_Rejects(t *testing.T) {
	valid := models.Instrument{Symbol: "AAA", Sector: "Bank", InitialPrice: 100}

	cases := map[string][]models.Instrument{
		"empty":         nil,
		"duplicate":     {valid, valid},
		"missing":       {{Symbol: "BBB", InitialPrice: 100}},
		"zero price":    {{Symbol: "CCC", Sector: "Bank"}},
		"negative base": {{Symbol: "DDD", Sector: "Bank", InitialPrice: 10, BaseVolume: -1}},
	}
	for name, instruments := range cases {
		_, err := New(instruments)
		if !apperrors.Is(err, apperrors.ErrConfig) {
			t.Errorf("%s: expected ConfigError, got %v", name, err)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "companies.csv")
	u := Default()
	if err := u.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Len() != u.Len() {
		t.Fatalf("loaded %d instruments, want %d", loaded.Len(), u.Len())
	}
	for _, inst := range u.Instruments() {
		got, ok := loaded.Get(inst.Symbol)
		gotEPS, gotHas := got.Earnings()
		wantEPS, wantHas := inst.Earnings()
		got.EPS, inst.EPS = nil, nil
		if !ok || got != inst || gotEPS != wantEPS || gotHas != wantHas {
			t.Errorf("instrument %s mismatch: %+v vs %+v", inst.Symbol, got, inst)
		}
	}
}

func TestLoad_MissingSectorFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	content := "symbol,name,sector,listed_shares,paid_up_value,base_volume,initial_price\nXYZ,Xyz Ltd,,100,100,1000,50\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !apperrors.Is(err, apperrors.ErrConfig) {
		t.Errorf("expected ConfigError for missing sector, got %v", err)
	}
}

func TestLoad_OptionalEPS(t *testing.T) {
	dir := t.TempDir()

	legacy := filepath.Join(dir, "legacy.csv")
	content := "symbol,name,sector,listed_shares,paid_up_value,base_volume,initial_price\nXYZ,Xyz Ltd,Bank,100,100,1000,50\n"
	if err := os.WriteFile(legacy, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	u, err := Load(legacy)
	if err != nil {
		t.Fatalf("file without eps column: %v", err)
	}
	if inst, _ := u.Get("XYZ"); inst.EPS != nil {
		t.Errorf("eps = %v, want unreported", *inst.EPS)
	}

	withEPS := filepath.Join(dir, "eps.csv")
	content = "symbol,name,sector,listed_shares,paid_up_value,base_volume,initial_price,eps\n" +
		"AAA,A Ltd,Bank,100,100,1000,50,12.5\n" +
		"BBB,B Ltd,Bank,100,100,1000,50,\n" +
		"CCC,C Ltd,Bank,100,100,1000,50,-3\n"
	if err := os.WriteFile(withEPS, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	u, err = Load(withEPS)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := u.Get("AAA")
	if v, ok := a.Earnings(); !ok || v != 12.5 {
		t.Errorf("AAA eps = %v, %v", v, ok)
	}
	if pe, ok := a.PERatio(50); !ok || pe != 4 {
		t.Errorf("AAA pe = %v, %v; want 4", pe, ok)
	}
	if b, _ := u.Get("BBB"); b.EPS != nil {
		t.Error("blank eps should be unreported")
	}
	c, _ := u.Get("CCC")
	if _, ok := c.PERatio(50); ok {
		t.Error("P/E is undefined for negative earnings")
	}

	bad := filepath.Join(dir, "bad.csv")
	content = "symbol,name,sector,listed_shares,paid_up_value,base_volume,initial_price,eps\nAAA,A Ltd,Bank,100,100,1000,50,n/a\n"
	if err := os.WriteFile(bad, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); !apperrors.Is(err, apperrors.ErrConfig) {
		t.Errorf("expected ConfigError for malformed eps, got %v", err)
	}
}
