package store

import (
	"context"
	"os"
	"strings"
	"testing"

	"nepse-simulator/internal/models"
)

func TestCSVStoreRoundTrip(t *testing.T) {
	s, err := NewCSVStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	empty, err := s.LoadBars(ctx)
	if err != nil || len(empty) != 0 {
		t.Fatalf("missing file: %v, %v", empty, err)
	}

	bars := append(generateTestBars("NICA", 4, 800, 5000), generateTestBars("ADBL", 4, 300, 2000)...)
	bars[2].Circuit = models.CircuitLower
	if err := s.SaveBars(ctx, bars); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadBars(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != len(bars) {
		t.Fatalf("loaded %d bars, want %d", len(loaded), len(bars))
	}
	// Ordered by date then symbol: ADBL before NICA on each date.
	if loaded[0].Symbol != "ADBL" || loaded[1].Symbol != "NICA" {
		t.Errorf("order = %s, %s", loaded[0].Symbol, loaded[1].Symbol)
	}
	var lower int
	for _, b := range loaded {
		if b.Circuit == models.CircuitLower {
			lower++
		}
	}
	if lower != 1 {
		t.Errorf("lower circuits = %d, want 1", lower)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	header := strings.SplitN(string(data), "\n", 2)[0]
	if !strings.HasPrefix(header, "date,symbol,open,high,low,close,volume") {
		t.Errorf("header = %q", header)
	}
}

func TestCSVStoreReadsSevenColumnFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	content := "date,symbol,open,high,low,close,volume\n" +
		"2024-01-01,NABIL,500,510,495,505,1200\n" +
		"2024-01-02,NABIL,505,515,500,512,900\n"
	if err := os.WriteFile(s.Path(), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	bars, err := s.LoadBars(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 || bars[1].Close != 512 || bars[0].Circuit != models.CircuitNormal {
		t.Errorf("bars = %+v", bars)
	}
}

func TestCSVStoreRejectsInvalidBar(t *testing.T) {
	s, err := NewCSVStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	content := "date,symbol,open,high,low,close,volume\n2024-01-01,NABIL,500,490,495,505,1200\n"
	if err := os.WriteFile(s.Path(), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadBars(context.Background()); err == nil {
		t.Fatal("expected error for high below open")
	}
}
