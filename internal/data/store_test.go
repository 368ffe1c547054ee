package data_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/darwin-lab/strategy-evolution/internal/data"
	"github.com/darwin-lab/strategy-evolution/pkg/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestNewStore_CreatesDataDir(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "bars")
	store, err := data.NewStore(zap.NewNop(), dataDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if store == nil {
		t.Fatal("store is nil")
	}
	if info, err := os.Stat(dataDir); err != nil || !info.IsDir() {
		t.Fatalf("expected data dir to be created: %v", err)
	}
}

func TestGetBars_MissingFixtureReturnsError(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	_, err = store.GetBars(context.Background(), "SPY", "1d", time.Now().Add(-24*time.Hour), time.Now())
	if err == nil {
		t.Fatal("expected an error for a symbol with no fixture")
	}
}

func TestGetBars_LoadsAndFiltersCSVFixture(t *testing.T) {
	dataDir := t.TempDir()
	csvBody := "timestamp,open,high,low,close,volume\n" +
		"2026-01-01T00:00:00Z,100,101,99,100.5,1000\n" +
		"2026-01-02T00:00:00Z,100.5,102,100,101.5,1200\n" +
		"2026-01-03T00:00:00Z,101.5,103,101,102.5,900\n"
	if err := os.WriteFile(filepath.Join(dataDir, "SPY_1d.csv"), []byte(csvBody), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store, err := data.NewStore(zap.NewNop(), dataDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	frame, err := store.GetBars(context.Background(), "SPY", "1d", start, end)
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if frame.Len() != 2 {
		t.Fatalf("expected 2 bars within range, got %d", frame.Len())
	}
	if !frame.Bars()[0].Close.Equal(decimal.NewFromFloat(101.5)) {
		t.Fatalf("unexpected first bar close: %s", frame.Bars()[0].Close)
	}
}

func TestGetBars_CachesAfterFirstLoad(t *testing.T) {
	dataDir := t.TempDir()
	csvBody := "timestamp,open,high,low,close,volume\n" +
		"2026-01-01T00:00:00Z,1,1,1,1,1\n"
	path := filepath.Join(dataDir, "SPY_1d.csv")
	if err := os.WriteFile(path, []byte(csvBody), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store, err := data.NewStore(zap.NewNop(), dataDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := store.GetBars(context.Background(), "SPY", "1d", start, end); err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if store.GetCacheSize() != 1 {
		t.Fatalf("expected 1 cached series, got %d", store.GetCacheSize())
	}

	// Removing the fixture shouldn't matter: the second read comes from cache.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove fixture: %v", err)
	}
	if _, err := store.GetBars(context.Background(), "SPY", "1d", start, end); err != nil {
		t.Fatalf("GetBars from cache: %v", err)
	}

	store.ClearCache()
	if store.GetCacheSize() != 0 {
		t.Fatal("expected cache to be empty after ClearCache")
	}
}

func TestSaveBars_RoundTripsThroughJSON(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	bars := []domain.Bar{
		{Timestamp: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), Open: decimal.NewFromInt(10), High: decimal.NewFromInt(11), Low: decimal.NewFromInt(9), Close: decimal.NewFromInt(10), Volume: decimal.NewFromInt(500)},
		{Timestamp: time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC), Open: decimal.NewFromInt(10), High: decimal.NewFromInt(12), Low: decimal.NewFromInt(10), Close: decimal.NewFromInt(11), Volume: decimal.NewFromInt(600)},
	}
	if err := store.SaveBars("ETH", "1h", bars); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}

	start, end, err := store.GetDataRange("ETH", "1h")
	if err != nil {
		t.Fatalf("GetDataRange: %v", err)
	}
	if !start.Equal(bars[0].Timestamp) || !end.Equal(bars[1].Timestamp) {
		t.Fatalf("unexpected data range: %v - %v", start, end)
	}

	symbols := store.GetAvailableSymbols()
	if len(symbols) != 1 || symbols[0] != "ETH" {
		t.Fatalf("expected [ETH], got %v", symbols)
	}
}

func TestDataQualityValidator_FlagsNegativeAndInconsistentBars(t *testing.T) {
	v := data.NewDataQualityValidator(zap.NewNop())
	bars := []domain.Bar{
		{Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Open: decimal.NewFromInt(-1), High: decimal.NewFromInt(1), Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(1), Volume: decimal.NewFromInt(10)},
		{Timestamp: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), Open: decimal.NewFromInt(1), High: decimal.NewFromInt(1), Low: decimal.NewFromInt(2), Close: decimal.NewFromInt(1), Volume: decimal.NewFromInt(10)},
	}

	report := v.Validate(bars, "SPY")
	if report.IsUsable {
		t.Fatal("expected report to flag this data as unusable")
	}
	if report.OHLCErrorCount == 0 {
		t.Fatal("expected an OHLC consistency issue for low > high")
	}
}

func TestDataQualityValidator_CleanDataDropsBadRows(t *testing.T) {
	v := data.NewDataQualityValidator(zap.NewNop())
	bars := []domain.Bar{
		{Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Open: decimal.NewFromInt(10), High: decimal.NewFromInt(11), Low: decimal.NewFromInt(9), Close: decimal.NewFromInt(10), Volume: decimal.NewFromInt(100)},
		{Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Open: decimal.NewFromInt(10), High: decimal.NewFromInt(11), Low: decimal.NewFromInt(9), Close: decimal.NewFromInt(10), Volume: decimal.NewFromInt(100)},
		{Timestamp: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), Open: decimal.NewFromInt(0), High: decimal.NewFromInt(1), Low: decimal.NewFromInt(0), Close: decimal.NewFromInt(1), Volume: decimal.NewFromInt(100)},
	}

	cleaned := v.CleanData(bars)
	if len(cleaned) != 1 {
		t.Fatalf("expected duplicate and zero-price rows dropped, got %d bars", len(cleaned))
	}
}
