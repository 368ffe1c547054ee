// Package data provides the reference BarStore: a local, fixture-backed
// historical bar source. Production deployments plug in whatever feed
// they have (a vendor API, a warehouse query) behind the same GetBars
// contract; this package exists so the rest of the module — and its
// tests — have something to run against without any network dependency.
package data

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/darwin-lab/strategy-evolution/pkg/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store serves BarFrame data for a (symbol, timeframe) pair out of
// dataDir, caching the parsed result in memory. Fixtures may be either
// <dataDir>/<symbol>_<timeframe>.csv (header "timestamp,open,high,low,close,volume",
// RFC3339 timestamps) or the same name with a .json extension (a JSON
// array of bars). CSV is tried first.
type Store struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	dataDir   string
	cache     map[string][]domain.Bar
	metadata  map[string]*SymbolMetadata
	validator *DataQualityValidator
}

// SymbolMetadata contains metadata about available data for a symbol.
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
}

// NewStore creates a Store rooted at dataDir, creating the directory if
// absent and loading whatever symbol metadata was persisted by a prior
// run.
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store := &Store{
		logger:    logger,
		dataDir:   dataDir,
		cache:     make(map[string][]domain.Bar),
		metadata:  make(map[string]*SymbolMetadata),
		validator: NewDataQualityValidator(logger),
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("data: create data directory: %w", err)
	}

	if err := store.loadMetadata(); err != nil {
		logger.Warn("failed to load bar metadata", zap.Error(err))
	}

	return store, nil
}

// GetBars returns a BarFrame for symbol/timeframe covering [start, end],
// loading and caching the underlying fixture on first access. A
// DataQualityValidator pass runs on every cold load; issues are logged
// but never block the read — callers that care inspect the report
// themselves via Validate.
func (s *Store) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) (*domain.BarFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cacheKey := s.key(symbol, timeframe)

	s.mu.Lock()
	bars, ok := s.cache[cacheKey]
	s.mu.Unlock()

	if !ok {
		loaded, err := s.loadFixture(symbol, timeframe)
		if err != nil {
			return nil, fmt.Errorf("data: load %s/%s: %w", symbol, timeframe, err)
		}
		sort.Slice(loaded, func(i, j int) bool { return loaded[i].Timestamp.Before(loaded[j].Timestamp) })

		if report := s.validator.Validate(loaded, symbol); !report.IsUsable {
			s.logger.Warn("bar data failed quality validation",
				zap.String("symbol", symbol),
				zap.String("timeframe", timeframe),
				zap.Int("quality_score", report.QualityScore),
				zap.Int("issue_count", len(report.Issues)),
			)
		}

		s.mu.Lock()
		s.cache[cacheKey] = loaded
		s.updateMetadataLocked(symbol, timeframe, loaded)
		s.mu.Unlock()
		bars = loaded
	}

	filtered := s.filterByTimeRange(bars, start, end)
	return domain.NewBarFrame(symbol, filtered), nil
}

// SaveBars persists bars to <dataDir>/<symbol>_<timeframe>.json, updates
// the in-memory cache, and refreshes the symbol's metadata entry.
func (s *Store) SaveBars(symbol, timeframe string, bars []domain.Bar) error {
	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("data: marshal bars: %w", err)
	}

	path := filepath.Join(s.dataDir, fmt.Sprintf("%s_%s.json", symbol, timeframe))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("data: write %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[s.key(symbol, timeframe)] = sorted
	s.updateMetadataLocked(symbol, timeframe, sorted)
	return s.saveMetadata()
}

// GetAvailableSymbols returns the symbols with recorded metadata.
func (s *Store) GetAvailableSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	symbols := make([]string, 0, len(s.metadata))
	for _, meta := range s.metadata {
		if !seen[meta.Symbol] {
			seen[meta.Symbol] = true
			symbols = append(symbols, meta.Symbol)
		}
	}
	sort.Strings(symbols)
	return symbols
}

// GetDataRange returns the cached date range for symbol/timeframe.
func (s *Store) GetDataRange(symbol, timeframe string) (start, end time.Time, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if meta, ok := s.metadata[s.key(symbol, timeframe)]; ok {
		return meta.StartDate, meta.EndDate, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("data: no data available for %s/%s", symbol, timeframe)
}

// ClearCache drops every cached BarFrame, forcing the next GetBars call
// to re-read from disk.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string][]domain.Bar)
}

// GetCacheSize returns the number of cached (symbol, timeframe) series.
func (s *Store) GetCacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

func (s *Store) key(symbol, timeframe string) string {
	return symbol + "_" + timeframe
}

func (s *Store) filterByTimeRange(bars []domain.Bar, start, end time.Time) []domain.Bar {
	filtered := make([]domain.Bar, 0, len(bars))
	for _, bar := range bars {
		if (bar.Timestamp.Equal(start) || bar.Timestamp.After(start)) &&
			(bar.Timestamp.Equal(end) || bar.Timestamp.Before(end)) {
			filtered = append(filtered, bar)
		}
	}
	return filtered
}

func (s *Store) loadFixture(symbol, timeframe string) ([]domain.Bar, error) {
	base := filepath.Join(s.dataDir, fmt.Sprintf("%s_%s", symbol, timeframe))

	if bars, err := s.loadCSV(base + ".csv"); err == nil {
		return bars, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if bars, err := s.loadJSON(base + ".json"); err == nil {
		return bars, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return nil, fmt.Errorf("no fixture found at %s.csv or %s.json", base, base)
}

func (s *Store) loadJSON(path string) ([]domain.Bar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bars []domain.Bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return bars, nil
}

// loadCSV reads a header row of "timestamp,open,high,low,close,volume"
// (order-insensitive, case-insensitive) followed by one row per bar.
func (s *Store) loadCSV(path string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("%s: empty file", path)
	}

	col, err := csvColumnIndex(records[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	bars := make([]domain.Bar, 0, len(records)-1)
	for i, row := range records[1:] {
		bar, err := parseCSVRow(row, col)
		if err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", path, i+2, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

type csvColumns struct {
	timestamp, open, high, low, close, volume int
}

func csvColumnIndex(header []string) (csvColumns, error) {
	col := csvColumns{-1, -1, -1, -1, -1, -1}
	for i, name := range header {
		switch strings.ToLower(name) {
		case "timestamp":
			col.timestamp = i
		case "open":
			col.open = i
		case "high":
			col.high = i
		case "low":
			col.low = i
		case "close":
			col.close = i
		case "volume":
			col.volume = i
		}
	}
	for name, idx := range map[string]int{
		"timestamp": col.timestamp, "open": col.open, "high": col.high,
		"low": col.low, "close": col.close, "volume": col.volume,
	} {
		if idx == -1 {
			return col, fmt.Errorf("missing required column %q", name)
		}
	}
	return col, nil
}

func parseCSVRow(row []string, col csvColumns) (domain.Bar, error) {
	ts, err := time.Parse(time.RFC3339, row[col.timestamp])
	if err != nil {
		if unix, uerr := strconv.ParseInt(row[col.timestamp], 10, 64); uerr == nil {
			ts = time.Unix(unix, 0).UTC()
		} else {
			return domain.Bar{}, fmt.Errorf("parse timestamp %q: %w", row[col.timestamp], err)
		}
	}

	open, err := decimal.NewFromString(row[col.open])
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parse open: %w", err)
	}
	high, err := decimal.NewFromString(row[col.high])
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parse high: %w", err)
	}
	low, err := decimal.NewFromString(row[col.low])
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parse low: %w", err)
	}
	closePrice, err := decimal.NewFromString(row[col.close])
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parse close: %w", err)
	}
	volume, err := decimal.NewFromString(row[col.volume])
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parse volume: %w", err)
	}

	return domain.Bar{Timestamp: ts, Open: open, High: high, Low: low, Close: closePrice, Volume: volume}, nil
}

func (s *Store) updateMetadataLocked(symbol, timeframe string, bars []domain.Bar) {
	if len(bars) == 0 {
		return
	}
	s.metadata[s.key(symbol, timeframe)] = &SymbolMetadata{
		Symbol:    symbol,
		Timeframe: timeframe,
		StartDate: bars[0].Timestamp,
		EndDate:   bars[len(bars)-1].Timestamp,
		BarCount:  len(bars),
	}
	if err := s.saveMetadata(); err != nil {
		s.logger.Warn("failed to persist bar metadata", zap.Error(err))
	}
}

func (s *Store) loadMetadata() error {
	path := filepath.Join(s.dataDir, "metadata.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var metadata map[string]*SymbolMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return err
	}
	s.metadata = metadata
	return nil
}

func (s *Store) saveMetadata() error {
	path := filepath.Join(s.dataDir, "metadata.json")
	data, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
