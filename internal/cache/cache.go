// Package cache holds explicitly managed analysis results between runs.
// Nothing here is ambient: callers construct a Store, put results into it,
// and call Clear to reset. Tests can always start from a blank slate.
package cache

import (
	"sync"
	"time"

	"github.com/eddiefleurent/wheeltracker/internal/analytics"
	"github.com/eddiefleurent/wheeltracker/internal/forecast"
	"github.com/eddiefleurent/wheeltracker/internal/models"
	"github.com/eddiefleurent/wheeltracker/internal/validate"
)

// AnalysisSnapshot is one complete analysis output set.
type AnalysisSnapshot struct {
	Trades      []models.Trade                       `json:"trades"`
	Cycles      map[string][]*models.WheelCycle      `json:"cycles"`
	Analytics   map[string]*analytics.SymbolAnalytics `json:"analytics"`
	Statistics  *analytics.Statistics                `json:"statistics"`
	Validation  *validate.Report                     `json:"validation,omitempty"`
	Weekly      *forecast.Forecast                   `json:"weekly_forecast,omitempty"`
	Monthly     *forecast.Forecast                   `json:"monthly_forecast,omitempty"`
	ParseStats  ParseStats                           `json:"parse_stats"`
	GeneratedAt time.Time                            `json:"generated_at"`
}

// ParseStats surfaces ingestion data-quality counters alongside results.
type ParseStats struct {
	Skipped       int `json:"skipped"`
	DateFallbacks int `json:"date_fallbacks"`
	Duplicates    int `json:"duplicates"`
}

// Store is a goroutine-safe in-memory holder for the latest snapshot and a
// trade-ID index.
type Store struct {
	mu       sync.RWMutex
	trades   map[string]models.Trade
	snapshot *AnalysisSnapshot
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{trades: make(map[string]models.Trade)}
}

// PutTrades indexes trades by ID.
func (s *Store) PutTrades(trades []models.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range trades {
		s.trades[t.ID] = t
	}
}

// GetTrade looks a trade up by ID.
func (s *Store) GetTrade(id string) (models.Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[id]
	return t, ok
}

// TradeCount returns the number of indexed trades.
func (s *Store) TradeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trades)
}

// SetSnapshot stores the latest analysis snapshot.
func (s *Store) SetSnapshot(snap *AnalysisSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
}

// Snapshot returns the latest analysis snapshot, or nil when none was set.
func (s *Store) Snapshot() *AnalysisSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Clear resets the store to empty. This is the only cache invalidation path.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = make(map[string]models.Trade)
	s.snapshot = nil
}
