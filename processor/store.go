package processor

import (
	"sync"

	"spreadflow/models"
)

// BookSeries is the append-only sequence of book metric records shared by
// every book feed. Appends are serialized; insertion order is arrival
// order.
type BookSeries struct {
	mu      sync.RWMutex
	records []models.BookMetricRecord
}

// Append adds all records in one critical section so readers never see
// part of an update.
func (s *BookSeries) Append(records ...models.BookMetricRecord) {
	if len(records) == 0 {
		return
	}
	s.mu.Lock()
	s.records = append(s.records, records...)
	s.mu.Unlock()
}

func (s *BookSeries) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns a copy of the series.
func (s *BookSeries) Snapshot() []models.BookMetricRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.BookMetricRecord, len(s.records))
	copy(out, s.records)
	return out
}

// TradeSeries is the append-only sequence of trade records shared by every
// trade feed.
type TradeSeries struct {
	mu      sync.RWMutex
	records []models.TradeRecord
}

func (s *TradeSeries) Append(records ...models.TradeRecord) {
	if len(records) == 0 {
		return
	}
	s.mu.Lock()
	s.records = append(s.records, records...)
	s.mu.Unlock()
}

func (s *TradeSeries) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *TradeSeries) Snapshot() []models.TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TradeRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Store owns the two series for the lifetime of a run. It is created empty
// at startup and handed to every aggregator.
type Store struct {
	Book   *BookSeries
	Trades *TradeSeries
}

func NewStore() *Store {
	return &Store{
		Book:   &BookSeries{},
		Trades: &TradeSeries{},
	}
}
