package repository

import (
	"context"
	"sort"
	"sync"

	"MTBridge/internal/domain/models"
	domrepo "MTBridge/internal/domain/repository"
)

const defaultMaxBars = 5000

type seriesKey struct {
	symbol string
	tf     models.Timeframe
}

// MemoryStore keeps the most recent closed bars and the last quote per symbol,
// fed by the terminal push topic.
type MemoryStore struct {
	maxBars int

	mu     sync.RWMutex
	series map[seriesKey][]models.Candle
	quotes map[string]models.Quote
}

func NewMemoryStore(maxBars int) *MemoryStore {
	if maxBars < 1 {
		maxBars = defaultMaxBars
	}
	return &MemoryStore{
		maxBars: maxBars,
		series:  make(map[seriesKey][]models.Candle),
		quotes:  make(map[string]models.Quote),
	}
}

// PutBar inserts or replaces the bar with the same open time, keeping the series sorted.
func (s *MemoryStore) PutBar(symbol string, tf models.Timeframe, c models.Candle) {
	key := seriesKey{symbol: symbol, tf: tf}

	s.mu.Lock()
	defer s.mu.Unlock()

	bars := s.series[key]
	i := sort.Search(len(bars), func(i int) bool { return bars[i].Time >= c.Time })
	switch {
	case i < len(bars) && bars[i].Time == c.Time:
		bars[i] = c
	case i == len(bars):
		bars = append(bars, c)
	default:
		bars = append(bars, models.Candle{})
		copy(bars[i+1:], bars[i:])
		bars[i] = c
	}
	if len(bars) > s.maxBars {
		bars = append([]models.Candle(nil), bars[len(bars)-s.maxBars:]...)
	}
	s.series[key] = bars
}

func (s *MemoryStore) PutQuote(symbol string, q models.Quote) {
	s.mu.Lock()
	s.quotes[symbol] = q
	s.mu.Unlock()
}

func (s *MemoryStore) GetCandles(_ context.Context, symbol string, tf models.Timeframe, count int) ([]models.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bars := s.series[seriesKey{symbol: symbol, tf: tf}]
	if count > len(bars) {
		count = len(bars)
	}
	if count <= 0 {
		return []models.Candle{}, nil
	}
	out := make([]models.Candle, count)
	copy(out, bars[len(bars)-count:])
	return out, nil
}

func (s *MemoryStore) GetQuote(_ context.Context, symbol string) (*models.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

var _ domrepo.MarketDataSource = (*MemoryStore)(nil)
