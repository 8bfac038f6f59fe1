package usecase

import (
	"context"
	"fmt"
	"sync"

	"MTBridge/internal/domain/models"
	domrepo "MTBridge/internal/domain/repository"

	"golang.org/x/sync/singleflight"
)

// tickSource memoizes source reads for the duration of one tick, so sessions
// sharing a symbol and timeframe cause a single fetch. It is discarded after the tick.
type tickSource struct {
	src   domrepo.MarketDataSource
	group singleflight.Group

	mu      sync.Mutex
	candles map[string]candleResult
	quotes  map[string]quoteResult
}

type candleResult struct {
	candles []models.Candle
	err     error
}

type quoteResult struct {
	quote *models.Quote
	err   error
}

func newTickSource(src domrepo.MarketDataSource) *tickSource {
	return &tickSource{
		src:     src,
		candles: make(map[string]candleResult),
		quotes:  make(map[string]quoteResult),
	}
}

func (t *tickSource) GetCandles(ctx context.Context, symbol string, tf models.Timeframe, count int) ([]models.Candle, error) {
	key := fmt.Sprintf("candles:%s:%s:%d", symbol, tf, count)

	t.mu.Lock()
	r, ok := t.candles[key]
	t.mu.Unlock()
	if ok {
		return r.candles, r.err
	}

	v, err, _ := t.group.Do(key, func() (interface{}, error) {
		t.mu.Lock()
		r, ok := t.candles[key]
		t.mu.Unlock()
		if ok {
			return r.candles, r.err
		}
		candles, err := t.src.GetCandles(ctx, symbol, tf, count)
		t.mu.Lock()
		t.candles[key] = candleResult{candles: candles, err: err}
		t.mu.Unlock()
		return candles, err
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Candle), nil
}

func (t *tickSource) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	key := "quote:" + symbol

	t.mu.Lock()
	r, ok := t.quotes[key]
	t.mu.Unlock()
	if ok {
		return r.quote, r.err
	}

	v, err, _ := t.group.Do(key, func() (interface{}, error) {
		t.mu.Lock()
		r, ok := t.quotes[key]
		t.mu.Unlock()
		if ok {
			return r.quote, r.err
		}
		q, err := t.src.GetQuote(ctx, symbol)
		t.mu.Lock()
		t.quotes[key] = quoteResult{quote: q, err: err}
		t.mu.Unlock()
		return q, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Quote), nil
}

var _ domrepo.MarketDataSource = (*tickSource)(nil)
