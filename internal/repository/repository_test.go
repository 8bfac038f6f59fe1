package repository

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"MTBridge/internal/domain/models"
	pkgcache "MTBridge/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreUpsertAndOrder(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()

	s.PutBar("EURUSD", models.TFM1, models.Candle{Time: 120, Close: 2})
	s.PutBar("EURUSD", models.TFM1, models.Candle{Time: 60, Close: 1})
	s.PutBar("EURUSD", models.TFM1, models.Candle{Time: 180, Close: 3})
	s.PutBar("EURUSD", models.TFM1, models.Candle{Time: 120, Close: 2.5})

	got, err := s.GetCandles(ctx, "EURUSD", models.TFM1, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{60, 120, 180}, []int64{got[0].Time, got[1].Time, got[2].Time})
	assert.Equal(t, 2.5, got[1].Close, "same open time replaces")

	s.PutBar("EURUSD", models.TFM1, models.Candle{Time: 240})
	got, _ = s.GetCandles(ctx, "EURUSD", models.TFM1, 10)
	require.Len(t, got, 3, "bounded to maxBars")
	assert.Equal(t, int64(120), got[0].Time)

	got, _ = s.GetCandles(ctx, "EURUSD", models.TFM1, 2)
	assert.Equal(t, int64(180), got[0].Time)
	assert.Equal(t, int64(240), got[1].Time)

	got[0].Close = 99
	again, _ := s.GetCandles(ctx, "EURUSD", models.TFM1, 2)
	assert.NotEqual(t, 99.0, again[0].Close, "returned slice is a copy")

	got, err = s.GetCandles(ctx, "EURUSD", models.TFH1, 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestMemoryStoreQuote(t *testing.T) {
	s := NewMemoryStore(0)
	q, err := s.GetQuote(context.Background(), "X")
	require.NoError(t, err)
	assert.Nil(t, q)

	s.PutQuote("X", models.Quote{Ask: 2, Bid: 1})
	q, err = s.GetQuote(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, &models.Quote{Ask: 2, Bid: 1}, q)
}

type countingSource struct {
	candles []models.Candle
	quote   *models.Quote
	err     error
	calls   atomic.Int64
	health  error
}

func (c *countingSource) GetCandles(context.Context, string, models.Timeframe, int) ([]models.Candle, error) {
	c.calls.Add(1)
	return c.candles, c.err
}

func (c *countingSource) GetQuote(context.Context, string) (*models.Quote, error) {
	c.calls.Add(1)
	return c.quote, c.err
}

func (c *countingSource) Health(context.Context) error { return c.health }

func TestCachedSourceCandles(t *testing.T) {
	src := &countingSource{candles: []models.Candle{{Time: 60, Close: 1}}}
	cache := pkgcache.NewMemoryCache()
	defer cache.Close()
	cs := NewCachedSource(src, cache, time.Minute, time.Minute)
	ctx := context.Background()

	a, err := cs.GetCandles(ctx, "X", models.TFM1, 1)
	require.NoError(t, err)
	b, err := cs.GetCandles(ctx, "X", models.TFM1, 1)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, int64(1), src.calls.Load())

	_, _ = cs.GetCandles(ctx, "X", models.TFM1, 2)
	assert.Equal(t, int64(2), src.calls.Load(), "count is part of the key")
}

func TestCachedSourceExpiry(t *testing.T) {
	src := &countingSource{candles: []models.Candle{{Time: 60}}}
	cache := pkgcache.NewMemoryCache()
	defer cache.Close()
	cs := NewCachedSource(src, cache, 20*time.Millisecond, time.Minute)

	_, _ = cs.GetCandles(context.Background(), "X", models.TFM1, 1)
	time.Sleep(40 * time.Millisecond)
	_, _ = cs.GetCandles(context.Background(), "X", models.TFM1, 1)
	assert.Equal(t, int64(2), src.calls.Load())
}

func TestCachedSourceQuote(t *testing.T) {
	src := &countingSource{}
	cache := pkgcache.NewMemoryCache()
	defer cache.Close()
	cs := NewCachedSource(src, cache, time.Minute, time.Minute)
	ctx := context.Background()

	q, err := cs.GetQuote(ctx, "X")
	require.NoError(t, err)
	assert.Nil(t, q)
	_, _ = cs.GetQuote(ctx, "X")
	assert.Equal(t, int64(2), src.calls.Load(), "missing quotes are not cached")

	src.quote = &models.Quote{Ask: 1.5, Bid: 1.4}
	_, _ = cs.GetQuote(ctx, "X")
	q, err = cs.GetQuote(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, &models.Quote{Ask: 1.5, Bid: 1.4}, q)
	assert.Equal(t, int64(3), src.calls.Load())
}

func TestCachedSourceErrorsNotCached(t *testing.T) {
	boom := errors.New("boom")
	src := &countingSource{err: boom, health: boom}
	cache := pkgcache.NewMemoryCache()
	defer cache.Close()
	cs := NewCachedSource(src, cache, time.Minute, time.Minute)

	_, err := cs.GetCandles(context.Background(), "X", models.TFM1, 1)
	assert.ErrorIs(t, err, boom)
	_, err = cs.GetCandles(context.Background(), "X", models.TFM1, 1)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(2), src.calls.Load())
	assert.ErrorIs(t, cs.Health(context.Background()), boom)
}

func TestCandleSchema(t *testing.T) {
	stmts := CandleSchema("bridge")
	require.Len(t, stmts, 3)
	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS bridge", stmts[0])
	assert.True(t, strings.Contains(stmts[1], "bridge.bars"))
	assert.Contains(t, stmts[1], "ReplacingMergeTree")
	assert.Contains(t, stmts[2], "bridge.quotes")
}
