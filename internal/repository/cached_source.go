package repository

import (
	"context"
	"errors"
	"time"

	"MTBridge/internal/domain/models"
	domrepo "MTBridge/internal/domain/repository"
	pkgcache "MTBridge/pkg/cache"
	applogger "MTBridge/pkg/logger"
)

// CachedSource shares source reads across bridge instances through a short-lived cache.
// A stale read only delays delivery by at most the TTL; it never causes a duplicate.
type CachedSource struct {
	src       domrepo.MarketDataSource
	cache     pkgcache.Service
	candleTTL time.Duration
	quoteTTL  time.Duration
	l         *applogger.Logger
}

func NewCachedSource(src domrepo.MarketDataSource, cache pkgcache.Service, candleTTL, quoteTTL time.Duration) *CachedSource {
	return &CachedSource{src: src, cache: cache, candleTTL: candleTTL, quoteTTL: quoteTTL}
}

// SetLogger injects a structured logger.
func (s *CachedSource) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CachedSource) GetCandles(ctx context.Context, symbol string, tf models.Timeframe, count int) ([]models.Candle, error) {
	key := pkgcache.GenerateKeyWithParams("candles", symbol, tf, count)

	var cached []models.Candle
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, pkgcache.ErrCacheMiss) {
		s.warn("cache get failed", key, err)
	}

	candles, err := s.src.GetCandles(ctx, symbol, tf, count)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, candles, s.candleTTL); err != nil {
		s.warn("cache set failed", key, err)
	}
	return candles, nil
}

// GetQuote caches only present quotes; a missing quote is re-read every time.
func (s *CachedSource) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	key := pkgcache.GenerateKeyWithParams("quote", symbol)

	var cached models.Quote
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, pkgcache.ErrCacheMiss) {
		s.warn("cache get failed", key, err)
	}

	q, err := s.src.GetQuote(ctx, symbol)
	if err != nil || q == nil {
		return q, err
	}
	if err := s.cache.Set(ctx, key, q, s.quoteTTL); err != nil {
		s.warn("cache set failed", key, err)
	}
	return q, nil
}

func (s *CachedSource) Health(ctx context.Context) error {
	if hc, ok := s.src.(domrepo.HealthChecker); ok {
		return hc.Health(ctx)
	}
	return nil
}

func (s *CachedSource) warn(msg, key string, err error) {
	if s.l != nil {
		s.l.Warn(msg, applogger.String("key", key), applogger.Error(err))
	}
}

var (
	_ domrepo.MarketDataSource = (*CachedSource)(nil)
	_ domrepo.HealthChecker    = (*CachedSource)(nil)
)
