package usecase

import (
	"context"
	"fmt"
	"strings"

	"MTBridge/internal/domain/models"
	domrepo "MTBridge/internal/domain/repository"
)

// CandlesUseCase serves one-shot candle snapshots from the market data source.
type CandlesUseCase struct {
	source   domrepo.MarketDataSource
	maxCount int
}

func NewCandlesUseCase(source domrepo.MarketDataSource, maxCount int) *CandlesUseCase {
	if maxCount < 1 {
		maxCount = DefaultMaxCount
	}
	return &CandlesUseCase{source: source, maxCount: maxCount}
}

type GetCandlesParams struct {
	Symbol    string
	Timeframe models.Timeframe
	Count     int
}

func (uc *CandlesUseCase) GetCandles(ctx context.Context, p GetCandlesParams) (*models.CandlesResponse, error) {
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if !p.Timeframe.IsValid() {
		return nil, &models.UnknownTimeframeError{Name: p.Timeframe.String()}
	}
	if p.Count < 1 {
		p.Count = 1
	}
	if p.Count > uc.maxCount {
		p.Count = uc.maxCount
	}

	candles, err := uc.source.GetCandles(ctx, p.Symbol, p.Timeframe, p.Count)
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}
	if candles == nil {
		candles = []models.Candle{}
	}

	return &models.CandlesResponse{
		Symbol:    p.Symbol,
		Timeframe: p.Timeframe.String(),
		Count:     len(candles),
		Candles:   candles,
	}, nil
}

// Timeframes lists the supported timeframes with their length.
func (uc *CandlesUseCase) Timeframes() []models.TimeframeInfo {
	all := models.AllTimeframes()
	out := make([]models.TimeframeInfo, 0, len(all))
	for _, tf := range all {
		out = append(out, models.TimeframeInfo{Name: tf.String(), Seconds: tf.Seconds()})
	}
	return out
}

// SourceHealthy reports whether the source answers its health probe.
// Sources without a probe are assumed healthy.
func (uc *CandlesUseCase) SourceHealthy(ctx context.Context) bool {
	hc, ok := uc.source.(domrepo.HealthChecker)
	if !ok {
		return true
	}
	return hc.Health(ctx) == nil
}
