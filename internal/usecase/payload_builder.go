package usecase

import (
	"context"
	"errors"
	"time"

	"MTBridge/internal/domain/models"
	domrepo "MTBridge/internal/domain/repository"
	applogger "MTBridge/pkg/logger"
)

// PayloadBuilder computes the per-symbol delta for one session on one tick.
type PayloadBuilder struct {
	fetchTimeout time.Duration
	metrics      domrepo.Metrics
	l            *applogger.Logger
}

func NewPayloadBuilder(fetchTimeout time.Duration, metrics domrepo.Metrics) *PayloadBuilder {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &PayloadBuilder{fetchTimeout: fetchTimeout, metrics: metrics}
}

// SetLogger injects a structured logger.
func (b *PayloadBuilder) SetLogger(l *applogger.Logger) { b.l = l }

// Build returns the payload for spec and the delivery states to commit if the
// payload is delivered. states is not modified.
//
// A timeframe carries candles when always_send is set or when its newest closed
// candle is strictly newer than the one last delivered; otherwise it is empty.
// Source failures degrade to an empty list or a null quote for that item only.
func (b *PayloadBuilder) Build(
	ctx context.Context,
	spec models.SubscriptionSpec,
	states models.DeliveryStates,
	src domrepo.MarketDataSource,
) (models.SymbolPayload, models.DeliveryStates) {
	next := states.Clone()
	out := models.SymbolPayload{
		Symbol:     spec.Symbol,
		HasLive:    spec.Live,
		Timeframes: make([]models.TimeframeCandles, 0, len(spec.Timeframes)),
	}

	if spec.Live {
		out.Live = b.quote(ctx, spec.Symbol, src)
	}

	for _, req := range spec.Timeframes {
		candles := b.candles(ctx, spec.Symbol, req, src)
		tc := models.TimeframeCandles{Timeframe: req.Timeframe, Candles: []models.Candle{}}
		if len(candles) == 0 {
			out.Timeframes = append(out.Timeframes, tc)
			continue
		}

		latest := newestTime(candles)
		prev, seen := states[req.Timeframe]
		newer := !seen || latest > prev
		if req.AlwaysSend || newer {
			tc.Candles = candles
		}
		if newer {
			next[req.Timeframe] = latest
		}
		out.Timeframes = append(out.Timeframes, tc)
	}
	return out, next
}

func (b *PayloadBuilder) quote(ctx context.Context, symbol string, src domrepo.MarketDataSource) *models.Quote {
	fctx, cancel := b.fetchContext(ctx)
	defer cancel()

	q, err := src.GetQuote(fctx, symbol)
	if err != nil {
		b.metrics.RecordError("source_quote")
		if b.l != nil {
			b.l.Warn("quote fetch failed",
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
		}
		return nil
	}
	return q
}

func (b *PayloadBuilder) candles(ctx context.Context, symbol string, req models.TimeframeRequest, src domrepo.MarketDataSource) []models.Candle {
	fctx, cancel := b.fetchContext(ctx)
	defer cancel()

	candles, err := src.GetCandles(fctx, symbol, req.Timeframe, req.Count)
	if errors.Is(err, domrepo.ErrSymbolUnavailable) {
		return nil
	}
	if err != nil {
		b.metrics.RecordError("source_candles")
		if b.l != nil {
			b.l.Warn("candles fetch failed",
				applogger.String("symbol", symbol),
				applogger.String("tf", req.Timeframe.String()),
				applogger.Int("count", req.Count),
				applogger.Error(err),
			)
		}
		return nil
	}
	if len(candles) > req.Count {
		candles = candles[len(candles)-req.Count:]
	}
	return candles
}

func (b *PayloadBuilder) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.fetchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.fetchTimeout)
}

func newestTime(candles []models.Candle) int64 {
	latest := candles[0].Time
	for _, c := range candles[1:] {
		if c.Time > latest {
			latest = c.Time
		}
	}
	return latest
}

type nopMetrics struct{}

func (nopMetrics) SetActiveSessions(int) {}
func (nopMetrics) RecordPayloadSent(int) {}
func (nopMetrics) RecordCandlesSent(string, int) {}
func (nopMetrics) RecordError(string) {}
func (nopMetrics) RecordLatency(string, float64) {}
