package repository

import (
	"context"
	"errors"

	"MTBridge/internal/domain/models"
)

// ErrSymbolUnavailable is returned when the source has no data for a symbol.
var ErrSymbolUnavailable = errors.New("symbol unavailable")

// MarketDataSource is the read side of the trading terminal.
type MarketDataSource interface {
	// GetCandles returns up to count of the most recent CLOSED candles, oldest first.
	GetCandles(ctx context.Context, symbol string, tf models.Timeframe, count int) ([]models.Candle, error)
	// GetQuote returns the current quote, or nil when none is available.
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)
}

// HealthChecker is implemented by sources that can report connectivity.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ClientConn is the outbound half of a client transport.
// Send must not block; it fails when the connection is closed or backed up.
type ClientConn interface {
	Send(msg []byte) error
	Close() error
}

type Metrics interface {
	SetActiveSessions(n int)
	RecordPayloadSent(bytes int)
	RecordCandlesSent(tf string, n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
