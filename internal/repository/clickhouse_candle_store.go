package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"MTBridge/internal/domain/models"
	domrepo "MTBridge/internal/domain/repository"
	pkgch "MTBridge/pkg/clickhouse"
	applogger "MTBridge/pkg/logger"
)

// CHCandleStore implements MarketDataSource over bars and quotes mirrored into ClickHouse.
type CHCandleStore struct {
	ch       *pkgch.Client
	db       *sql.DB
	database string
	l        *applogger.Logger
	now      func() time.Time
}

func NewCHCandleStore(ch *pkgch.Client, database string) *CHCandleStore {
	return &CHCandleStore{ch: ch, db: ch.DB(), database: database, now: time.Now}
}

// SetLogger injects a structured logger.
func (s *CHCandleStore) SetLogger(l *applogger.Logger) { s.l = l }

// CandleSchema returns the idempotent DDL for the tables read by CHCandleStore.
func CandleSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.bars (
            symbol LowCardinality(String),
            timeframe LowCardinality(String),
            time DateTime,
            open Float64,
            high Float64,
            low Float64,
            close Float64,
            tick_volume UInt64
        ) ENGINE=ReplacingMergeTree ORDER BY (symbol, timeframe, time)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.quotes (
            symbol LowCardinality(String),
            ts DateTime64(3),
            ask Float64,
            bid Float64
        ) ENGINE=MergeTree ORDER BY (symbol, ts) TTL toDateTime(ts) + INTERVAL 1 DAY`, database),
	}
}

// GetCandles returns the latest count closed bars, oldest first. The bar still
// forming (open time + period in the future) is excluded.
func (s *CHCandleStore) GetCandles(ctx context.Context, symbol string, tf models.Timeframe, count int) ([]models.Candle, error) {
	start := time.Now()
	const qtpl = `
        SELECT time, open, high, low, close, tick_volume
        FROM %s.bars FINAL
        WHERE symbol = ? AND timeframe = ? AND time <= ?
        ORDER BY time DESC
        LIMIT ?
    `
	q := fmt.Sprintf(qtpl, s.database)
	closedBefore := s.now().UTC().Add(-tf.Duration())
	rows, err := s.db.QueryContext(ctx, q, symbol, tf.String(), closedBefore, count)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse latest_candles query error",
				applogger.String("symbol", symbol),
				applogger.String("tf", tf.String()),
				applogger.Int("limit", count),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("get latest candles: %w", err)
	}
	defer rows.Close()

	tmp := make([]models.Candle, 0, count)
	for rows.Next() {
		var (
			c   models.Candle
			t   time.Time
			vol uint64
		)
		if err := rows.Scan(&t, &c.Open, &c.High, &c.Low, &c.Close, &vol); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Time = t.Unix()
		c.TickVolume = int64(vol)
		tmp = append(tmp, c)
	}
	if err := rows.Err(); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse latest_candles rows error",
				applogger.String("symbol", symbol),
				applogger.String("tf", tf.String()),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("rows: %w", err)
	}
	// reverse to ASC
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	if s.l != nil {
		s.l.Debug("clickhouse latest_candles ok",
			applogger.String("symbol", symbol),
			applogger.String("tf", tf.String()),
			applogger.Int("rows", len(tmp)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return tmp, nil
}

func (s *CHCandleStore) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	q := fmt.Sprintf(`SELECT ask, bid FROM %s.quotes WHERE symbol = ? ORDER BY ts DESC LIMIT 1`, s.database)
	var quote models.Quote
	if err := s.db.QueryRowContext(ctx, q, symbol).Scan(&quote.Ask, &quote.Bid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get quote: %w", err)
	}
	return &quote, nil
}

func (s *CHCandleStore) Health(ctx context.Context) error { return s.ch.Health(ctx) }

var (
	_ domrepo.MarketDataSource = (*CHCandleStore)(nil)
	_ domrepo.HealthChecker    = (*CHCandleStore)(nil)
)
