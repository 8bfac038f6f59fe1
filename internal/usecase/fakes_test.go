package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"MTBridge/internal/domain/models"
)

// fakeSource serves fixed series and quotes and counts reads.
type fakeSource struct {
	mu        sync.Mutex
	candles   map[string][]models.Candle
	quotes    map[string]*models.Quote
	candleErr error
	quoteErr  error

	candleCalls atomic.Int64
	quoteCalls  atomic.Int64
	block       chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		candles: make(map[string][]models.Candle),
		quotes:  make(map[string]*models.Quote),
	}
}

func seriesKey(symbol string, tf models.Timeframe) string { return symbol + "/" + string(tf) }

func (f *fakeSource) setCandles(symbol string, tf models.Timeframe, c ...models.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candles[seriesKey(symbol, tf)] = c
}

func (f *fakeSource) setQuote(symbol string, q *models.Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[symbol] = q
}

func (f *fakeSource) GetCandles(ctx context.Context, symbol string, tf models.Timeframe, count int) ([]models.Candle, error) {
	f.candleCalls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.candleErr != nil {
		return nil, f.candleErr
	}
	all := f.candles[seriesKey(symbol, tf)]
	if len(all) > count {
		all = all[len(all)-count:]
	}
	out := make([]models.Candle, len(all))
	copy(out, all)
	return out, nil
}

func (f *fakeSource) GetQuote(_ context.Context, symbol string) (*models.Quote, error) {
	f.quoteCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return f.quotes[symbol], nil
}

var errConnFull = errors.New("conn full")

// fakeConn records every message written to it.
type fakeConn struct {
	mu      sync.Mutex
	msgs    [][]byte
	sendErr error
	closed  bool
}

func (c *fakeConn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.msgs = append(c.msgs, append([]byte(nil), msg...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = string(m)
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) setSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// fakeMetrics counts calls by kind.
type fakeMetrics struct {
	mu       sync.Mutex
	errors   map[string]int
	sessions int
	payloads int
	candles  map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{errors: make(map[string]int), candles: make(map[string]int)}
}

func (m *fakeMetrics) SetActiveSessions(n int) {
	m.mu.Lock()
	m.sessions = n
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordPayloadSent(int) {
	m.mu.Lock()
	m.payloads++
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordCandlesSent(tf string, n int) {
	m.mu.Lock()
	m.candles[tf] += n
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordLatency(string, float64) {}

func (m *fakeMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func (m *fakeMetrics) activeSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions
}

// bars returns n consecutive candles of tf ending with open time last.
func bars(tf models.Timeframe, last int64, n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := 0; i < n; i++ {
		t := last - int64(n-1-i)*tf.Seconds()
		out[i] = models.Candle{Time: t, Open: 1, High: 2, Low: 0.5, Close: 1.5, TickVolume: int64(i + 1)}
	}
	return out
}

func mustSpec(symbol string, live bool, reqs ...models.TimeframeRequest) models.SubscriptionSpec {
	s := models.SubscriptionSpec{Symbol: symbol, Live: live}
	for _, r := range reqs {
		s.SetTimeframe(r)
	}
	return s
}

func tfReq(tf models.Timeframe, count int, always bool) models.TimeframeRequest {
	return models.TimeframeRequest{Timeframe: tf, Count: count, AlwaysSend: always}
}

func subscribeMsg(entries string) []byte {
	return []byte(fmt.Sprintf(`{"action":"subscribe","data":%s}`, entries))
}
