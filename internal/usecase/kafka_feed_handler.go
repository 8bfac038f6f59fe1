package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"MTBridge/internal/domain/models"
	domrepo "MTBridge/internal/domain/repository"
	pkgkafka "MTBridge/pkg/kafka"

	"github.com/go-playground/validator/v10"
)

// FeedWriter accepts closed bars and quotes pushed by the terminal.
type FeedWriter interface {
	PutBar(symbol string, tf models.Timeframe, c models.Candle)
	PutQuote(symbol string, q models.Quote)
}

// FeedHandler consumes the terminal feed topic and writes into a FeedWriter.
type FeedHandler struct {
	topic    string
	writer   FeedWriter
	metrics  domrepo.Metrics
	validate *validator.Validate
}

func NewFeedHandler(topic string, writer FeedWriter, metrics domrepo.Metrics) *FeedHandler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &FeedHandler{topic: topic, writer: writer, metrics: metrics, validate: validator.New()}
}

func (h *FeedHandler) Topic() string { return h.topic }

// Handle decodes one feed message. Malformed messages fail permanently so the
// consumer does not retry them.
//
// Message schema:
//
//	{"type":"bar","symbol":"EURUSD","timeframe":"M1","candle":{"time":..,"open":..,...}}
//	{"type":"quote","symbol":"EURUSD","ask":1.1,"bid":1.09}
func (h *FeedHandler) Handle(ctx context.Context, b []byte) error {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		h.metrics.RecordError("feed_unmarshal")
		return pkgkafka.Permanent(err)
	}

	switch env.Type {
	case "bar":
		return h.handleBar(ctx, b)
	case "quote":
		return h.handleQuote(ctx, b)
	default:
		h.metrics.RecordError("feed_type")
		return pkgkafka.Permanent(fmt.Errorf("unknown feed message type %q", env.Type))
	}
}

func (h *FeedHandler) handleBar(ctx context.Context, b []byte) error {
	var m models.Bar
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("feed_unmarshal")
		return pkgkafka.Permanent(err)
	}
	if err := h.validate.StructCtx(ctx, &m); err != nil {
		h.metrics.RecordError("feed_validate")
		return pkgkafka.Permanent(err)
	}
	tf, err := models.ParseTimeframe(m.Timeframe)
	if err != nil {
		h.metrics.RecordError("feed_validate")
		return pkgkafka.Permanent(err)
	}
	if m.Candle.Time > 1e11 { // ms
		m.Candle.Time = m.Candle.Time / 1000
	}
	// age of the bar close relative to now
	closeAt := m.Candle.OpenTime().Add(tf.Duration())
	h.metrics.RecordLatency("feed_bar_lag_seconds", time.Since(closeAt).Seconds())

	h.writer.PutBar(strings.ToUpper(m.Symbol), tf, m.Candle)
	return nil
}

func (h *FeedHandler) handleQuote(ctx context.Context, b []byte) error {
	var m models.QuoteTick
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("feed_unmarshal")
		return pkgkafka.Permanent(err)
	}
	if err := h.validate.StructCtx(ctx, &m); err != nil {
		h.metrics.RecordError("feed_validate")
		return pkgkafka.Permanent(err)
	}
	h.writer.PutQuote(strings.ToUpper(m.Symbol), models.Quote{Ask: m.Ask, Bid: m.Bid})
	return nil
}

var _ pkgkafka.MessageHandler = (*FeedHandler)(nil)
