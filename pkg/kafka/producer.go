package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	applogger "MTBridge/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// Producer publishes JSON messages. It ships the aggregated error logs.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := defaultProducerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	codec, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	bal := kafka.Balancer(&kafka.LeastBytes{})
	if cfg.HashByKey {
		bal = &kafka.Hash{}
	}
	initProducerMetricsOnce()
	return &Producer{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     bal,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  codec,
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		BatchSize:    cfg.BatchSize,
		BatchBytes:   int64(cfg.BatchBytes),
		BatchTimeout: cfg.Linger,
		Async:        cfg.Async,
	}}, nil
}

// Publish writes one message. value is sent as is when it is []byte or string
// and JSON encoded otherwise.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	v, err := encodeValue(value)
	if err != nil {
		return err
	}
	return p.write(ctx, topic, kafka.Message{Topic: topic, Key: key, Value: v, Time: time.Now()})
}

// PublishMessage implements logger.Publisher. A batch of aggregated log
// entries becomes one message per entry keyed by its caller.
func (p *Producer) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	entries, ok := payload.([]applogger.AggregatedLogEntry)
	if !ok {
		return p.Publish(ctx, topic, nil, payload)
	}
	if len(entries) == 0 {
		return nil
	}

	now := time.Now()
	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		v, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal log entry: %w", err)
		}
		msgs = append(msgs, kafka.Message{Topic: topic, Key: []byte(e.Caller), Value: v, Time: now})
	}
	return p.write(ctx, topic, msgs...)
}

func (p *Producer) write(ctx context.Context, topic string, msgs ...kafka.Message) error {
	start := time.Now()
	err := p.writer.WriteMessages(ctx, msgs...)

	result := "ok"
	if err != nil {
		result = "error"
	}
	var n int
	for _, m := range msgs {
		n += len(m.Value)
	}
	producerMessages.WithLabelValues(topic, result).Add(float64(len(msgs)))
	producerBytes.WithLabelValues(topic).Add(float64(n))
	producerLatency.WithLabelValues(topic).Observe(time.Since(start).Seconds())

	if err != nil {
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

func encodeValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return b, nil
}

func parseCompression(s string) (kafka.Compression, error) {
	switch s {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	}
	return 0, fmt.Errorf("unknown compression %q", s)
}

var (
	producerMetricsOnce sync.Once
	producerMessages    *prometheus.CounterVec
	producerBytes       *prometheus.CounterVec
	producerLatency     *prometheus.HistogramVec
)

func initProducerMetricsOnce() {
	producerMetricsOnce.Do(func() {
		f := promauto.With(metricsRegisterer)
		producerMessages = f.NewCounterVec(
			prometheus.CounterOpts{Name: "mtbridge_kafka_producer_messages_total", Help: "Messages written to Kafka"},
			[]string{"topic", "result"},
		)
		producerBytes = f.NewCounterVec(
			prometheus.CounterOpts{Name: "mtbridge_kafka_producer_bytes_total", Help: "Payload bytes written to Kafka"},
			[]string{"topic"},
		)
		producerLatency = f.NewHistogramVec(
			prometheus.HistogramOpts{Name: "mtbridge_kafka_producer_publish_seconds", Help: "Write latency", Buckets: prometheus.DefBuckets},
			[]string{"topic"},
		)
	})
}
