package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProducerConfig(t *testing.T) {
	cfg := defaultProducerConfig()
	assert.EqualError(t, cfg.validate(), "brokers are required")

	for _, opt := range []ProducerOption{
		WithBrokers([]string{"k1:9092"}),
		WithBatching(0, 4096, 0),
		WithMaxAttempts(0),
	} {
		opt(&cfg)
	}
	assert.NoError(t, cfg.validate())
	assert.Equal(t, 100, cfg.BatchSize, "zero keeps the default")
	assert.Equal(t, 4096, cfg.BatchBytes)
	assert.Equal(t, time.Second, cfg.Linger)
	assert.Equal(t, 3, cfg.MaxAttempts)

	WithRequiredAcks(2)(&cfg)
	assert.Error(t, cfg.validate())
}

func TestNewProducerRejectsMissingBrokers(t *testing.T) {
	_, err := NewProducer(WithCompression("lz4"))
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	for _, name := range []string{"", "none", "gzip", "snappy", "lz4", "zstd"} {
		_, err := parseCompression(name)
		assert.NoError(t, err, name)
	}
	_, err := parseCompression("brotli")
	assert.Error(t, err)
}

func TestEncodeValue(t *testing.T) {
	b, err := encodeValue("raw")
	assert.NoError(t, err)
	assert.Equal(t, []byte("raw"), b)

	b, err = encodeValue(map[string]int{"n": 1})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(b))

	_, err = encodeValue(make(chan int))
	assert.Error(t, err)
}
