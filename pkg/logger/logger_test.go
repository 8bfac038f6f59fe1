package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "info")
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("session subscribed", String("session", "abc"), Int("symbols", 2), Bool("live", true))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line), buf.String())
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "session subscribed", line["message"])
	assert.Equal(t, "abc", line["session"])
	assert.Equal(t, 2.0, line["symbols"])
	assert.Equal(t, true, line["live"])
}

func TestNewWithWriterInvalidLevel(t *testing.T) {
	_, err := NewWithWriter(&bytes.Buffer{}, "loud")
	assert.Error(t, err)
}

func TestNewFileOutput(t *testing.T) {
	path := t.TempDir() + "/logs/bridge.log"
	l, err := New(&Config{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)
	l.Warn("written")
	assert.FileExists(t, path)
}

type recordingPublisher struct {
	mu      sync.Mutex
	topics  []string
	batches [][]AggregatedLogEntry
}

func (p *recordingPublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *recordingPublisher) snapshot() ([]string, [][]AggregatedLogEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...), append([][]AggregatedLogEntry(nil), p.batches...)
}

func TestCollectorAggregatesDuplicates(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "logs", Publisher: pub})

	c.AddLog("error", "fetch failed", map[string]interface{}{"symbol": "EURUSD"}, "x.go:1")
	c.AddLog("error", "fetch failed", map[string]interface{}{"symbol": "EURUSD"}, "x.go:1")
	c.AddLog("error", "fetch failed", map[string]interface{}{"symbol": "GBPUSD"}, "x.go:1")
	c.Close()

	require.Eventually(t, func() bool {
		topics, _ := pub.snapshot()
		return len(topics) == 1
	}, time.Second, 5*time.Millisecond)

	topics, batches := pub.snapshot()
	assert.Equal(t, "logs", topics[0])
	require.Len(t, batches[0], 2)
	counts := map[interface{}]int{}
	for _, e := range batches[0] {
		counts[e.Fields["symbol"]] = e.Count
	}
	assert.Equal(t, map[interface{}]int{"EURUSD": 2, "GBPUSD": 1}, counts)
}

func TestLoggerErrorGoesToCollector(t *testing.T) {
	pub := &recordingPublisher{}
	l, err := NewWithWriter(&bytes.Buffer{}, "info")
	require.NoError(t, err)
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 1, Topic: "logs", Publisher: pub})
	defer l.RemoveCollector()

	l.Warn("not collected")
	l.Error("source down", Error(errors.New("dial tcp")))

	require.Eventually(t, func() bool {
		_, batches := pub.snapshot()
		return len(batches) == 1
	}, time.Second, 5*time.Millisecond)
	_, batches := pub.snapshot()
	require.Len(t, batches[0], 1)
	assert.Equal(t, "source down", batches[0][0].Message)
	assert.Equal(t, "error", batches[0][0].Level)
}
