package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	assert.Equal(t, DevConfigPath, ResolvePath("", false))
	assert.Equal(t, LiveConfigPath, ResolvePath("", true))
	assert.Equal(t, "x.yaml", ResolvePath("x.yaml", true))
}

func TestDefaults(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "127.0.0.1", c.Server.Host)
	assert.Equal(t, 5100, c.Server.Port)
	assert.True(t, c.Server.CORS)
	assert.Equal(t, time.Second, c.Stream.Interval)
	assert.Equal(t, 5000, c.Stream.MaxCount)
	assert.Equal(t, "/ws", c.WebSocket.Path)
	assert.Equal(t, "gateway", c.Source.Type)
	assert.False(t, c.Cache.Enabled)
}

func TestParseKeepsExplicitFalse(t *testing.T) {
	c, err := Parse([]byte("server:\n  cors: false\n  port: 6000\n"))
	require.NoError(t, err)
	assert.False(t, c.Server.CORS)
	assert.Equal(t, 6000, c.Server.Port)
	assert.Equal(t, "127.0.0.1", c.Server.Host, "unset keys keep defaults")
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [unclosed"))
	assert.Error(t, err)
}

func TestShippedConfigs(t *testing.T) {
	dev, err := Load(filepath.Join("..", "..", DevConfigPath))
	require.NoError(t, err)
	assert.Equal(t, "dev", dev.Environment)
	assert.Equal(t, "gateway", dev.Source.Type)
	assert.Equal(t, "debug", dev.Log.Level)

	live, err := Load(filepath.Join("..", "..", LiveConfigPath))
	require.NoError(t, err)
	assert.Equal(t, "live", live.Environment)
	assert.Equal(t, "kafka", live.Source.Type)
	assert.False(t, live.Server.CORS)
	assert.True(t, live.Redis.Enabled)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, live.Kafka.Brokers)
	assert.Equal(t, 15*time.Second, live.Server.ShutdownTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	env := map[string]string{
		"BRIDGE_SOURCE_TYPE": "kafka",
		"BRIDGE_GATEWAY_URL": "http://gw:9000",
		"BRIDGE_PORT":        "7000",
		"LOG_LEVEL":          "WARN",
		"KAFKA_BROKERS":      "a:9092,b:9092",
		"REDIS_ADDR":         "cache:6380",
	}
	require.NoError(t, c.applyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, "kafka", c.Source.Type)
	assert.Equal(t, "http://gw:9000", c.Gateway.URL)
	assert.Equal(t, 7000, c.Server.Port)
	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, []string{"a:9092", "b:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "cache", c.Redis.Host)
	assert.Equal(t, 6380, c.Redis.Port)
	assert.True(t, c.Redis.Enabled)
}

func TestApplyEnvErrors(t *testing.T) {
	for k, v := range map[string]string{"BRIDGE_PORT": "abc", "REDIS_ADDR": "no-port"} {
		c, _ := Default()
		err := c.applyEnv(func(key string) string {
			if key == k {
				return v
			}
			return ""
		})
		assert.Error(t, err, k)
	}
}

func TestLoadWithEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("source:\n  type: gateway\n"), 0o644))
	t.Setenv("BRIDGE_PORT", "5999")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, 5999, c.Server.Port)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"bad port":             func(c *Config) { c.Server.Port = 0 },
		"bad source":           func(c *Config) { c.Source.Type = "mt5" },
		"bad log level":        func(c *Config) { c.Log.Level = "trace" },
		"kafka without broker": func(c *Config) { c.Source.Type = "kafka" },
		"clickhouse no host":   func(c *Config) { c.Source.Type = "clickhouse" },
		"collector no broker":  func(c *Config) { c.Log.Collector.Enabled = true },
		"redis without cache":  func(c *Config) { c.Redis.Enabled = true },
		"zero interval":        func(c *Config) { c.Stream.Interval = 0 },
		"bad gateway url":      func(c *Config) { c.Gateway.URL = "not a url" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c, err := Default()
			require.NoError(t, err)
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
