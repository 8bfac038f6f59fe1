package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DevConfigPath  = "config/config.dev.yaml"
	LiveConfigPath = "config/config.live.yaml"
)

type Config struct {
	Environment string `yaml:"environment" default:"dev" validate:"required"`
	Server      struct {
		Host            string        `yaml:"host" default:"127.0.0.1"`
		Port            int           `yaml:"port" default:"5100" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s" validate:"gt=0"`
		CORS            bool          `yaml:"cors" default:"true"`
	} `yaml:"server"`
	Log struct {
		Level     string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format    string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output    string `yaml:"output" default:"stdout" validate:"required"`
		Collector struct {
			Enabled        bool          `yaml:"enabled"`
			Topic          string        `yaml:"topic" default:"mtbridge.logs"`
			FlushInterval  time.Duration `yaml:"flush_interval" default:"30s"`
			CountThreshold int           `yaml:"count_threshold" default:"100" validate:"gte=1"`
		} `yaml:"collector"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Stream struct {
		Interval     time.Duration `yaml:"interval" default:"1s" validate:"gt=0"`
		FetchTimeout time.Duration `yaml:"fetch_timeout" default:"500ms" validate:"gt=0"`
		MaxParallel  int           `yaml:"max_parallel" default:"64" validate:"gte=1"`
		MaxCount     int           `yaml:"max_count" default:"5000" validate:"gte=1"`
		MessageBurst float64       `yaml:"message_burst" default:"5" validate:"gte=1"`
		MessageRate  float64       `yaml:"message_rate" default:"1" validate:"gt=0"`
	} `yaml:"stream"`
	WebSocket struct {
		Path            string        `yaml:"path" default:"/ws"`
		SendBuffer      int           `yaml:"send_buffer" default:"16" validate:"gte=1"`
		WriteWait       time.Duration `yaml:"write_wait" default:"2s" validate:"gt=0"`
		PongWait        time.Duration `yaml:"pong_wait" default:"60s" validate:"gt=0"`
		MaxMessageSize  int64         `yaml:"max_message_size" default:"65536" validate:"gte=512"`
		ReadBufferSize  int           `yaml:"read_buffer_size" default:"1024"`
		WriteBufferSize int           `yaml:"write_buffer_size" default:"4096"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"websocket"`
	Source struct {
		Type string `yaml:"type" default:"gateway" validate:"oneof=gateway clickhouse kafka"`
	} `yaml:"source"`
	Gateway struct {
		URL     string        `yaml:"url" default:"http://127.0.0.1:5200" validate:"url"`
		Timeout time.Duration `yaml:"timeout" default:"2s" validate:"gt=0"`
	} `yaml:"gateway"`
	Cache struct {
		Enabled       bool          `yaml:"enabled"`
		CandleTTL     time.Duration `yaml:"candle_ttl" default:"500ms"`
		QuoteTTL      time.Duration `yaml:"quote_ttl" default:"250ms"`
		MemoryMaxSize int           `yaml:"memory_max_size" default:"10000" validate:"gte=1"`
	} `yaml:"cache"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"mtbridge"`
		PoolSize int    `yaml:"pool_size" default:"10" validate:"gte=1"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		FeedTopic    string   `yaml:"feed_topic" default:"mt5.feed"`
		MaxBars      int      `yaml:"max_bars" default:"5000" validate:"gte=1"`
		RequiredAcks int      `yaml:"required_acks" default:"1"`
		Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"1s"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID     string        `yaml:"group_id" default:"mtbridge"`
			StartOffset string        `yaml:"start_offset" default:"latest" validate:"oneof=earliest latest"`
			Workers     int           `yaml:"workers" default:"1" validate:"gte=1"`
			BufferSize  int           `yaml:"buffer_size" default:"256"`
			RetryMax    int           `yaml:"retry_max" default:"3"`
			BackoffMin  time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax  time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic    string        `yaml:"dlq_topic"`
			MinBytes    int           `yaml:"min_bytes" default:"1"`
			MaxBytes    int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"mtbridge"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		InitSchema       bool          `yaml:"init_schema"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"5s"`
	} `yaml:"clickhouse"`
}

var validate = validator.New()

// ResolvePath picks the config file: an explicit path wins, otherwise the
// live or dev file depending on the live flag.
func ResolvePath(explicit string, live bool) string {
	if explicit != "" {
		return explicit
	}
	if live {
		return LiveConfigPath
	}
	return DevConfigPath
}

// Default returns a configuration populated with defaults only.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Parse decodes YAML over the defaults without validating.
func Parse(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

func parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("BRIDGE_SOURCE_TYPE"); v != "" {
		c.Source.Type = v
	}
	if v := getenv("BRIDGE_GATEWAY_URL"); v != "" {
		c.Gateway.URL = v
	}
	if v := getenv("BRIDGE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BRIDGE_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		host, port, err := net.SplitHostPort(v)
		if err != nil {
			return fmt.Errorf("REDIS_ADDR: %w", err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("REDIS_ADDR: %w", err)
		}
		c.Redis.Host, c.Redis.Port = host, p
		c.Redis.Enabled = true
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	switch c.Source.Type {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when source.type is kafka")
		}
		if c.Kafka.FeedTopic == "" {
			return fmt.Errorf("kafka.feed_topic is required when source.type is kafka")
		}
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required when source.type is clickhouse")
		}
	}
	if c.Log.Collector.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when log.collector is enabled")
	}
	if c.Redis.Enabled && !c.Cache.Enabled {
		return fmt.Errorf("redis.enabled requires cache.enabled")
	}
	return nil
}
