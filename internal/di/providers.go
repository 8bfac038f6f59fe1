package di

import (
	"context"
	"fmt"
	"time"

	"MTBridge/internal/domain/repository"
	"MTBridge/internal/handler/api"
	"MTBridge/internal/handler/ws"
	internalrepo "MTBridge/internal/repository"
	"MTBridge/internal/service/gateway"
	"MTBridge/internal/service/ratelimit"
	"MTBridge/internal/usecase"
	pkgcache "MTBridge/pkg/cache"
	pkgch "MTBridge/pkg/clickhouse"
	"MTBridge/pkg/config"
	xhttp "MTBridge/pkg/http"
	pkgkafka "MTBridge/pkg/kafka"
	applogger "MTBridge/pkg/logger"
	"MTBridge/pkg/metrics"
	"MTBridge/pkg/server"

	"github.com/segmentio/kafka-go"
)

// ProvideKafkaProducer creates the producer used by the log collector. It is
// nil when the collector is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Log.Collector.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger creates the application logger and attaches the log collector
// when a producer is available.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			Service:        "mtbridge-" + cfg.Environment,
			TimeInterval:   cfg.Log.Collector.FlushInterval,
			CountThreshold: cfg.Log.Collector.CountThreshold,
			Topic:          cfg.Log.Collector.Topic,
			Publisher:      producer,
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient connects to ClickHouse when it is the configured source.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Source.Type != "clickhouse" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	if cfg.ClickHouse.InitSchema {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.InitSchema(ctx, internalrepo.CandleSchema(cfg.ClickHouse.Database)); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return client, nil
}

// ProvideMemoryStore creates the in-process store fed from Kafka. It is nil
// for the other sources.
func ProvideMemoryStore(cfg *config.Config) *internalrepo.MemoryStore {
	if cfg.Source.Type != "kafka" {
		return nil
	}
	return internalrepo.NewMemoryStore(cfg.Kafka.MaxBars)
}

// ProvideCache creates the read-through cache: memory only, or memory in front
// of Redis when Redis is enabled. It is nil when caching is off.
func ProvideCache(cfg *config.Config) (pkgcache.Service, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	if !cfg.Redis.Enabled {
		return pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize)), nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		pkgcache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, 2, 0),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return pkgcache.NewLayeredCache(rc,
		pkgcache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize),
		pkgcache.WithLayeredMemoryTTL(cfg.Cache.CandleTTL),
	), nil
}

// ProvideMarketDataSource picks the source by type and puts the cache in front of it.
func ProvideMarketDataSource(
	cfg *config.Config,
	l *applogger.Logger,
	ch *pkgch.Client,
	mem *internalrepo.MemoryStore,
	cache pkgcache.Service,
) (repository.MarketDataSource, error) {
	var src repository.MarketDataSource
	switch cfg.Source.Type {
	case "gateway":
		src = gateway.New(cfg.Gateway.URL, cfg.Gateway.Timeout)
	case "clickhouse":
		if ch == nil {
			return nil, fmt.Errorf("clickhouse source without client")
		}
		store := internalrepo.NewCHCandleStore(ch, cfg.ClickHouse.Database)
		store.SetLogger(l)
		src = store
	case "kafka":
		if mem == nil {
			return nil, fmt.Errorf("kafka source without memory store")
		}
		// The feed already lands in memory; a cache in front would only add staleness.
		return mem, nil
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
	}

	if cache == nil {
		return src, nil
	}
	cs := internalrepo.NewCachedSource(src, cache, cfg.Cache.CandleTTL, cfg.Cache.QuoteTTL)
	cs.SetLogger(l)
	return cs, nil
}

func ProvideSubscriptionParser(cfg *config.Config) *usecase.SubscriptionParser {
	return usecase.NewSubscriptionParser(cfg.Stream.MaxCount)
}

func ProvidePayloadBuilder(cfg *config.Config, m repository.Metrics, l *applogger.Logger) *usecase.PayloadBuilder {
	b := usecase.NewPayloadBuilder(cfg.Stream.FetchTimeout, m)
	b.SetLogger(l)
	return b
}

func ProvideMessageLimiter(cfg *config.Config) usecase.MessageLimiter {
	return ratelimit.New(cfg.Stream.MessageBurst, cfg.Stream.MessageRate)
}

func ProvideStreamScheduler(
	cfg *config.Config,
	src repository.MarketDataSource,
	registry *usecase.SessionRegistry,
	builder *usecase.PayloadBuilder,
	parser *usecase.SubscriptionParser,
	m repository.Metrics,
	limiter usecase.MessageLimiter,
	l *applogger.Logger,
) *usecase.StreamScheduler {
	return usecase.NewStreamScheduler(src, registry, builder, parser, m,
		usecase.WithInterval(cfg.Stream.Interval),
		usecase.WithMaxParallel(cfg.Stream.MaxParallel),
		usecase.WithMessageLimiter(limiter),
		usecase.WithSchedulerLogger(l),
	)
}

func ProvideCandlesUseCase(src repository.MarketDataSource, cfg *config.Config) *usecase.CandlesUseCase {
	return usecase.NewCandlesUseCase(src, cfg.Stream.MaxCount)
}

func ProvideStreamHandler(cfg *config.Config, scheduler *usecase.StreamScheduler, l *applogger.Logger) *ws.StreamHandler {
	return ws.NewStreamHandler(scheduler, ws.Options{
		Path:            cfg.WebSocket.Path,
		SendBuffer:      cfg.WebSocket.SendBuffer,
		WriteWait:       cfg.WebSocket.WriteWait,
		PongWait:        cfg.WebSocket.PongWait,
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		AllowedOrigins:  cfg.WebSocket.AllowedOrigins,
	}, l)
}

func ProvideBridgeHandler(l *applogger.Logger, candles *usecase.CandlesUseCase, registry *usecase.SessionRegistry) *api.BridgeEchoHandler {
	return api.NewBridgeEchoHandler(l, candles, registry)
}

// ProvideHTTPServer builds the echo server with every route registered.
func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, stream *ws.StreamHandler, bridge *api.BridgeEchoHandler) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS, cfg.WebSocket.AllowedOrigins...),
		xhttp.WithLogger(l),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, nil, nil))
	}
	return xhttp.NewServer([]xhttp.Handler{stream, bridge}, opts...)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML. It is
// nil unless Kafka is the configured source.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger, m repository.Metrics) (*pkgkafka.Consumer, error) {
	if cfg.Source.Type != "kafka" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerStartOffset(cfg.Kafka.Consumer.StartOffset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.SetLogger(l)
	consumer.WithConsumerHook(pkgkafka.HookFuncs{
		Err: func(_ context.Context, topic string, km kafka.Message, _ []byte, err error) {
			m.RecordError("feed_dropped")
			l.Warn("feed message dropped",
				applogger.String("topic", topic),
				applogger.Int("partition", km.Partition),
				applogger.Int64("offset", km.Offset),
				applogger.Error(err),
			)
		},
	})
	return consumer, nil
}

// ProvideFeedHandler routes the feed topic into the memory store.
func ProvideFeedHandler(cfg *config.Config, mem *internalrepo.MemoryStore, m repository.Metrics) pkgkafka.MessageHandler {
	if mem == nil {
		return nil
	}
	return usecase.NewFeedHandler(cfg.Kafka.FeedTopic, mem, m)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	scheduler *usecase.StreamScheduler,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	feed pkgkafka.MessageHandler,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	cache pkgcache.Service,
) *server.App {
	app := server.New(cfg, l, scheduler, httpServer, consumer, feed)
	if producer != nil {
		app.SetProducer(producer)
	}
	if ch != nil {
		app.AddCloser("clickhouse", ch)
	}
	if cache != nil {
		app.AddCloser("cache", cache)
	}
	return app
}
