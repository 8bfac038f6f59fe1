//go:build wireinject
// +build wireinject

package di

import (
	"MTBridge/internal/usecase"
	"MTBridge/pkg/config"
	"MTBridge/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,

		// Market data
		ProvideClickHouseClient,
		ProvideMemoryStore,
		ProvideCache,
		ProvideMarketDataSource,

		// Streaming
		ProvideSubscriptionParser,
		ProvidePayloadBuilder,
		usecase.NewSessionRegistry,
		ProvideMessageLimiter,
		ProvideStreamScheduler,
		ProvideCandlesUseCase,

		// Transport
		ProvideStreamHandler,
		ProvideBridgeHandler,
		ProvideHTTPServer,
		ProvideKafkaConsumer,
		ProvideFeedHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
