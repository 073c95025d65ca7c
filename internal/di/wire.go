//go:build wireinject
// +build wireinject

package di

import (
	domrepo "PaperTrade/internal/domain/repository"
	internalrepo "PaperTrade/internal/repository"
	"PaperTrade/pkg/config"
	"PaperTrade/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure
		ProvideCache,
		ProvideClickHouseClient,
		ProvideArchive,
		ProvideEventPublisher,
		ProvideKafkaConsumer,
		ProvideHTTPClient,
		ProvideMarketData,
		wire.Bind(new(domrepo.MarketData), new(*internalrepo.RestMarketData)),

		// Engine
		ProvideAnalyzer,
		ProvideATR,
		ProvideEventBus,
		ProvideScheduler,
		ProvideExecutionEngine,
		ProvideRiskManager,
		ProvideTrailingEngine,
		ProvideValidator,
		ProvideAggregator,

		// Use cases
		ProvideTrader,
		ProvideEventRelay,
		ProvideSnapshotter,
		ProvidePriceFeed,
		ProvidePipeline,
		ProvideTickCollector,
		ProvideFeedHandler,

		// Transport
		ProvideRateLimiter,
		ProvideAPIHandler,
		ProvideHTTPServer,

		// Application server
		wire.Struct(new(server.Components), "*"),
		ProvideApp,
	)
	return &server.App{}, nil
}
