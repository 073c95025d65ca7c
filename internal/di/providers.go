package di

import (
	"context"
	"fmt"
	"time"

	"PaperTrade/internal/domain/models"
	domrepo "PaperTrade/internal/domain/repository"
	domsvc "PaperTrade/internal/domain/service"
	"PaperTrade/internal/handler/api"
	mid "PaperTrade/internal/middleware"
	internalrepo "PaperTrade/internal/repository"
	"PaperTrade/internal/service/eventbus"
	"PaperTrade/internal/service/ratelimit"
	"PaperTrade/internal/service/scheduler"
	"PaperTrade/internal/service/stream"
	"PaperTrade/internal/services/execution"
	"PaperTrade/internal/services/indicators"
	"PaperTrade/internal/services/risk"
	"PaperTrade/internal/services/signal"
	"PaperTrade/internal/services/trailing"
	"PaperTrade/internal/services/validator"
	"PaperTrade/internal/usecase"
	"PaperTrade/pkg/cache"
	pkgch "PaperTrade/pkg/clickhouse"
	"PaperTrade/pkg/config"
	xhttp "PaperTrade/pkg/http"
	pkgkafka "PaperTrade/pkg/kafka"
	applogger "PaperTrade/pkg/logger"
	"PaperTrade/pkg/metrics"
	"PaperTrade/pkg/server"
)

// maxFeedMessage bounds a single feed payload; larger messages go to the DLQ.
const maxFeedMessage = 64 << 10

var (
	_ risk.Portfolio         = (*execution.Engine)(nil)
	_ trailing.StopManager   = (*execution.Engine)(nil)
	_ usecase.Executor       = (*execution.Engine)(nil)
	_ usecase.SessionStarter = (*validator.Validator)(nil)
	_ usecase.RiskGate       = (*risk.Manager)(nil)
	_ api.Signals            = (*usecase.Trader)(nil)
)

// ProvideLogger builds the application logger. Error logs are aggregated to the log topic when Kafka is on.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if producer != nil && cfg.Kafka.LogTopic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.LogTopic,
			Publisher:      producer,
		})
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideCache layers an in-process cache over Redis when Redis is enabled.
func ProvideCache(cfg *config.Config) (domrepo.TTLCache, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(10000)), nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(20, 4, 4*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(rc, cache.WithLayeredMemorySize(2000), cache.WithLayeredMemoryTTL(2*time.Second)), nil
}

// ProvideClickHouseClient connects and migrates the archive schema. Nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ch := cfg.ClickHouse
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(ch.Host),
		pkgch.WithPort(ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout, ch.WriteTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.ArchiveSchema(client.Database())); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideArchive uses ClickHouse when connected, the local bolt file otherwise.
func ProvideArchive(cfg *config.Config, ch *pkgch.Client) (domrepo.Archive, error) {
	if ch != nil {
		return internalrepo.NewClickHouseArchive(ch.DB(), ch.Database()), nil
	}
	a, err := internalrepo.OpenBoltArchive(cfg.Bolt.Path)
	if err != nil {
		return nil, fmt.Errorf("bolt archive: %w", err)
	}
	return a, nil
}

// ProvideKafkaProducer creates a Kafka producer. Nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, cfg.Kafka.Producer.MaxAttempts, cfg.Kafka.Producer.Async),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventPublisher relays events to <prefix>.events, or drops them without a broker.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) domrepo.EventPublisher {
	if producer == nil {
		return internalrepo.NopEventPublisher{}
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.TopicPrefix+".events")
}

// ProvideKafkaConsumer creates the feed consumer. Nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset("latest"),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
		pkgkafka.WithConsumerFetch(c.MinBytes, c.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.MaxSizeHook(maxFeedMessage, l))
	return consumer, nil
}

// ProvideHTTPClient creates the outbound client for the market REST API.
func ProvideHTTPClient(cfg *config.Config) *xhttp.Client {
	return xhttp.NewClient(xhttp.WithTimeout(cfg.Market.RequestTimeout))
}

// ProvideMarketData creates the REST market data source.
func ProvideMarketData(cfg *config.Config, client *xhttp.Client, ttl domrepo.TTLCache, m domrepo.Metrics, l *applogger.Logger) *internalrepo.RestMarketData {
	return internalrepo.NewRestMarketData(internalrepo.RestMarketDataConfig{
		BaseURL:     cfg.Market.RestURL,
		CandleLimit: cfg.Market.CandleLimit,
		PriceTTL:    cfg.Market.PriceTTL,
	}, client, ttl, m, l.With(applogger.String("component", "market_data")))
}

func ProvideAnalyzer() domsvc.Analyzer {
	return indicators.NewTALib()
}

// ProvideATR reads ATR from the 1h timeframe.
func ProvideATR(cfg *config.Config, data domrepo.MarketData, analyzer domsvc.Analyzer) domsvc.ATRProvider {
	return indicators.NewMarketATR(data, analyzer, models.TF1h, cfg.Validation.Indicators)
}

func ProvideEventBus(cfg *config.Config, m domrepo.Metrics, l *applogger.Logger) *eventbus.Bus {
	return eventbus.New(
		eventbus.WithBufferSize(cfg.EventBus.BufferSize),
		eventbus.WithHistorySize(cfg.EventBus.HistorySize),
		eventbus.WithMetrics(m),
		eventbus.WithLogger(l.With(applogger.String("component", "eventbus"))),
	)
}

func ProvideScheduler(m domrepo.Metrics, l *applogger.Logger) *scheduler.Scheduler {
	return scheduler.New(l.With(applogger.String("component", "scheduler")), m)
}

func ProvideExecutionEngine(cfg *config.Config, data domrepo.MarketData, atr domsvc.ATRProvider, bus *eventbus.Bus, m domrepo.Metrics, l *applogger.Logger) *execution.Engine {
	return execution.New(cfg.Execution, l.With(applogger.String("component", "execution")),
		execution.WithMarketData(data),
		execution.WithATR(atr),
		execution.WithEvents(bus),
		execution.WithMetrics(m),
	)
}

func ProvideRiskManager(cfg *config.Config, engine *execution.Engine, bus *eventbus.Bus, m domrepo.Metrics, l *applogger.Logger) *risk.Manager {
	return risk.New(cfg.Risk, engine, l.With(applogger.String("component", "risk")),
		risk.WithEvents(bus),
		risk.WithMetrics(m),
	)
}

func ProvideTrailingEngine(cfg *config.Config, engine *execution.Engine, atr domsvc.ATRProvider, bus *eventbus.Bus, m domrepo.Metrics, l *applogger.Logger) (*trailing.Engine, error) {
	e, err := trailing.New(cfg.Trailing, engine, l.With(applogger.String("component", "trailing")),
		trailing.WithATR(atr),
		trailing.WithEvents(bus),
		trailing.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("trailing engine: %w", err)
	}
	return e, nil
}

func ProvideValidator(cfg *config.Config, data domrepo.MarketData, analyzer domsvc.Analyzer, ttl domrepo.TTLCache, bus *eventbus.Bus, m domrepo.Metrics, l *applogger.Logger) *validator.Validator {
	return validator.New(cfg.Validation, data, analyzer, l.With(applogger.String("component", "validator")),
		validator.WithCache(ttl),
		validator.WithEvents(bus),
		validator.WithMetrics(m),
	)
}

func ProvideAggregator(cfg *config.Config) *signal.Aggregator {
	return signal.NewAggregator(cfg.Signal)
}

func ProvideTrader(
	cfg *config.Config,
	data domrepo.MarketData,
	analyzer domsvc.Analyzer,
	agg *signal.Aggregator,
	sessions *validator.Validator,
	engine *execution.Engine,
	rm *risk.Manager,
	atr domsvc.ATRProvider,
	bus *eventbus.Bus,
	l *applogger.Logger,
) *usecase.Trader {
	return usecase.NewTrader(cfg.Trader, cfg.Market.Symbols, data, analyzer, cfg.Validation.Indicators,
		agg, sessions, engine, rm, l.With(applogger.String("component", "trader")),
		usecase.WithTraderATR(atr), usecase.WithTraderStops(cfg.Execution.FallbackStopPct, cfg.Execution.ATRMultiplier),
		usecase.WithTraderEvents(bus),
	)
}

func ProvideEventRelay(archive domrepo.Archive, pub domrepo.EventPublisher, m domrepo.Metrics, l *applogger.Logger) *usecase.EventRelay {
	return usecase.NewEventRelay(archive, pub, m, l.With(applogger.String("component", "relay")))
}

// ProvideSnapshotter keeps the cached snapshot alive across a few missed runs.
func ProvideSnapshotter(cfg *config.Config, engine *execution.Engine, archive domrepo.Archive, ttl domrepo.TTLCache, m domrepo.Metrics, l *applogger.Logger) *usecase.Snapshotter {
	return usecase.NewSnapshotter(engine, archive, ttl, m, 4*cfg.Schedule.Snapshot, l)
}

func ProvidePriceFeed(engine *execution.Engine, data *internalrepo.RestMarketData, m domrepo.Metrics) *usecase.PriceFeed {
	return usecase.NewPriceFeed(engine, data, m)
}

// ProvidePipeline sits between every tick source and the price feed.
func ProvidePipeline(cfg *config.Config, feed *usecase.PriceFeed, m domrepo.Metrics, l *applogger.Logger) *mid.RealtimePipeline {
	return mid.NewRealtimePipeline(feed, m,
		mid.WithMaxRPS(float64(cfg.Market.Stream.MaxRPS)),
		mid.WithBufferSize(cfg.Market.Stream.BufferSize),
		mid.WithPipelineLogger(l.With(applogger.String("component", "pipeline"))),
	)
}

// ProvideTickCollector connects the websocket ticker stream. Nil when the stream is disabled.
func ProvideTickCollector(cfg *config.Config, pipe *mid.RealtimePipeline, m domrepo.Metrics, l *applogger.Logger) *usecase.TickCollector {
	if !cfg.Market.Stream.Enabled {
		return nil
	}
	sl := l.With(applogger.String("component", "stream"))
	s := stream.New(stream.Config{
		URL:            cfg.Market.Stream.URL,
		Symbols:        cfg.Market.Symbols,
		ReconnectDelay: cfg.Market.Stream.ReconnectDelay,
		PingInterval:   cfg.Market.Stream.PingInterval,
		BufferSize:     cfg.Market.Stream.BufferSize,
	}, sl)
	return usecase.NewTickCollector(s, pipe, m, sl)
}

func ProvideFeedHandler(cfg *config.Config, pipe *mid.RealtimePipeline, m domrepo.Metrics) *usecase.MarketFeedHandler {
	return usecase.NewMarketFeedHandler(cfg.Kafka.FeedTopic, pipe, m)
}

func ProvideRateLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

func ProvideAPIHandler(
	engine *execution.Engine,
	sessions *validator.Validator,
	rm *risk.Manager,
	trail *trailing.Engine,
	bus *eventbus.Bus,
	trader *usecase.Trader,
	limiter *ratelimit.Limiter,
	l *applogger.Logger,
) *api.EngineEchoHandler {
	return api.NewEngineEchoHandler(l.With(applogger.String("component", "api")), api.Deps{
		Engine:   engine,
		Sessions: sessions,
		Risk:     rm,
		Trailing: trail,
		Events:   bus,
		Signals:  trader,
		Limiter:  limiter,
	})
}

// ProvideHTTPServer registers the API and the dependency checks behind /healthz.
func ProvideHTTPServer(cfg *config.Config, h *api.EngineEchoHandler, archive domrepo.Archive, ttl domrepo.TTLCache, l *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithLogger(l.With(applogger.String("component", "http"))),
		xhttp.WithHealthCheck("archive", archive.Health),
	}
	if p, ok := ttl.(interface{ Ping(context.Context) error }); ok {
		opts = append(opts, xhttp.WithHealthCheck("redis", p.Ping))
	}
	return xhttp.NewServer(h, opts...)
}

func ProvideApp(c server.Components) *server.App {
	return server.New(c)
}
