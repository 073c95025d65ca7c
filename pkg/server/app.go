package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	domrepo "PaperTrade/internal/domain/repository"
	mid "PaperTrade/internal/middleware"
	"PaperTrade/internal/service/eventbus"
	"PaperTrade/internal/service/ratelimit"
	"PaperTrade/internal/service/scheduler"
	"PaperTrade/internal/services/execution"
	"PaperTrade/internal/services/risk"
	"PaperTrade/internal/services/trailing"
	"PaperTrade/internal/services/validator"
	"PaperTrade/internal/usecase"
	pkgch "PaperTrade/pkg/clickhouse"
	"PaperTrade/pkg/config"
	xhttp "PaperTrade/pkg/http"
	pkgkafka "PaperTrade/pkg/kafka"
	applogger "PaperTrade/pkg/logger"
)

// limiterIdle is how long an API client bucket may sit unused before it is pruned.
const limiterIdle = 10 * time.Minute

// Components is everything the App drives. Optional parts are nil when disabled in config.
type Components struct {
	Config      *config.Config
	Logger      *applogger.Logger
	Bus         *eventbus.Bus
	Scheduler   *scheduler.Scheduler
	Engine      *execution.Engine
	Risk        *risk.Manager
	Trailing    *trailing.Engine
	Validator   *validator.Validator
	Trader      *usecase.Trader
	Relay       *usecase.EventRelay
	Snapshotter *usecase.Snapshotter
	Limiter     *ratelimit.Limiter
	Pipeline    *mid.RealtimePipeline
	Collector   *usecase.TickCollector
	Consumer    *pkgkafka.Consumer
	FeedHandler *usecase.MarketFeedHandler
	Publisher   domrepo.EventPublisher
	Archive     domrepo.Archive
	ClickHouse  *pkgch.Client
	Cache       domrepo.TTLCache
	HTTP        *xhttp.Server
}

// App encapsulates the entire application lifecycle.
type App struct {
	c      Components
	l      *applogger.Logger
	unsubs []func()
}

// New creates a new App instance with all dependencies.
func New(c Components) *App {
	l := c.Logger
	if l == nil {
		l = applogger.Nop()
	}
	return &App{c: c, l: l}
}

// Run starts every component and blocks until ctx is done or a shutdown signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.start(ctx); err != nil {
		_ = a.shutdown()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.l.Info("shutdown signal received", applogger.String("signal", sig.String()))
	case <-ctx.Done():
		a.l.Info("context done, shutting down")
	}
	cancel()
	return a.shutdown()
}

func (a *App) start(ctx context.Context) error {
	c := a.c
	cfg := c.Config

	a.unsubs = append(a.unsubs, c.Trailing.Subscribe(c.Bus), c.Relay.Subscribe(c.Bus), c.Risk.Subscribe(c.Bus))
	if cfg.Trader.Enabled && c.Trader != nil {
		a.unsubs = append(a.unsubs, c.Trader.Subscribe(c.Bus))
	}

	if err := a.registerTasks(); err != nil {
		return err
	}
	c.Pipeline.Start(ctx)
	c.Scheduler.Start(ctx)

	if c.Collector != nil {
		if err := c.Collector.Start(ctx); err != nil {
			// Prices fall back to REST lookups.
			a.l.Error("market stream start failed", applogger.Error(err))
		} else {
			a.l.Info("market stream started", applogger.Strings("symbols", cfg.Market.Symbols))
		}
	}

	if c.Consumer != nil && c.FeedHandler != nil {
		c.Consumer.RegisterHandler(c.FeedHandler)
		if err := c.Consumer.Start(); err != nil {
			return err
		}
		a.l.Info("feed consumer started", applogger.String("topic", c.FeedHandler.Topic()))
	}

	if err := c.HTTP.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}
	a.l.Info("papertrade engine running",
		applogger.String("env", cfg.Environment),
		applogger.Float64("balance", c.Engine.Account().Balance),
		applogger.Int("port", cfg.Server.Port),
	)
	return nil
}

func (a *App) registerTasks() error {
	c := a.c
	s := c.Config.Schedule
	type task struct {
		name     string
		interval time.Duration
		fn       scheduler.Task
		opts     []scheduler.TaskOption
	}
	tasks := []task{
		{"revalue", s.Revalue, c.Engine.Revalue, nil},
		{"trailing", s.Trailing, c.Trailing.Update, nil},
		{"risk", s.Risk, func(ctx context.Context) error {
			_, err := c.Risk.Check(ctx)
			return err
		}, []scheduler.TaskOption{scheduler.RunImmediately()}},
		{"snapshot", s.Snapshot, c.Snapshotter.Run, []scheduler.TaskOption{scheduler.RunImmediately()}},
		{"purge", s.Purge, a.purge, nil},
	}
	if c.Config.Trader.Enabled && c.Trader != nil {
		tasks = append(tasks, task{"analysis", c.Config.Trader.AnalysisInterval, c.Trader.AnalyzeAll, []scheduler.TaskOption{scheduler.RunImmediately()}})
	}
	for _, t := range tasks {
		if err := c.Scheduler.Every(t.name, t.interval, t.fn, t.opts...); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) purge(context.Context) error {
	sessions := a.c.Validator.Purge(time.Now())
	buckets := a.c.Limiter.Prune(limiterIdle)
	if sessions > 0 || buckets > 0 {
		a.l.Debug("purged", applogger.Int("sessions", sessions), applogger.Int("rate_buckets", buckets))
	}
	return nil
}

// shutdown stops producers of work first, then the sinks they feed.
func (a *App) shutdown() error {
	c := a.c
	timeout := c.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.l.Info("shutting down...")
	var errs []error

	if c.Collector != nil {
		if err := c.Collector.Shutdown(ctx); err != nil {
			a.l.Warn("market stream stop error", applogger.Error(err))
		}
	}
	if c.Consumer != nil {
		if err := c.Consumer.Stop(ctx); err != nil {
			a.l.Warn("feed consumer stop error", applogger.Error(err))
		}
	}
	c.Pipeline.Stop()
	c.Scheduler.Stop()
	c.Validator.Close()

	if err := c.HTTP.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}

	for _, unsub := range a.unsubs {
		unsub()
	}
	a.unsubs = nil
	c.Bus.Close()

	// The log collector ships through the producer owned by the publisher.
	a.l.RemoveCollector()
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			a.l.Warn("event publisher close error", applogger.Error(err))
		}
	}
	if c.Archive != nil {
		if err := c.Archive.Close(); err != nil {
			a.l.Warn("archive close error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if c.ClickHouse != nil {
		if err := c.ClickHouse.Close(); err != nil {
			a.l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if closer, ok := c.Cache.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.l.Warn("cache close error", applogger.Error(err))
		}
	}

	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}
