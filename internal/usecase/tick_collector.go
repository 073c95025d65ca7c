package usecase

import (
	"context"
	"sync"
	"time"

	"PaperTrade/internal/domain/models"
	drepo "PaperTrade/internal/domain/repository"
	applogger "PaperTrade/pkg/logger"
)

// TickCollector pumps ticks from the live market stream into a processor.
type TickCollector struct {
	stream  drepo.MarketStream
	sink    TickProcessor
	metrics drepo.Metrics
	l       *applogger.Logger

	reconnectDelay time.Duration
	wg             sync.WaitGroup
}

// NewTickCollector creates a new TickCollector instance.
func NewTickCollector(stream drepo.MarketStream, sink TickProcessor, metrics drepo.Metrics, l *applogger.Logger) *TickCollector {
	if metrics == nil {
		metrics = drepo.NopMetrics{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &TickCollector{stream: stream, sink: sink, metrics: metrics, l: l, reconnectDelay: 5 * time.Second}
}

// IsConnected returns true if the market stream is connected.
func (c *TickCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *TickCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	tickCh, errCh := c.stream.Read(ctx)
	c.wg.Add(1)
	go c.consume(ctx, tickCh, errCh)
	return nil
}

func (c *TickCollector) consume(ctx context.Context, tickCh <-chan *models.Tick, errCh <-chan error) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				return
			}
			if err == nil {
				continue
			}
			c.metrics.RecordError("stream")
			c.l.Warn("market stream error, reconnecting", applogger.Error(err))
			if rerr := c.stream.Reconnect(ctx); rerr != nil {
				c.l.Error("market stream reconnect failed", applogger.Error(rerr))
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.reconnectDelay):
				}
			}
		case t, ok := <-tickCh:
			if !ok {
				return
			}
			if t == nil {
				continue
			}
			if err := c.sink.Process(ctx, t); err != nil {
				c.l.Debug("tick not applied", applogger.String("symbol", t.Symbol), applogger.Error(err))
			}
		}
	}
}

// Shutdown closes the stream and waits for the consumer loop.
func (c *TickCollector) Shutdown(ctx context.Context) error {
	err := c.stream.Close()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
