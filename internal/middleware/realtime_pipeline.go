package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"PaperTrade/internal/domain/models"
	domrepo "PaperTrade/internal/domain/repository"
	applogger "PaperTrade/pkg/logger"

	"golang.org/x/time/rate"
)

var ErrInvalidTick = errors.New("invalid tick")

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, t *models.Tick) error
}

// RealtimePipeline sits between the live feeds and the engine.
// It validates and throttles ticks per symbol, and buffers them while downstream fails.
type RealtimePipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	l       *applogger.Logger
	maxRPS  float64
	bufSize int
	bufCh   chan *models.Tick

	mu       sync.Mutex
	stopCh   chan struct{}
	done     chan struct{}
	started  bool
	limiters map[string]*rate.Limiter

	transform func(*models.Tick) *models.Tick
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the max ticks per second per symbol. Zero disables throttling.
func WithMaxRPS(n float64) PipelineOption {
	return func(p *RealtimePipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the retry buffer size used while downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform sets a hook applied to every valid tick before throttling.
func WithTransform(fn func(*models.Tick) *models.Tick) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *RealtimePipeline) {
		if l != nil {
			p.l = l
		}
	}
}

// NewRealtimePipeline creates a new pipeline. metrics may be nil.
func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	p := &RealtimePipeline{
		proc:     proc,
		metrics:  metrics,
		l:        applogger.Nop(),
		maxRPS:   20,
		bufSize:  1000,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Tick, p.bufSize)
	return p
}

// Start launches background flushing of buffered ticks.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stopCh, p.done
	p.mu.Unlock()

	go p.flush(ctx, stop, done)
}

func (p *RealtimePipeline) flush(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	backoff := 50 * time.Millisecond
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case t := <-p.bufCh:
			if err := p.proc.Process(ctx, t); err != nil {
				p.metrics.RecordError("pipeline_flush")
				if backoff < 2*time.Second {
					backoff *= 2
				}
				select {
				case <-time.After(backoff):
				case <-stop:
					return
				case <-ctx.Done():
					return
				}
				p.enqueue(t)
				continue
			}
			backoff = 50 * time.Millisecond
		}
	}
}

// Stop stops the background flushing and waits for it to exit. Buffered ticks are dropped.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()
	<-done
	if n := len(p.bufCh); n > 0 {
		p.l.Info("pipeline stopped with buffered ticks", applogger.Int("dropped", n))
	}
}

// Process validates, throttles and forwards a tick, buffering it when downstream fails.
// Throttled ticks are dropped silently.
func (p *RealtimePipeline) Process(ctx context.Context, t *models.Tick) error {
	start := time.Now()
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		t = p.transform(t)
		if err := validateTick(t); err != nil {
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}
	if !p.allow(t.Symbol) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.proc.Process(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_process")
		p.enqueue(t)
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

// Buffered returns the number of ticks waiting for retry.
func (p *RealtimePipeline) Buffered() int { return len(p.bufCh) }

func (p *RealtimePipeline) enqueue(t *models.Tick) {
	select {
	case p.bufCh <- t:
	default:
		p.metrics.RecordError("pipeline_buffer_full")
	}
}

func validateTick(t *models.Tick) error {
	switch {
	case t == nil:
		return fmt.Errorf("%w: nil", ErrInvalidTick)
	case t.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidTick)
	case t.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidTick)
	case t.Price <= 0 || math.IsNaN(t.Price) || math.IsInf(t.Price, 0):
		return fmt.Errorf("%w: price %v", ErrInvalidTick, t.Price)
	case t.Volume < 0:
		return fmt.Errorf("%w: negative volume", ErrInvalidTick)
	}
	return nil
}

func (p *RealtimePipeline) allow(symbol string) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	lim, ok := p.limiters[symbol]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(p.maxRPS), int(math.Max(1, p.maxRPS)))
		p.limiters[symbol] = lim
	}
	p.mu.Unlock()
	return lim.Allow()
}
