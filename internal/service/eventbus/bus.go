package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PaperTrade/internal/domain/models"
	domrepo "PaperTrade/internal/domain/repository"
	domsvc "PaperTrade/internal/domain/service"
	applogger "PaperTrade/pkg/logger"

	"github.com/google/uuid"
)

// Handler receives events on the subscriber's own goroutine.
type Handler = domsvc.EventHandler

// Option configures Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber queue length.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

// WithHistorySize sets how many recent events are kept for inspection.
func WithHistorySize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.histSize = n
		}
	}
}

// WithMetrics records published and dropped events.
func WithMetrics(m domrepo.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithLogger sets the logger used for drops and handler panics.
func WithLogger(l *applogger.Logger) Option {
	return func(b *Bus) { b.l = l }
}

type subscription struct {
	id    int
	name  string
	types map[models.EventType]struct{}
	ch    chan models.Event
}

func (s *subscription) wants(t models.EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus is an in-process publish/subscribe channel scoped to one engine instance.
// Publish never blocks: a subscriber whose queue is full loses the event and the drop is counted.
type Bus struct {
	mu       sync.RWMutex
	subs     map[int]*subscription
	nextID   int
	closed   bool
	bufSize  int
	wg       sync.WaitGroup
	histMu   sync.Mutex
	history  []models.Event
	histSize int
	metrics  domrepo.Metrics
	l        *applogger.Logger
}

// New creates a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:     make(map[int]*subscription),
		bufSize:  256,
		histSize: 500,
		l:        applogger.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe runs h for every matching event (all events when types is empty).
// The returned func unsubscribes and waits for the handler goroutine to drain.
func (b *Bus) Subscribe(name string, h Handler, types ...models.EventType) func() {
	sub, ok := b.add(name, b.bufSize, types)
	if !ok {
		return func() {}
	}
	done := make(chan struct{})
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(done)
		for ev := range sub.ch {
			b.dispatch(name, h, ev)
		}
	}()
	return func() {
		b.remove(sub.id)
		<-done
	}
}

// SubscribeChan returns a raw channel of matching events. The channel is closed on unsubscribe or Close.
func (b *Bus) SubscribeChan(name string, buf int, types ...models.EventType) (<-chan models.Event, func()) {
	if buf <= 0 {
		buf = b.bufSize
	}
	sub, ok := b.add(name, buf, types)
	if !ok {
		ch := make(chan models.Event)
		close(ch)
		return ch, func() {}
	}
	return sub.ch, func() { b.remove(sub.id) }
}

func (b *Bus) add(name string, buf int, types []models.EventType) (*subscription, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	b.nextID++
	sub := &subscription{id: b.nextID, name: name, ch: make(chan models.Event, buf)}
	if len(types) > 0 {
		sub.types = make(map[models.EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	b.subs[sub.id] = sub
	return sub, true
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

func (b *Bus) dispatch(name string, h Handler, ev models.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.l.Error("event handler panic",
				applogger.String("subscriber", name),
				applogger.String("event", string(ev.Type)),
				applogger.Error(fmt.Errorf("%v", r)),
			)
		}
	}()
	h(context.Background(), ev)
}

// Publish delivers ev to every matching subscriber without blocking.
func (b *Bus) Publish(ev models.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.record(ev)
	for _, sub := range b.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			if b.metrics != nil {
				b.metrics.RecordEvent(ev.Type, true)
			}
			b.l.Warn("event dropped: subscriber queue full",
				applogger.String("subscriber", sub.name),
				applogger.String("event", string(ev.Type)),
			)
		}
	}
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.RecordEvent(ev.Type, false)
	}
}

// Emit builds and publishes an event.
func (b *Bus) Emit(t models.EventType, symbol string, payload any) {
	b.Publish(models.Event{Type: t, Symbol: symbol, Payload: payload})
}

func (b *Bus) record(ev models.Event) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	b.history = append(b.history, ev)
	if over := len(b.history) - b.histSize; over > 0 {
		b.history = append(b.history[:0:0], b.history[over:]...)
	}
}

// Recent returns up to limit of the newest events, newest last, optionally filtered by type.
func (b *Bus) Recent(limit int, types ...models.EventType) []models.Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	filter := make(map[models.EventType]struct{}, len(types))
	for _, t := range types {
		filter[t] = struct{}{}
	}
	out := make([]models.Event, 0, len(b.history))
	for _, ev := range b.history {
		if len(filter) > 0 {
			if _, ok := filter[ev.Type]; !ok {
				continue
			}
		}
		out = append(out, ev)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Close detaches every subscriber and waits for handler goroutines to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

var (
	_ domsvc.EventEmitter = (*Bus)(nil)
	_ domsvc.EventSource  = (*Bus)(nil)
)
