package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	domrepo "PaperTrade/internal/domain/repository"
	applogger "PaperTrade/pkg/logger"
)

var (
	ErrDuplicateTask   = errors.New("scheduler: task already registered")
	ErrInvalidInterval = errors.New("scheduler: interval must be positive")
	ErrStopped         = errors.New("scheduler: stopped")
)

// Task is one periodic unit of work. Errors are logged and the task keeps its schedule.
type Task func(ctx context.Context) error

// TaskOption configures a registered task.
type TaskOption func(*entry)

// RunImmediately runs the task once as soon as it starts, before the first tick.
func RunImmediately() TaskOption {
	return func(e *entry) { e.immediate = true }
}

// WithTimeout bounds a single run of the task.
func WithTimeout(d time.Duration) TaskOption {
	return func(e *entry) { e.timeout = d }
}

type entry struct {
	name      string
	interval  time.Duration
	fn        Task
	immediate bool
	timeout   time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
	runs      int
	failures  int
	lastRun   time.Time
	lastErr   error
}

// TaskInfo describes a registered task.
type TaskInfo struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Runs     int           `json:"runs"`
	Failures int           `json:"failures"`
	LastRun  time.Time     `json:"last_run"`
	LastErr  string        `json:"last_error,omitempty"`
}

// Scheduler runs named periodic tasks. Each task runs on its own goroutine and never overlaps itself.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	wg      sync.WaitGroup
	l       *applogger.Logger
	metrics domrepo.Metrics
}

// New creates a Scheduler. metrics may be nil.
func New(l *applogger.Logger, metrics domrepo.Metrics) *Scheduler {
	if l == nil {
		l = applogger.Nop()
	}
	return &Scheduler{tasks: make(map[string]*entry), l: l, metrics: metrics}
}

// Every registers fn to run every interval. Tasks added after Start begin right away.
func (s *Scheduler) Every(name string, interval time.Duration, fn Task, opts ...TaskOption) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}
	e := &entry{name: name, interval: interval, fn: fn}
	for _, opt := range opts {
		opt(e)
	}
	s.tasks[name] = e
	if s.started {
		s.launch(e)
	}
	return nil
}

// Start launches every registered task. Cancelling ctx stops them all.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	for _, e := range s.tasks {
		s.launch(e)
	}
	s.l.Info("scheduler started", applogger.Int("tasks", len(s.tasks)))
}

// launch must be called with s.mu held.
func (s *Scheduler) launch(e *entry) {
	ctx, cancel := context.WithCancel(s.ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	s.wg.Add(1)
	go s.loop(ctx, e)
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()
	defer close(e.done)

	if e.immediate {
		s.run(ctx, e)
	}
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, e)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, e *entry) {
	if ctx.Err() != nil {
		return
	}
	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.safeCall(runCtx, e)
	if s.metrics != nil {
		s.metrics.RecordLatency("task_"+e.name, time.Since(start).Seconds())
	}

	s.mu.Lock()
	e.runs++
	e.lastRun = start
	e.lastErr = err
	if err != nil {
		e.failures++
	}
	s.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		if s.metrics != nil {
			s.metrics.RecordError("task_" + e.name)
		}
		s.l.Error("scheduled task failed", applogger.String("task", e.name), applogger.Error(err))
	}
}

func (s *Scheduler) safeCall(ctx context.Context, e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", e.name, r)
		}
	}()
	return e.fn(ctx)
}

// Cancel stops and removes the named task, waiting for an in-flight run to finish.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	e, ok := s.tasks[name]
	if ok {
		delete(s.tasks, name)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
	return true
}

// Tasks lists registered tasks sorted by name.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, e := range s.tasks {
		info := TaskInfo{Name: e.name, Interval: e.interval, Runs: e.runs, Failures: e.failures, LastRun: e.lastRun}
		if e.lastErr != nil {
			info.LastErr = e.lastErr.Error()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop cancels every task and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.l.Info("scheduler stopped")
}
