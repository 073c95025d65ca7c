package validator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"PaperTrade/internal/domain/models"
	domrepo "PaperTrade/internal/domain/repository"
	domsvc "PaperTrade/internal/domain/service"
	"PaperTrade/pkg/cache"
	applogger "PaperTrade/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound  = errors.New("validation session not found")
	ErrInvalidDirection = errors.New("validation target must be long or short")
	ErrInvalidSymbol    = errors.New("validation symbol is empty")
	ErrSessionFinished  = errors.New("validation session already finished")
	ErrClosed           = errors.New("validator closed")
)

const cachePrefix = "validation"

// Config tunes the confirmation protocol.
type Config struct {
	Mode                  models.ValidationMode      `yaml:"mode" default:"sequential" validate:"oneof=sequential consensus"`
	RequiredConfirmations int                        `yaml:"required_confirmations" default:"2" validate:"gte=1,lte=3"`
	Window1h              time.Duration              `yaml:"window_1h" default:"4h"`
	Window15m             time.Duration              `yaml:"window_15m" default:"1h"`
	Poll4h                time.Duration              `yaml:"poll_4h" default:"15m"`
	Poll1h                time.Duration              `yaml:"poll_1h" default:"5m"`
	Poll15m               time.Duration              `yaml:"poll_15m" default:"1m"`
	AgreementThreshold    float64                    `yaml:"agreement_threshold" default:"0.5" validate:"gt=0,lte=1"`
	ThresholdPassRatio    float64                    `yaml:"threshold_pass_ratio" default:"0.8" validate:"gt=0,lte=1"`
	Retention             time.Duration              `yaml:"retention" default:"1h"`
	Thresholds            models.TimeframeThresholds `yaml:"thresholds" default:"{\"4h\":1.5,\"1h\":1.0,\"15m\":0.5}"`
	Indicators            models.IndicatorParams     `yaml:"indicators"`
}

// Option configures Validator.
type Option func(*Validator)

func WithCache(c domrepo.TTLCache) Option      { return func(v *Validator) { v.cache = c } }
func WithEvents(em domsvc.EventEmitter) Option { return func(v *Validator) { v.events = em } }
func WithMetrics(m domrepo.Metrics) Option     { return func(v *Validator) { v.metrics = m } }
func WithClock(now func() time.Time) Option    { return func(v *Validator) { v.now = now } }

type session struct {
	s         models.ValidationSession
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}
}

// Validator runs candidate signals through staged multi-timeframe confirmation.
// Each session runs on its own goroutine and is cancellable on its own.
type Validator struct {
	cfg      Config
	data     domrepo.MarketData
	analyzer domsvc.Analyzer
	cache    domrepo.TTLCache
	events   domsvc.EventEmitter
	metrics  domrepo.Metrics
	l        *applogger.Logger
	now      func() time.Time

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	byID   map[string]*session
}

// New creates a validator.
func New(cfg Config, data domrepo.MarketData, analyzer domsvc.Analyzer, l *applogger.Logger, opts ...Option) *Validator {
	if cfg.Mode == "" {
		cfg.Mode = models.ModeSequential
	}
	if cfg.RequiredConfirmations <= 0 {
		cfg.RequiredConfirmations = 2
	}
	if cfg.AgreementThreshold <= 0 {
		cfg.AgreementThreshold = 0.5
	}
	if cfg.ThresholdPassRatio <= 0 {
		cfg.ThresholdPassRatio = 0.8
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	if l == nil {
		l = applogger.Nop()
	}
	base, stop := context.WithCancel(context.Background())
	v := &Validator{
		cfg:      cfg,
		data:     data,
		analyzer: analyzer,
		events:   domsvc.NopEmitter{},
		metrics:  domrepo.NopMetrics{},
		l:        l,
		now:      time.Now,
		base:     base,
		stop:     stop,
		byID:     make(map[string]*session),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Start opens a session for symbol and direction and begins validating it in the background.
// The session outlives ctx; use Cancel to stop it.
func (v *Validator) Start(ctx context.Context, symbol string, direction models.Direction) (models.ValidationSession, error) {
	if symbol == "" {
		return models.ValidationSession{}, ErrInvalidSymbol
	}
	if !direction.IsTradable() {
		return models.ValidationSession{}, fmt.Errorf("%w: %q", ErrInvalidDirection, direction)
	}
	if err := ctx.Err(); err != nil {
		return models.ValidationSession{}, err
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return models.ValidationSession{}, ErrClosed
	}
	sctx, cancel := context.WithCancel(v.base)
	sess := &session{
		s: models.ValidationSession{
			ID:              uuid.NewString(),
			Symbol:          symbol,
			TargetDirection: direction,
			Mode:            v.cfg.Mode,
			State:           models.SessionPending,
			StartedAt:       v.now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	v.byID[sess.s.ID] = sess
	v.setStateLocked(sess, models.SessionValidating, "")
	snap := sess.s.Clone()
	v.wg.Add(1)
	v.mu.Unlock()

	v.persist(snap)
	v.l.Info("validation started",
		applogger.String("id", snap.ID),
		applogger.String("symbol", symbol),
		applogger.String("direction", string(direction)),
		applogger.String("mode", string(snap.Mode)),
	)
	go v.run(sctx, sess)
	return snap, nil
}

func (v *Validator) run(ctx context.Context, sess *session) {
	defer v.wg.Done()
	defer sess.cancel()

	var (
		state  models.SessionState
		reason string
	)
	switch sess.s.Mode {
	case models.ModeConsensus:
		state, reason = v.runConsensus(ctx, sess)
	default:
		state, reason = v.runSequential(ctx, sess)
	}
	v.finish(sess, state, reason)
}

func (v *Validator) runSequential(ctx context.Context, sess *session) (models.SessionState, string) {
	symbol, target := sess.s.Symbol, sess.s.TargetDirection

	res, err := v.evaluate(ctx, symbol, target, models.TF4h)
	if err != nil {
		if ctx.Err() != nil {
			return v.interrupted(sess)
		}
		v.l.Warn("4h evaluation failed", applogger.String("id", sess.s.ID), applogger.Error(err))
		return models.SessionRejected, models.ReasonDataError
	}
	res.Polls = 1
	v.record(sess, res)
	if !res.Confirmed {
		return models.SessionRejected, fmt.Sprintf(models.ReasonStageFailed, models.TF4h)
	}

	stages := []struct {
		tf       models.Timeframe
		duration time.Duration
		poll     time.Duration
	}{
		{models.TF1h, v.cfg.Window1h, v.cfg.Poll1h},
		{models.TF15m, v.cfg.Window15m, v.cfg.Poll15m},
	}
	for _, st := range stages {
		outcome := v.window(ctx, sess, st.tf, st.duration, st.poll)
		switch outcome {
		case outcomeConfirmed:
			continue
		case outcomeTimeout:
			return models.SessionRejected, models.ReasonWindowTimeout
		default:
			return v.interrupted(sess)
		}
	}
	return models.SessionConfirmed, ""
}

func (v *Validator) runConsensus(ctx context.Context, sess *session) (models.SessionState, string) {
	symbol, target := sess.s.Symbol, sess.s.TargetDirection
	series, err := v.data.GetMultiTimeframeData(ctx, symbol, models.AnalysisTimeframes)
	if err != nil {
		if ctx.Err() != nil {
			return v.interrupted(sess)
		}
		v.l.Warn("consensus data fetch failed", applogger.String("id", sess.s.ID), applogger.Error(err))
		return models.SessionRejected, models.ReasonDataError
	}
	agreed := 0
	for _, tf := range models.AnalysisTimeframes {
		res := v.confirm(series[tf], target, tf)
		res.Polls = 1
		v.record(sess, res)
		if res.Confirmed {
			agreed++
		}
	}
	if agreed >= v.cfg.RequiredConfirmations {
		return models.SessionConfirmed, ""
	}
	return models.SessionRejected, models.ReasonNoConsensus
}

// interrupted maps a cancelled session context to its terminal state.
func (v *Validator) interrupted(sess *session) (models.SessionState, string) {
	v.mu.Lock()
	cancelled := sess.cancelled
	v.mu.Unlock()
	if cancelled {
		return models.SessionRejected, models.ReasonCancelled
	}
	return models.SessionExpired, models.ReasonShutdown
}

type windowOutcome string

const (
	outcomeConfirmed windowOutcome = "confirmed"
	outcomeTimeout   windowOutcome = "timeout"
	outcomeCancelled windowOutcome = "cancelled"
)

// window polls tf until it confirms, the deadline passes or ctx ends. The first poll is immediate.
func (v *Validator) window(ctx context.Context, sess *session, tf models.Timeframe, duration, poll time.Duration) windowOutcome {
	if poll <= 0 {
		poll = time.Minute
	}
	if duration <= 0 {
		duration = poll
	}
	opened := v.now().UTC()
	v.mu.Lock()
	sess.s.Windows = append(sess.s.Windows, models.MonitoringWindow{
		Timeframe: tf, Duration: duration, PollInterval: poll, OpenedAt: opened, Deadline: opened.Add(duration),
	})
	idx := len(sess.s.Windows) - 1
	snap := sess.s.Clone()
	v.mu.Unlock()
	v.persist(snap)

	deadline := time.NewTimer(duration)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	polls := 0
	closeWindow := func(o windowOutcome) windowOutcome {
		v.mu.Lock()
		w := &sess.s.Windows[idx]
		w.ClosedAt = v.now().UTC()
		w.Polls = polls
		w.Outcome = string(o)
		v.mu.Unlock()
		return o
	}

	for {
		if ctx.Err() != nil {
			return closeWindow(outcomeCancelled)
		}
		polls++
		res, err := v.evaluate(ctx, sess.s.Symbol, sess.s.TargetDirection, tf)
		switch {
		case err != nil && ctx.Err() != nil:
			return closeWindow(outcomeCancelled)
		case err != nil:
			v.l.Warn("validation poll failed, retrying next tick",
				applogger.String("id", sess.s.ID), applogger.String("timeframe", string(tf)), applogger.Error(err))
		default:
			res.Polls = polls
			v.record(sess, res)
			if res.Confirmed {
				return closeWindow(outcomeConfirmed)
			}
		}

		select {
		case <-ctx.Done():
			return closeWindow(outcomeCancelled)
		case <-deadline.C:
			return closeWindow(outcomeTimeout)
		case <-ticker.C:
		}
	}
}

func (v *Validator) evaluate(ctx context.Context, symbol string, target models.Direction, tf models.Timeframe) (models.TimeframeResult, error) {
	series, err := v.data.GetMultiTimeframeData(ctx, symbol, []models.Timeframe{tf})
	if err != nil {
		return models.TimeframeResult{}, fmt.Errorf("fetch %s %s: %w", symbol, tf, err)
	}
	return v.confirm(series[tf], target, tf), nil
}

func (v *Validator) confirm(candles []models.Candle, target models.Direction, tf models.Timeframe) models.TimeframeResult {
	r := v.analyzer.Analyze(candles, tf, v.cfg.Indicators)
	r.Timeframe = tf
	res := Confirm(r, target, v.cfg.Thresholds.For(tf), v.cfg.AgreementThreshold, v.cfg.ThresholdPassRatio)
	res.EvaluatedAt = v.now().UTC()
	return res
}

// record stores the latest result for its timeframe.
func (v *Validator) record(sess *session, res models.TimeframeResult) {
	v.mu.Lock()
	replaced := false
	for i := range sess.s.Results {
		if sess.s.Results[i].Timeframe == res.Timeframe {
			sess.s.Results[i] = res
			replaced = true
			break
		}
	}
	if !replaced {
		sess.s.Results = append(sess.s.Results, res)
	}
	v.mu.Unlock()
}

// setStateLocked must be called with v.mu held. Disallowed transitions are logged and ignored.
func (v *Validator) setStateLocked(sess *session, to models.SessionState, reason string) bool {
	from := sess.s.State
	if !CanTransition(from, to) {
		v.l.Error("illegal validation transition",
			applogger.String("id", sess.s.ID), applogger.String("from", string(from)), applogger.String("to", string(to)))
		return false
	}
	sess.s.State = to
	if reason != "" {
		sess.s.Reason = reason
	}
	if to.IsTerminal() {
		sess.s.EndedAt = v.now().UTC()
	}
	return true
}

func (v *Validator) finish(sess *session, state models.SessionState, reason string) {
	v.mu.Lock()
	ok := v.setStateLocked(sess, state, reason)
	snap := sess.s.Clone()
	v.mu.Unlock()
	if !ok {
		return
	}
	close(sess.done)

	v.persist(snap)
	v.metrics.RecordValidation(state)
	v.l.Info("validation finished",
		applogger.String("id", snap.ID),
		applogger.String("symbol", snap.Symbol),
		applogger.String("state", string(state)),
		applogger.String("reason", reason),
	)
	v.events.Emit(models.EventValidationCompleted, snap.Symbol, models.ValidationCompletedPayload{Session: snap})
}

func (v *Validator) persist(s models.ValidationSession) {
	if v.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := v.cache.Set(ctx, cacheKey(s.ID), s, v.cfg.Retention); err != nil {
		v.l.Warn("cache session snapshot failed", applogger.String("id", s.ID), applogger.Error(err))
	}
}

func cacheKey(id string) string { return cache.GenerateKey(cachePrefix, id) }

// Cancel stops a running session. It ends rejected with reason cancelled within one poll.
func (v *Validator) Cancel(id string) error {
	v.mu.Lock()
	sess, ok := v.byID[id]
	if !ok {
		v.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", id, ErrSessionNotFound)
	}
	if sess.s.State.IsTerminal() {
		v.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", id, ErrSessionFinished)
	}
	sess.cancelled = true
	v.mu.Unlock()
	sess.cancel()
	return nil
}

// Wait blocks until the session is terminal or ctx ends.
func (v *Validator) Wait(ctx context.Context, id string) (models.ValidationSession, error) {
	v.mu.Lock()
	sess, ok := v.byID[id]
	v.mu.Unlock()
	if !ok {
		return models.ValidationSession{}, fmt.Errorf("wait %s: %w", id, ErrSessionNotFound)
	}
	select {
	case <-sess.done:
	case <-ctx.Done():
		return models.ValidationSession{}, ctx.Err()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return sess.s.Clone(), nil
}

// Get returns a session from memory, falling back to its cached snapshot.
func (v *Validator) Get(ctx context.Context, id string) (models.ValidationSession, error) {
	v.mu.Lock()
	sess, ok := v.byID[id]
	if ok {
		out := sess.s.Clone()
		v.mu.Unlock()
		return out, nil
	}
	v.mu.Unlock()
	if v.cache != nil {
		var s models.ValidationSession
		if err := v.cache.Get(ctx, cacheKey(id), &s); err == nil && s.ID == id {
			return s, nil
		}
	}
	return models.ValidationSession{}, fmt.Errorf("get %s: %w", id, ErrSessionNotFound)
}

// Active returns non-terminal sessions, oldest first.
func (v *Validator) Active() []models.ValidationSession {
	return v.list(func(s models.ValidationSession) bool { return !s.State.IsTerminal() })
}

// All returns every retained session, oldest first.
func (v *Validator) All() []models.ValidationSession {
	return v.list(func(models.ValidationSession) bool { return true })
}

// ActiveFor reports whether symbol has a running session.
func (v *Validator) ActiveFor(symbol string) bool {
	return len(v.list(func(s models.ValidationSession) bool { return s.Symbol == symbol && !s.State.IsTerminal() })) > 0
}

func (v *Validator) list(keep func(models.ValidationSession) bool) []models.ValidationSession {
	v.mu.Lock()
	out := make([]models.ValidationSession, 0, len(v.byID))
	for _, sess := range v.byID {
		if keep(sess.s) {
			out = append(out, sess.s.Clone())
		}
	}
	v.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Purge drops terminal sessions that ended more than the retention window before now, and
// expires running sessions that outlived every monitoring window plus retention.
func (v *Validator) Purge(now time.Time) int {
	maxLife := v.cfg.Window1h + v.cfg.Window15m + v.cfg.Retention
	var stale []*session
	removed := 0

	v.mu.Lock()
	for id, sess := range v.byID {
		switch {
		case sess.s.State.IsTerminal():
			if now.Sub(sess.s.EndedAt) >= v.cfg.Retention {
				delete(v.byID, id)
				removed++
			}
		case now.Sub(sess.s.StartedAt) >= maxLife:
			stale = append(stale, sess)
		}
	}
	v.mu.Unlock()

	for _, sess := range stale {
		sess.cancel()
	}
	if removed > 0 {
		v.l.Debug("validation sessions purged", applogger.Int("count", removed))
	}
	return removed
}

// Close expires every running session and waits for them to stop.
func (v *Validator) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()
	v.stop()
	v.wg.Wait()
}
