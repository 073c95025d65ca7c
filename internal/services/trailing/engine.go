package trailing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"PaperTrade/internal/domain/models"
	domrepo "PaperTrade/internal/domain/repository"
	domsvc "PaperTrade/internal/domain/service"
	applogger "PaperTrade/pkg/logger"
)

// Source is the stop source name used for updates from this engine.
const Source = "trailing"

var (
	ErrUnknownPreset = errors.New("trailing: unknown preset")
	ErrNoInitialRisk = errors.New("trailing: position has no initial risk")
	ErrNotOpen       = errors.New("trailing: position not open")
	ErrNoContext     = errors.New("trailing: no context for position")
)

const defaultActivation = 2.0

// Config selects presets and fallbacks.
type Config struct {
	DefaultPreset  string                             `yaml:"default_preset" default:"atr"`
	AutoAttach     bool                               `yaml:"auto_attach" default:"true"`
	ATRFallbackPct float64                            `yaml:"atr_fallback_pct" default:"1" validate:"gt=0"`
	Presets        map[string]models.TrailingStrategy `yaml:"presets"`
}

// StopManager is the execution engine surface the trailing engine needs.
type StopManager interface {
	Position(id string) (models.Position, error)
	UpdateStopLoss(id string, stop float64, source string) (bool, error)
}

// Option configures Engine.
type Option func(*Engine)

func WithATR(p domsvc.ATRProvider) Option      { return func(e *Engine) { e.atr = p } }
func WithEvents(em domsvc.EventEmitter) Option { return func(e *Engine) { e.events = em } }
func WithMetrics(m domrepo.Metrics) Option     { return func(e *Engine) { e.metrics = m } }
func WithClock(now func() time.Time) Option    { return func(e *Engine) { e.now = now } }

// Engine keeps one trailing context per open position and ratchets stops as profit accrues.
type Engine struct {
	cfg      Config
	presets  map[string]models.TrailingStrategy
	mu       sync.Mutex
	contexts map[string]*models.TrailingContext
	stops    StopManager
	atr      domsvc.ATRProvider
	events   domsvc.EventEmitter
	metrics  domrepo.Metrics
	l        *applogger.Logger
	now      func() time.Time
}

// New creates a trailing engine. Configured presets are added to DefaultPresets, replacing same-named ones.
func New(cfg Config, stops StopManager, l *applogger.Logger, opts ...Option) (*Engine, error) {
	presets := DefaultPresets()
	for name, s := range cfg.Presets {
		presets[name] = s
	}
	for name, s := range presets {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("preset %s: %w", name, err)
		}
	}
	if cfg.DefaultPreset == "" {
		cfg.DefaultPreset = "atr"
	}
	if _, ok := presets[cfg.DefaultPreset]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPreset, cfg.DefaultPreset)
	}
	if cfg.ATRFallbackPct <= 0 {
		cfg.ATRFallbackPct = 1
	}
	if l == nil {
		l = applogger.Nop()
	}
	e := &Engine{
		cfg:      cfg,
		presets:  presets,
		contexts: make(map[string]*models.TrailingContext),
		stops:    stops,
		events:   domsvc.NopEmitter{},
		metrics:  domrepo.NopMetrics{},
		l:        l,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Presets returns the preset names, sorted.
func (e *Engine) Presets() []string {
	out := make([]string, 0, len(e.presets))
	for name := range e.presets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AttachPreset attaches the named preset; an empty name means the default preset.
func (e *Engine) AttachPreset(pos models.Position, name string) (models.TrailingContext, error) {
	if name == "" {
		name = e.cfg.DefaultPreset
	}
	s, ok := e.presets[name]
	if !ok {
		return models.TrailingContext{}, fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}
	return e.Attach(pos, s)
}

// Attach creates or replaces the trailing context of pos.
func (e *Engine) Attach(pos models.Position, s models.TrailingStrategy) (models.TrailingContext, error) {
	if err := s.Validate(); err != nil {
		return models.TrailingContext{}, err
	}
	if pos.Status != "" && pos.Status != models.PositionOpen {
		return models.TrailingContext{}, fmt.Errorf("attach %s: %w", pos.ID, ErrNotOpen)
	}
	initialStop := pos.InitialStopLoss
	if initialStop <= 0 {
		initialStop = pos.StopLoss
	}
	risk := math.Abs(pos.EntryPrice - initialStop)
	if initialStop <= 0 || risk <= 0 {
		return models.TrailingContext{}, fmt.Errorf("attach %s: %w", pos.ID, ErrNoInitialRisk)
	}
	if s.ActivationMultiple == 0 {
		s.ActivationMultiple = defaultActivation
	}
	if s.Breakeven.Mode == "" {
		s.Breakeven.Mode = models.BreakevenOff
	}
	tc := &models.TrailingContext{
		PositionID:            pos.ID,
		Symbol:                pos.Symbol,
		Direction:             pos.Direction,
		Strategy:              s,
		Status:                models.TrailingWaiting,
		EntryPrice:            pos.EntryPrice,
		InitialRisk:           risk,
		TriggerPrice:          pos.EntryPrice + pos.Direction.Sign()*s.ActivationMultiple*risk,
		HighestFavorablePrice: pos.EntryPrice,
		LastStop:              pos.StopLoss,
		UpdatedAt:             e.now().UTC(),
	}
	e.mu.Lock()
	e.contexts[pos.ID] = tc
	out := *tc
	e.mu.Unlock()

	e.l.Debug("trailing attached",
		applogger.String("id", pos.ID),
		applogger.String("kind", string(s.Kind)),
		applogger.Float64("trigger", out.TriggerPrice),
	)
	return out, nil
}

// Detach drops the context of a position.
func (e *Engine) Detach(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.contexts[id]; !ok {
		return false
	}
	delete(e.contexts, id)
	return true
}

// Context returns a copy of one context.
func (e *Engine) Context(id string) (models.TrailingContext, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tc, ok := e.contexts[id]
	if !ok {
		return models.TrailingContext{}, false
	}
	return *tc, true
}

// Contexts returns copies of every context, sorted by position id.
func (e *Engine) Contexts() []models.TrailingContext {
	e.mu.Lock()
	out := make([]models.TrailingContext, 0, len(e.contexts))
	for _, tc := range e.contexts {
		out = append(out, *tc)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PositionID < out[j].PositionID })
	return out
}

// Update evaluates every context. A failing position is logged and skipped.
func (e *Engine) Update(ctx context.Context) error {
	start := time.Now()
	defer func() { e.metrics.RecordLatency("trailing_update", time.Since(start).Seconds()) }()

	e.mu.Lock()
	ids := make([]string, 0, len(e.contexts))
	for id := range e.contexts {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.OnTick(ctx, id); err != nil {
			e.l.Warn("trailing update failed", applogger.String("id", id), applogger.Error(err))
		}
	}
	return nil
}

// OnTick evaluates one position against its latest mark.
func (e *Engine) OnTick(ctx context.Context, positionID string) error {
	pos, err := e.stops.Position(positionID)
	if err != nil {
		e.finish(positionID, models.TrailingDisabled)
		return err
	}
	price := pos.CurrentPrice
	if price <= 0 {
		return nil
	}

	e.mu.Lock()
	tc, ok := e.contexts[positionID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoContext, positionID)
	}
	if tc.Status == models.TrailingTriggered || tc.Status == models.TrailingDisabled {
		e.mu.Unlock()
		return nil
	}
	sign := tc.Direction.Sign()
	profit := (price - tc.EntryPrice) * sign
	if profit > tc.HighestProfit {
		tc.HighestProfit = profit
		tc.HighestFavorablePrice = price
	}
	activated := false
	if tc.Status == models.TrailingWaiting && profit >= tc.Strategy.ActivationMultiple*tc.InitialRisk {
		tc.Status = models.TrailingActive
		tc.ActivatedAt = e.now().UTC()
		activated = true
	}
	state := *tc
	e.mu.Unlock()

	if activated {
		e.l.Info("trailing activated", applogger.String("id", positionID), applogger.Float64("price", price))
		e.events.Emit(models.EventTrailingActivated, state.Symbol, models.TrailingPayload{Context: state})
	}

	current := pos.StopLoss
	bestStop, breakeven := 0.0, false
	if c, ok := breakevenStop(state, profit); ok && better(state.Direction, c, bestStop) {
		bestStop, breakeven = c, true
	}
	if state.Status == models.TrailingActive {
		atr := 0.0
		if needsATR(state.Strategy.Kind) {
			atr = e.currentATR(ctx, state.Symbol, price)
		}
		if c, ok := trailStop(state, atr, price); ok && better(state.Direction, c, bestStop) {
			bestStop, breakeven = c, false
		}
	}
	if bestStop <= 0 || (price-bestStop)*sign <= 0 || !better(state.Direction, bestStop, current) {
		return nil
	}

	moved, err := e.stops.UpdateStopLoss(positionID, bestStop, Source)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	e.mu.Lock()
	tc, ok = e.contexts[positionID]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	tc.LastStop = bestStop
	tc.Updates++
	tc.UpdatedAt = e.now().UTC()
	firstBreakeven := breakeven && !tc.BreakevenSet
	if breakeven {
		tc.BreakevenSet = true
	}
	state = *tc
	e.mu.Unlock()

	if firstBreakeven {
		e.l.Info("breakeven set", applogger.String("id", positionID), applogger.Float64("stop", bestStop))
		e.events.Emit(models.EventBreakevenSet, state.Symbol, models.TrailingPayload{Context: state})
	}
	return nil
}

func (e *Engine) currentATR(ctx context.Context, symbol string, price float64) float64 {
	if e.atr != nil {
		v, err := e.atr.ATR(ctx, symbol)
		if err == nil && v > 0 {
			return v
		}
		e.l.Debug("atr unavailable, using fallback", applogger.String("symbol", symbol), applogger.Error(err))
	}
	return price * e.cfg.ATRFallbackPct / 100
}

// finish marks a context terminal and removes it.
func (e *Engine) finish(id string, status models.TrailingStatus) {
	e.mu.Lock()
	tc, ok := e.contexts[id]
	if ok {
		tc.Status = status
		delete(e.contexts, id)
	}
	e.mu.Unlock()
	if ok {
		e.l.Debug("trailing finished", applogger.String("id", id), applogger.String("status", string(status)))
	}
}

// HandleEvent attaches the default preset on open and cleans up on close.
func (e *Engine) HandleEvent(_ context.Context, ev models.Event) {
	switch ev.Type {
	case models.EventPositionOpened:
		p, ok := ev.Payload.(models.PositionOpenedPayload)
		if !ok || !e.cfg.AutoAttach {
			return
		}
		if _, err := e.AttachPreset(p.Position, ""); err != nil {
			e.l.Warn("trailing attach failed", applogger.String("id", p.Position.ID), applogger.Error(err))
		}
	case models.EventPositionClosed:
		p, ok := ev.Payload.(models.PositionClosedPayload)
		if !ok {
			return
		}
		status := models.TrailingDisabled
		if tc, found := e.Context(p.Trade.PositionID); found && tc.Status == models.TrailingActive &&
			(p.Trade.CloseReason == models.CloseTrailingStop || p.Trade.CloseReason == models.CloseStopLoss) {
			status = models.TrailingTriggered
		}
		e.finish(p.Trade.PositionID, status)
	}
}

// Subscribe registers the engine on an event source.
func (e *Engine) Subscribe(src domsvc.EventSource) func() {
	return src.Subscribe("trailing", e.HandleEvent, models.EventPositionOpened, models.EventPositionClosed)
}
