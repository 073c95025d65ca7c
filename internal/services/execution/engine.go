package execution

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"PaperTrade/internal/domain/models"
	domrepo "PaperTrade/internal/domain/repository"
	domsvc "PaperTrade/internal/domain/service"
	applogger "PaperTrade/pkg/logger"

	"github.com/google/uuid"
)

// Config holds account and fill parameters.
type Config struct {
	InitialBalance  float64              `yaml:"initial_balance" default:"10000" validate:"gt=0"`
	MaxLeverage     float64              `yaml:"max_leverage" default:"20" validate:"gte=1"`
	Fees            models.FeeSchedule   `yaml:"fees"`
	Slippage        models.SlippageModel `yaml:"slippage"`
	MaxPositionPct  float64              `yaml:"max_position_pct" default:"60" validate:"gt=0,lte=100"`
	ATRMultiplier   float64              `yaml:"atr_multiplier" default:"2" validate:"gt=0"`
	FallbackStopPct float64              `yaml:"fallback_stop_pct" default:"2" validate:"gt=0,lt=100"`
	RewardRatio     float64              `yaml:"reward_ratio" default:"2" validate:"gt=0"`
	MaintenanceRate float64              `yaml:"maintenance_rate" default:"0.005" validate:"gte=0,lt=1"`
	// Basic trailing runs on every revaluation, independent of the trailing engine.
	BasicTrailing         bool          `yaml:"basic_trailing" default:"true"`
	TrailingActivationPct float64       `yaml:"trailing_activation_pct" default:"1"`
	TrailingDistancePct   float64       `yaml:"trailing_distance_pct" default:"0.5"`
	ConflictWindow        time.Duration `yaml:"conflict_window" default:"1s"`
	HistorySize           int           `yaml:"history_size" default:"500" validate:"gt=0"`
}

// Option configures Engine collaborators.
type Option func(*Engine)

func WithMarketData(m domrepo.MarketData) Option { return func(e *Engine) { e.market = m } }
func WithATR(p domsvc.ATRProvider) Option        { return func(e *Engine) { e.atr = p } }
func WithEvents(em domsvc.EventEmitter) Option   { return func(e *Engine) { e.events = em } }
func WithMetrics(m domrepo.Metrics) Option       { return func(e *Engine) { e.metrics = m } }
func WithClock(now func() time.Time) Option      { return func(e *Engine) { e.now = now } }

type stopSubmission struct {
	source string
	value  float64
	at     time.Time
}

// Engine owns the paper account and its positions. All mutation goes through its mutex;
// events are emitted after the lock is released.
type Engine struct {
	cfg Config

	mu          sync.RWMutex
	initial     float64
	balance     float64
	margin      float64
	positions   map[string]*models.Position
	history     []models.TradeRecord
	stats       models.AccountStats
	blocked     bool
	blockReason string
	marks       map[string]float64
	lastStop    map[string]stopSubmission

	market  domrepo.MarketData
	atr     domsvc.ATRProvider
	events  domsvc.EventEmitter
	metrics domrepo.Metrics
	l       *applogger.Logger
	now     func() time.Time
}

// New creates an engine with a fresh account.
func New(cfg Config, l *applogger.Logger, opts ...Option) *Engine {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 500
	}
	if cfg.MaxLeverage < 1 {
		cfg.MaxLeverage = 1
	}
	if cfg.MaxPositionPct <= 0 {
		cfg.MaxPositionPct = 100
	}
	if cfg.FallbackStopPct <= 0 {
		cfg.FallbackStopPct = 2
	}
	if cfg.ATRMultiplier <= 0 {
		cfg.ATRMultiplier = 2
	}
	if cfg.RewardRatio <= 0 {
		cfg.RewardRatio = 2
	}
	if l == nil {
		l = applogger.Nop()
	}
	e := &Engine{
		cfg:       cfg,
		positions: make(map[string]*models.Position),
		marks:     make(map[string]float64),
		lastStop:  make(map[string]stopSubmission),
		events:    domsvc.NopEmitter{},
		metrics:   domrepo.NopMetrics{},
		l:         l,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resetLocked(cfg.InitialBalance)
	return e
}

func (e *Engine) resetLocked(balance float64) {
	e.initial = balance
	e.balance = balance
	e.margin = 0
	e.history = nil
	e.stats = models.AccountStats{PeakBalance: balance}
	e.lastStop = make(map[string]stopSubmission)
}

// Open validates req, applies entry slippage and taker fee, reserves margin and opens the position.
func (e *Engine) Open(ctx context.Context, req models.OpenRequest) (models.Position, error) {
	if req.Symbol == "" {
		return models.Position{}, fmt.Errorf("open: %w: empty symbol", ErrInvalidSize)
	}
	if !req.Direction.IsTradable() {
		return models.Position{}, fmt.Errorf("open %s: %w: %q", req.Symbol, ErrInvalidDirection, req.Direction)
	}
	if req.Size <= 0 || math.IsNaN(req.Size) || math.IsInf(req.Size, 0) {
		return models.Position{}, fmt.Errorf("open %s: %w: %v", req.Symbol, ErrInvalidSize, req.Size)
	}
	if req.Leverage == 0 {
		req.Leverage = 1
	}
	if req.Leverage < 1 || req.Leverage > e.cfg.MaxLeverage {
		return models.Position{}, fmt.Errorf("open %s: %w: %v (max %v)", req.Symbol, ErrInvalidLeverage, req.Leverage, e.cfg.MaxLeverage)
	}
	if blocked, reason := e.Blocked(); blocked {
		return models.Position{}, fmt.Errorf("open %s: %w: %s", req.Symbol, ErrTradingBlocked, reason)
	}

	price := req.Price
	if price <= 0 {
		var err error
		if price, err = e.price(ctx, req.Symbol); err != nil {
			return models.Position{}, fmt.Errorf("open %s: %w", req.Symbol, err)
		}
	}

	long := req.Direction == models.DirectionLong
	fill := e.cfg.Slippage.Apply(price, long)
	sign := req.Direction.Sign()

	stop := req.StopLoss
	if stop == 0 {
		dist := fill * e.cfg.FallbackStopPct / 100
		if e.atr != nil {
			if atr, err := e.atr.ATR(ctx, req.Symbol); err == nil && atr > 0 {
				dist = atr * e.cfg.ATRMultiplier
			} else if err != nil {
				e.l.Warn("atr unavailable, using fallback stop",
					applogger.String("symbol", req.Symbol), applogger.Error(err))
			}
		}
		stop = fill - sign*dist
	}
	if stop <= 0 || (stop-fill)*sign >= 0 {
		return models.Position{}, fmt.Errorf("open %s: %w: %v vs fill %v", req.Symbol, ErrInvalidStop, stop, fill)
	}
	tp := req.TakeProfit
	if tp == 0 {
		tp = fill + sign*math.Abs(fill-stop)*e.cfg.RewardRatio
	}
	if tp <= 0 || (tp-fill)*sign <= 0 {
		return models.Position{}, fmt.Errorf("open %s: %w: %v vs fill %v", req.Symbol, ErrInvalidTakeProfit, tp, fill)
	}

	notional := req.Size * fill
	margin := notional / req.Leverage
	fee := notional * e.cfg.Fees.Taker
	now := e.now().UTC()

	e.mu.Lock()
	if e.blocked {
		reason := e.blockReason
		e.mu.Unlock()
		return models.Position{}, fmt.Errorf("open %s: %w: %s", req.Symbol, ErrTradingBlocked, reason)
	}
	// Unrealized profit never backs new margin.
	base := math.Min(e.balance, e.equityLocked())
	free := base - e.margin
	if margin+fee > free {
		e.mu.Unlock()
		return models.Position{}, fmt.Errorf("open %s: %w: need %.2f, free %.2f", req.Symbol, ErrInsufficientMargin, margin+fee, free)
	}
	if limit := base * e.cfg.MaxPositionPct / 100; margin > limit {
		e.mu.Unlock()
		return models.Position{}, fmt.Errorf("open %s: %w: margin %.2f > %.2f", req.Symbol, ErrPositionTooLarge, margin, limit)
	}
	pos := &models.Position{
		ID:              uuid.NewString(),
		Symbol:          req.Symbol,
		Direction:       req.Direction,
		Size:            req.Size,
		Leverage:        req.Leverage,
		EntryPrice:      fill,
		CurrentPrice:    fill,
		NotionalValue:   notional,
		MarginUsed:      margin,
		EntryFee:        fee,
		StopLoss:        stop,
		InitialStopLoss: stop,
		TakeProfit:      tp,
		Status:          models.PositionOpen,
		OpenedAt:        now,
		SessionID:       req.SessionID,
	}
	e.balance -= fee
	e.margin += margin
	e.stats.TotalFees += fee
	e.positions[pos.ID] = pos
	if _, ok := e.marks[req.Symbol]; !ok {
		e.marks[req.Symbol] = price
	}
	out := *pos
	e.mu.Unlock()

	e.l.Info("position opened",
		applogger.String("id", out.ID),
		applogger.String("symbol", out.Symbol),
		applogger.String("direction", string(out.Direction)),
		applogger.Float64("size", out.Size),
		applogger.Float64("entry", out.EntryPrice),
		applogger.Float64("margin", out.MarginUsed),
		applogger.Float64("stop", out.StopLoss),
		applogger.Float64("take_profit", out.TakeProfit),
	)
	e.metrics.RecordPositionOpened(out.Symbol)
	e.events.Emit(models.EventPositionOpened, out.Symbol, models.PositionOpenedPayload{Position: out})
	return out, nil
}

// Close exits the position at the current mark.
func (e *Engine) Close(ctx context.Context, id string, reason models.CloseReason) (models.TradeRecord, error) {
	e.mu.RLock()
	p, ok := e.positions[id]
	var symbol string
	var last float64
	if ok {
		symbol, last = p.Symbol, p.CurrentPrice
	}
	e.mu.RUnlock()
	if !ok {
		return models.TradeRecord{}, fmt.Errorf("close %s: %w", id, ErrPositionNotFound)
	}
	price, err := e.price(ctx, symbol)
	if err != nil {
		price = last
	}
	status := models.PositionClosed
	if reason == models.CloseLiquidation {
		status = models.PositionLiquidated
	}
	return e.closeAt(id, price, reason, status)
}

// CloseAll closes every open position, continuing past individual failures.
func (e *Engine) CloseAll(ctx context.Context, reason models.CloseReason) ([]models.TradeRecord, error) {
	var (
		out  []models.TradeRecord
		errs []error
	)
	for _, p := range e.OpenPositions() {
		tr, err := e.Close(ctx, p.ID, reason)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, tr)
	}
	if len(errs) > 0 {
		return out, fmt.Errorf("close all: %d failed: %w", len(errs), errs[0])
	}
	return out, nil
}

func (e *Engine) closeAt(id string, price float64, reason models.CloseReason, status models.PositionStatus) (models.TradeRecord, error) {
	now := e.now().UTC()

	e.mu.Lock()
	p, ok := e.positions[id]
	if !ok {
		e.mu.Unlock()
		return models.TradeRecord{}, fmt.Errorf("close %s: %w", id, ErrPositionNotFound)
	}
	if price <= 0 {
		price = p.CurrentPrice
	}
	exit := e.cfg.Slippage.Apply(price, p.Direction == models.DirectionShort)
	gross := p.GrossPnL(exit)
	exitFee := p.Size * exit * e.cfg.Fees.Taker
	realized := gross - p.EntryFee - exitFee

	margin := e.margin - p.MarginUsed
	if margin < -1e-6 {
		e.mu.Unlock()
		e.l.Error("margin would go negative on close",
			applogger.String("id", id), applogger.Float64("margin", e.margin), applogger.Float64("position_margin", p.MarginUsed))
		e.metrics.RecordError("invariant")
		return models.TradeRecord{}, fmt.Errorf("close %s: %w: negative margin", id, ErrInvariant)
	}
	if margin < 1e-9 {
		margin = 0
	}
	e.margin = margin
	e.balance += gross - exitFee

	e.stats.TotalTrades++
	if realized > 0 {
		e.stats.Wins++
	} else {
		e.stats.Losses++
	}
	if status == models.PositionLiquidated {
		e.stats.Liquidations++
	}
	e.stats.TotalFees += exitFee
	e.stats.RealizedPnL += realized
	if e.balance > e.stats.PeakBalance {
		e.stats.PeakBalance = e.balance
	}
	if e.stats.PeakBalance > 0 {
		if dd := (e.stats.PeakBalance - e.balance) / e.stats.PeakBalance * 100; dd > e.stats.MaxDrawdownPct {
			e.stats.MaxDrawdownPct = dd
		}
	}

	tr := models.TradeRecord{
		PositionID:  p.ID,
		Symbol:      p.Symbol,
		Direction:   p.Direction,
		Size:        p.Size,
		Leverage:    p.Leverage,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   exit,
		EntryFee:    p.EntryFee,
		ExitFee:     exitFee,
		GrossPnL:    gross,
		RealizedPnL: realized,
		Status:      status,
		CloseReason: reason,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    now,
		Duration:    now.Sub(p.OpenedAt),
	}
	e.history = append(e.history, tr)
	if over := len(e.history) - e.cfg.HistorySize; over > 0 {
		e.history = append(e.history[:0:0], e.history[over:]...)
	}
	p.Status = status
	p.CloseReason = reason
	p.ClosedAt = now
	p.RealizedPnL = realized
	delete(e.positions, id)
	delete(e.lastStop, id)
	e.mu.Unlock()

	e.l.Info("position closed",
		applogger.String("id", tr.PositionID),
		applogger.String("symbol", tr.Symbol),
		applogger.String("reason", string(reason)),
		applogger.Float64("exit", tr.ExitPrice),
		applogger.Float64("realized_pnl", tr.RealizedPnL),
	)
	e.metrics.RecordPositionClosed(tr.Symbol, reason)
	e.events.Emit(models.EventPositionClosed, tr.Symbol, models.PositionClosedPayload{Trade: tr})
	return tr, nil
}

// price returns the market price, falling back to the last mark.
func (e *Engine) price(ctx context.Context, symbol string) (float64, error) {
	if e.market != nil {
		px, err := e.market.GetCurrentPrice(ctx, symbol)
		if err == nil && px > 0 {
			return px, nil
		}
		if err != nil {
			e.l.Debug("market price unavailable, using last mark",
				applogger.String("symbol", symbol), applogger.Error(err))
		}
	}
	e.mu.RLock()
	px, ok := e.marks[symbol]
	e.mu.RUnlock()
	if !ok || px <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	return px, nil
}

func (e *Engine) equityLocked() float64 {
	eq := e.balance
	for _, p := range e.positions {
		eq += p.UnrealizedPnL
	}
	return eq
}

// SetBlocked toggles acceptance of new positions.
func (e *Engine) SetBlocked(blocked bool, reason string) {
	e.mu.Lock()
	changed := e.blocked != blocked
	e.blocked = blocked
	if blocked {
		e.blockReason = reason
	} else {
		e.blockReason = ""
	}
	e.mu.Unlock()
	if changed {
		e.l.Info("trading block changed", applogger.Bool("blocked", blocked), applogger.String("reason", reason))
	}
}

// Blocked reports whether new positions are refused, and why.
func (e *Engine) Blocked() (bool, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.blocked, e.blockReason
}

// Account returns a consistent snapshot of the account.
func (e *Engine) Account() models.AccountSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap := models.AccountSnapshot{
		InitialBalance: e.initial,
		Balance:        e.balance,
		Margin:         e.margin,
		MaxLeverage:    e.cfg.MaxLeverage,
		Fees:           e.cfg.Fees,
		Slippage:       e.cfg.Slippage,
		OpenPositions:  len(e.positions),
		TradingBlocked: e.blocked,
		BlockReason:    e.blockReason,
		Stats:          e.stats,
		Timestamp:      e.now().UTC(),
	}
	for _, p := range e.positions {
		snap.UnrealizedPnL += p.UnrealizedPnL
	}
	snap.Equity = e.balance + snap.UnrealizedPnL
	snap.FreeMargin = snap.Equity - e.margin
	if e.margin > 0 {
		snap.MarginLevel = snap.Equity / e.margin * 100
	}
	return snap
}

// OpenPositions returns copies of open positions, oldest first.
func (e *Engine) OpenPositions() []models.Position {
	e.mu.RLock()
	out := make([]models.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Position returns an open position by id.
func (e *Engine) Position(id string) (models.Position, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.positions[id]
	if !ok {
		return models.Position{}, fmt.Errorf("position %s: %w", id, ErrPositionNotFound)
	}
	return *p, nil
}

// HasPosition reports whether any position is open on symbol.
func (e *Engine) HasPosition(symbol string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, p := range e.positions {
		if p.Symbol == symbol {
			return true
		}
	}
	return false
}

// History returns up to limit closed trades, newest first.
func (e *Engine) History(limit int) []models.TradeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.TradeRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.history[i])
	}
	return out
}

// Reset starts a new paper session. It fails while positions are open.
func (e *Engine) Reset(balance float64) error {
	if balance <= 0 {
		balance = e.cfg.InitialBalance
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.positions) > 0 {
		return fmt.Errorf("reset: %w: %d", ErrPositionsOpen, len(e.positions))
	}
	e.resetLocked(balance)
	e.blocked = false
	e.blockReason = ""
	e.l.Info("account reset", applogger.Float64("balance", balance))
	return nil
}
