package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"PaperTrade/internal/domain/models"
	domrepo "PaperTrade/internal/domain/repository"
	domsvc "PaperTrade/internal/domain/service"
	"PaperTrade/internal/services/indicators"
	"PaperTrade/internal/services/signal"
	applogger "PaperTrade/pkg/logger"
	"PaperTrade/pkg/util"
)

var ErrVolatilityTooHigh = errors.New("realized volatility above limit")

// TraderConfig drives automatic signal-to-position flow.
type TraderConfig struct {
	Enabled          bool          `yaml:"enabled" default:"true"`
	MinConfidence    float64       `yaml:"min_confidence" default:"0.5" validate:"gte=0,lte=1"`
	RiskPerTradePct  float64       `yaml:"risk_per_trade_pct" default:"1" validate:"gt=0,lte=100"`
	DefaultLeverage  float64       `yaml:"default_leverage" default:"5" validate:"gte=1"`
	MaxMarginPct     float64       `yaml:"max_margin_pct" default:"25" validate:"gt=0,lte=100"`
	AnalysisInterval time.Duration `yaml:"analysis_interval" default:"1m"`
	// Annualized realized volatility of 1h closes above which no validation starts. Zero disables.
	MaxVolatility    float64 `yaml:"max_volatility" default:"0" validate:"gte=0"`
	VolatilityWindow int     `yaml:"volatility_window" default:"24" validate:"gte=2"`
}

// SessionStarter is the part of the validator the trader drives.
type SessionStarter interface {
	Start(ctx context.Context, symbol string, direction models.Direction) (models.ValidationSession, error)
	ActiveFor(symbol string) bool
}

// Executor opens positions and exposes the account.
type Executor interface {
	Open(ctx context.Context, req models.OpenRequest) (models.Position, error)
	HasPosition(symbol string) bool
	Account() models.AccountSnapshot
}

// RiskGate reports whether new exposure is allowed.
type RiskGate interface {
	AllowNewPositions() bool
}

type TraderOption func(*Trader)

func WithTraderATR(p domsvc.ATRProvider) TraderOption      { return func(t *Trader) { t.atr = p } }
func WithTraderEvents(em domsvc.EventEmitter) TraderOption { return func(t *Trader) { t.events = em } }

// WithTraderStops sizes against the same stop distance the execution engine places.
func WithTraderStops(fallbackPct, atrMultiplier float64) TraderOption {
	return func(t *Trader) {
		if fallbackPct > 0 {
			t.stopPct = fallbackPct
		}
		if atrMultiplier > 0 {
			t.atrMult = atrMultiplier
		}
	}
}

// Trader turns signals into validation sessions and confirmed sessions into positions.
type Trader struct {
	cfg      TraderConfig
	symbols  []string
	data     domrepo.MarketData
	analyzer domsvc.Analyzer
	params   models.IndicatorParams
	agg      *signal.Aggregator
	sessions SessionStarter
	exec     Executor
	risk     RiskGate
	atr      domsvc.ATRProvider
	events   domsvc.EventEmitter
	l        *applogger.Logger
	stopPct  float64
	atrMult  float64

	mu      sync.Mutex
	signals map[string]models.Signal
}

// NewTrader wires the trader. Symbols are normalized.
func NewTrader(
	cfg TraderConfig,
	symbols []string,
	data domrepo.MarketData,
	analyzer domsvc.Analyzer,
	params models.IndicatorParams,
	agg *signal.Aggregator,
	sessions SessionStarter,
	exec Executor,
	risk RiskGate,
	l *applogger.Logger,
	opts ...TraderOption,
) *Trader {
	if l == nil {
		l = applogger.Nop()
	}
	norm := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = util.NormalizeSymbol(s); s != "" {
			norm = append(norm, s)
		}
	}
	t := &Trader{
		cfg:      cfg,
		symbols:  norm,
		data:     data,
		analyzer: analyzer,
		params:   params,
		agg:      agg,
		sessions: sessions,
		exec:     exec,
		risk:     risk,
		events:   domsvc.NopEmitter{},
		l:        l.With(applogger.String("component", "trader")),
		signals:  make(map[string]models.Signal),
		stopPct:  2,
		atrMult:  2,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Symbols returns the traded symbols.
func (t *Trader) Symbols() []string { return append([]string(nil), t.symbols...) }

// AnalyzeAll runs one analysis pass. Per-symbol failures are logged and skipped.
func (t *Trader) AnalyzeAll(ctx context.Context) error {
	for _, sym := range t.symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		sig, err := t.Analyze(ctx, sym)
		if err != nil {
			t.l.Warn("analysis failed", applogger.String("symbol", sym), applogger.Error(err))
			continue
		}
		if !t.cfg.Enabled {
			continue
		}
		if err := t.consider(ctx, sig); err != nil {
			t.l.Info("signal not acted on", applogger.String("symbol", sym), applogger.Error(err))
		}
	}
	return nil
}

// Analyze fetches every analysis timeframe, aggregates a signal and emits signal_changed on a
// direction change. The first signal for a symbol is compared against neutral.
func (t *Trader) Analyze(ctx context.Context, symbol string) (models.Signal, error) {
	symbol = util.NormalizeSymbol(symbol)
	series, err := t.data.GetMultiTimeframeData(ctx, symbol, models.AnalysisTimeframes)
	if err != nil {
		return models.Signal{}, fmt.Errorf("analyze %s: %w", symbol, err)
	}
	readings := make(map[models.Timeframe]models.IndicatorReading, len(series))
	for tf, candles := range series {
		r := t.analyzer.Analyze(candles, tf, t.params)
		r.Timeframe = tf
		readings[tf] = r
	}
	next := t.agg.Aggregate(symbol, readings)

	t.mu.Lock()
	prev, seen := t.signals[symbol]
	t.signals[symbol] = next
	t.mu.Unlock()

	if !seen {
		prev = models.Signal{Symbol: symbol, Direction: models.DirectionNeutral}
	}
	if signal.Changed(prev, next) {
		t.l.Info("signal changed",
			applogger.String("symbol", symbol),
			applogger.String("from", string(prev.Direction)),
			applogger.String("to", string(next.Direction)),
			applogger.Float64("confidence", next.Confidence))
		t.events.Emit(models.EventSignalChanged, symbol, models.SignalChangedPayload{Previous: prev.Direction, Signal: next})
	}
	return next, nil
}

// Signal returns the latest signal for symbol.
func (t *Trader) Signal(symbol string) (models.Signal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.signals[util.NormalizeSymbol(symbol)]
	return s, ok
}

// consider starts a validation session for an actionable signal.
func (t *Trader) consider(ctx context.Context, sig models.Signal) error {
	switch {
	case !sig.Direction.IsTradable():
		return nil
	case sig.Confidence < t.cfg.MinConfidence:
		return nil
	case t.exec.HasPosition(sig.Symbol):
		return nil
	case t.sessions.ActiveFor(sig.Symbol):
		return nil
	case !t.risk.AllowNewPositions():
		return fmt.Errorf("risk manager blocks new positions")
	}
	if err := t.checkVolatility(ctx, sig.Symbol); err != nil {
		return err
	}
	sess, err := t.sessions.Start(ctx, sig.Symbol, sig.Direction)
	if err != nil {
		return fmt.Errorf("start validation: %w", err)
	}
	t.l.Info("validation started",
		applogger.String("symbol", sig.Symbol),
		applogger.String("session", sess.ID),
		applogger.String("direction", string(sig.Direction)))
	return nil
}

func (t *Trader) checkVolatility(ctx context.Context, symbol string) error {
	if t.cfg.MaxVolatility <= 0 {
		return nil
	}
	series, err := t.data.GetMultiTimeframeData(ctx, symbol, []models.Timeframe{models.TF1h})
	if err != nil {
		return fmt.Errorf("volatility check: %w", err)
	}
	vol := indicators.RealizedVolatility(indicators.LogReturns(series[models.TF1h]), t.cfg.VolatilityWindow, indicators.BarsPerYear(models.TF1h))
	if vol > t.cfg.MaxVolatility {
		return fmt.Errorf("%w: %.2f > %.2f", ErrVolatilityTooHigh, vol, t.cfg.MaxVolatility)
	}
	return nil
}

// HandleEvent opens a position for every confirmed validation session.
func (t *Trader) HandleEvent(ctx context.Context, ev models.Event) {
	if ev.Type != models.EventValidationCompleted || !t.cfg.Enabled {
		return
	}
	p, ok := ev.Payload.(models.ValidationCompletedPayload)
	if !ok || p.Session.State != models.SessionConfirmed {
		return
	}
	if _, err := t.OpenFromSession(ctx, p.Session); err != nil {
		t.l.Warn("confirmed session not opened",
			applogger.String("session", p.Session.ID),
			applogger.String("symbol", p.Session.Symbol),
			applogger.Error(err))
	}
}

// OpenFromSession sizes and opens a position for a confirmed session.
func (t *Trader) OpenFromSession(ctx context.Context, sess models.ValidationSession) (models.Position, error) {
	if sess.State != models.SessionConfirmed {
		return models.Position{}, fmt.Errorf("session %s is %s", sess.ID, sess.State)
	}
	if !t.risk.AllowNewPositions() {
		return models.Position{}, fmt.Errorf("risk manager blocks new positions")
	}
	if t.exec.HasPosition(sess.Symbol) {
		return models.Position{}, fmt.Errorf("position already open for %s", sess.Symbol)
	}
	price, err := t.data.GetCurrentPrice(ctx, sess.Symbol)
	if err != nil {
		return models.Position{}, fmt.Errorf("price: %w", err)
	}
	size := t.Size(ctx, sess.Symbol, price)
	if size <= 0 {
		return models.Position{}, fmt.Errorf("computed size is zero for %s", sess.Symbol)
	}
	return t.exec.Open(ctx, models.OpenRequest{
		Symbol:    sess.Symbol,
		Direction: sess.TargetDirection,
		Size:      size,
		Leverage:  t.cfg.DefaultLeverage,
		SessionID: sess.ID,
	})
}

// Size returns the quantity that risks RiskPerTradePct of equity at the expected stop distance,
// capped so the margin stays within MaxMarginPct of balance.
func (t *Trader) Size(ctx context.Context, symbol string, price float64) float64 {
	if price <= 0 {
		return 0
	}
	acc := t.exec.Account()
	stopDist := price * t.stopPct / 100
	if t.atr != nil {
		if atr, err := t.atr.ATR(ctx, symbol); err == nil && atr > 0 {
			stopDist = atr * t.atrMult
		}
	}
	qty := acc.Equity * t.cfg.RiskPerTradePct / 100 / stopDist

	lev := t.cfg.DefaultLeverage
	if lev < 1 {
		lev = 1
	}
	maxQty := acc.Balance * t.cfg.MaxMarginPct / 100 * lev / price
	if qty > maxQty {
		qty = maxQty
	}
	return math.Floor(qty*1e6) / 1e6
}

// Subscribe registers the trader for validation outcomes.
func (t *Trader) Subscribe(src domsvc.EventSource) func() {
	return src.Subscribe("trader", t.HandleEvent, models.EventValidationCompleted)
}
