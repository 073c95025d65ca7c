package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"PaperTrade/internal/domain/models"
	"PaperTrade/internal/services/signal"
)

type fakeMarket struct {
	candles []models.Candle
	price   float64
	err     error
}

func (m *fakeMarket) GetMultiTimeframeData(_ context.Context, _ string, tfs []models.Timeframe) (map[models.Timeframe][]models.Candle, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[models.Timeframe][]models.Candle, len(tfs))
	for _, tf := range tfs {
		out[tf] = m.candles
	}
	return out, nil
}

func (m *fakeMarket) GetCurrentPrice(context.Context, string) (float64, error) { return m.price, m.err }

type fixedAnalyzer struct{ r models.IndicatorReading }

func (a fixedAnalyzer) Analyze(_ []models.Candle, tf models.Timeframe, _ models.IndicatorParams) models.IndicatorReading {
	r := a.r
	r.Timeframe = tf
	return r
}

type fakeSessions struct {
	mu      sync.Mutex
	started []models.Direction
	active  bool
}

func (s *fakeSessions) Start(_ context.Context, symbol string, d models.Direction) (models.ValidationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, d)
	s.active = true
	return models.ValidationSession{ID: "sess-1", Symbol: symbol, TargetDirection: d, State: models.SessionValidating}, nil
}

func (s *fakeSessions) ActiveFor(string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

type fakeExec struct {
	mu     sync.Mutex
	opened []models.OpenRequest
	hasPos bool
	acc    models.AccountSnapshot
}

func (e *fakeExec) Open(_ context.Context, req models.OpenRequest) (models.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened = append(e.opened, req)
	return models.Position{ID: "pos-1", Symbol: req.Symbol, Direction: req.Direction, Size: req.Size}, nil
}

func (e *fakeExec) HasPosition(string) bool { return e.hasPos }

func (e *fakeExec) Account() models.AccountSnapshot { return e.acc }

type fakeRisk struct{ allow bool }

func (r fakeRisk) AllowNewPositions() bool { return r.allow }

type fakeATR struct{ v float64 }

func (a fakeATR) ATR(context.Context, string) (float64, error) { return a.v, nil }

type emitted struct {
	t       models.EventType
	payload any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) Emit(t models.EventType, _ string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{t, payload})
}

func (r *recordingEmitter) count(t models.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.t == t {
			n++
		}
	}
	return n
}

func testTraderConfig() TraderConfig {
	return TraderConfig{
		Enabled:          true,
		MinConfidence:    0.5,
		RiskPerTradePct:  1,
		DefaultLeverage:  5,
		MaxMarginPct:     25,
		AnalysisInterval: time.Minute,
		VolatilityWindow: 24,
	}
}

var longReading = models.IndicatorReading{
	Price:      100,
	Overflow:   models.Overflow{Direction: models.OverflowLower, Magnitude: 2},
	Oscillator: models.Oscillator{Value: 25},
	MA:         models.MovingAverage{Alignment: models.AlignmentMixed},
}

type traderFixture struct {
	trader   *Trader
	market   *fakeMarket
	sessions *fakeSessions
	exec     *fakeExec
	events   *recordingEmitter
}

func newTraderFixture(cfg TraderConfig, r models.IndicatorReading, allow bool, opts ...TraderOption) traderFixture {
	f := traderFixture{
		market:   &fakeMarket{candles: []models.Candle{{Close: 100}}, price: 100},
		sessions: &fakeSessions{},
		exec:     &fakeExec{acc: models.AccountSnapshot{Balance: 10000, Equity: 10000}},
		events:   &recordingEmitter{},
	}
	opts = append(opts, WithTraderEvents(f.events))
	f.trader = NewTrader(cfg, []string{"btc/usdt"}, f.market, fixedAnalyzer{r}, models.IndicatorParams{},
		signal.NewAggregator(signal.Config{}), f.sessions, f.exec, fakeRisk{allow: allow}, nil, opts...)
	return f
}

func TestAnalyzeStartsValidationOnce(t *testing.T) {
	f := newTraderFixture(testTraderConfig(), longReading, true)

	for i := 0; i < 2; i++ {
		if err := f.trader.AnalyzeAll(context.Background()); err != nil {
			t.Fatalf("analyze: %v", err)
		}
	}
	if len(f.sessions.started) != 1 || f.sessions.started[0] != models.DirectionLong {
		t.Fatalf("expected one long validation, got %v", f.sessions.started)
	}
	if n := f.events.count(models.EventSignalChanged); n != 1 {
		t.Fatalf("expected one signal_changed, got %d", n)
	}
	sig, ok := f.trader.Signal("BTCUSDT")
	if !ok || sig.Direction != models.DirectionLong || sig.Confidence < 0.5 {
		t.Fatalf("unexpected stored signal %+v", sig)
	}
}

func TestNeutralSignalIsNotValidated(t *testing.T) {
	f := newTraderFixture(testTraderConfig(), models.IndicatorReading{Oscillator: models.Oscillator{Value: 50}}, true)
	if err := f.trader.AnalyzeAll(context.Background()); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(f.sessions.started) != 0 {
		t.Fatalf("neutral signal must not start validation")
	}
	if n := f.events.count(models.EventSignalChanged); n != 0 {
		t.Fatalf("neutral first signal is not a change, got %d events", n)
	}
}

func TestRiskBlockSkipsValidation(t *testing.T) {
	f := newTraderFixture(testTraderConfig(), longReading, false)
	if err := f.trader.AnalyzeAll(context.Background()); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(f.sessions.started) != 0 {
		t.Fatalf("blocked risk must not start validation")
	}
}

func TestDisabledTraderOnlyAnalyzes(t *testing.T) {
	cfg := testTraderConfig()
	cfg.Enabled = false
	f := newTraderFixture(cfg, longReading, true)
	if err := f.trader.AnalyzeAll(context.Background()); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(f.sessions.started) != 0 {
		t.Fatalf("disabled trader must not start validation")
	}
	if _, ok := f.trader.Signal("BTCUSDT"); !ok {
		t.Fatalf("signal should still be stored")
	}
}

func TestMarketErrorIsIsolated(t *testing.T) {
	f := newTraderFixture(testTraderConfig(), longReading, true)
	f.market.err = errors.New("exchange down")
	if err := f.trader.AnalyzeAll(context.Background()); err != nil {
		t.Fatalf("per-symbol failures must not fail the pass: %v", err)
	}
}

func TestVolatilityGate(t *testing.T) {
	cfg := testTraderConfig()
	cfg.MaxVolatility = 0.5
	cfg.VolatilityWindow = 4
	f := newTraderFixture(cfg, longReading, true)
	f.market.candles = []models.Candle{{Close: 100}, {Close: 110}, {Close: 100}, {Close: 110}, {Close: 100}}

	err := f.trader.consider(context.Background(), models.Signal{Symbol: "BTCUSDT", Direction: models.DirectionLong, Confidence: 0.9})
	if !errors.Is(err, ErrVolatilityTooHigh) {
		t.Fatalf("expected ErrVolatilityTooHigh, got %v", err)
	}
}

func TestConfirmedSessionOpensPosition(t *testing.T) {
	f := newTraderFixture(testTraderConfig(), longReading, true)
	sess := models.ValidationSession{ID: "s-9", Symbol: "BTCUSDT", TargetDirection: models.DirectionShort, State: models.SessionConfirmed}

	f.trader.HandleEvent(context.Background(), models.Event{
		Type:    models.EventValidationCompleted,
		Payload: models.ValidationCompletedPayload{Session: sess},
	})
	if len(f.exec.opened) != 1 {
		t.Fatalf("expected one open, got %d", len(f.exec.opened))
	}
	req := f.exec.opened[0]
	// 1% of 10000 equity over a 2% stop at 100.
	if req.Direction != models.DirectionShort || req.Leverage != 5 || req.SessionID != "s-9" || math.Abs(req.Size-50) > 1e-9 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestRejectedSessionIsIgnored(t *testing.T) {
	f := newTraderFixture(testTraderConfig(), longReading, true)
	f.trader.HandleEvent(context.Background(), models.Event{
		Type:    models.EventValidationCompleted,
		Payload: models.ValidationCompletedPayload{Session: models.ValidationSession{ID: "s", Symbol: "BTCUSDT", State: models.SessionRejected}},
	})
	if len(f.exec.opened) != 0 {
		t.Fatalf("rejected session must not open a position")
	}
}

func TestSizeUsesATRAndMarginCap(t *testing.T) {
	f := newTraderFixture(testTraderConfig(), longReading, true, WithTraderATR(fakeATR{v: 0.5}))
	if got := f.trader.Size(context.Background(), "BTCUSDT", 100); math.Abs(got-100) > 1e-9 {
		t.Fatalf("expected 100 from ATR stop, got %f", got)
	}

	f = newTraderFixture(testTraderConfig(), longReading, true, WithTraderATR(fakeATR{v: 0.1}))
	// 25% of 10000 at 5x leverage and price 100 caps the quantity at 125.
	if got := f.trader.Size(context.Background(), "BTCUSDT", 100); math.Abs(got-125) > 1e-9 {
		t.Fatalf("expected margin cap 125, got %f", got)
	}
	if got := f.trader.Size(context.Background(), "BTCUSDT", 0); got != 0 {
		t.Fatalf("zero price must size zero, got %f", got)
	}
}

func TestSizeFollowsExecutionStops(t *testing.T) {
	tests := []struct {
		name string
		opts []TraderOption
		want float64
	}{
		{"fallback percent", []TraderOption{WithTraderStops(4, 2)}, 25},
		{"atr multiple", []TraderOption{WithTraderStops(4, 1), WithTraderATR(fakeATR{v: 1})}, 100},
		{"non-positive keeps defaults", []TraderOption{WithTraderStops(0, 0)}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTraderFixture(testTraderConfig(), longReading, true, tt.opts...)
			if got := f.trader.Size(context.Background(), "BTCUSDT", 100); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("expected %f, got %f", tt.want, got)
			}
		})
	}
}
