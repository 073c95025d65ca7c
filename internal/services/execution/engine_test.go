package execution

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"PaperTrade/internal/domain/models"

	"github.com/creasty/defaults"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []models.EventType
}

func (c *captureEmitter) Emit(t models.EventType, _ string, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, t)
}

func (c *captureEmitter) count(t models.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == t {
			n++
		}
	}
	return n
}

type fixedATR float64

func (f fixedATR) ATR(context.Context, string) (float64, error) { return float64(f), nil }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig() Config {
	return Config{
		InitialBalance:  10000,
		MaxLeverage:     20,
		Fees:            models.FeeSchedule{Maker: 0.0002, Taker: 0.0004},
		MaxPositionPct:  60,
		ATRMultiplier:   2,
		FallbackStopPct: 2,
		RewardRatio:     2,
		MaintenanceRate: 0.005,
		ConflictWindow:  time.Second,
		HistorySize:     500,
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func openBTC(t *testing.T, e *Engine, req models.OpenRequest) models.Position {
	t.Helper()
	if req.Symbol == "" {
		req.Symbol = "BTCUSDT"
	}
	if req.Direction == "" {
		req.Direction = models.DirectionLong
	}
	p, err := e.Open(context.Background(), req)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return p
}

func TestBTCScenario(t *testing.T) {
	em := &captureEmitter{}
	e := New(testConfig(), nil, WithEvents(em))

	p := openBTC(t, e, models.OpenRequest{Size: 1, Leverage: 10, Price: 50000, TakeProfit: 60000})
	if !approx(p.MarginUsed, 5000) {
		t.Fatalf("expected margin 5000, got %f", p.MarginUsed)
	}
	if !approx(p.EntryFee, 20) {
		t.Fatalf("expected entry fee 20, got %f", p.EntryFee)
	}
	if !approx(p.StopLoss, 49000) {
		t.Fatalf("expected fallback stop 49000, got %f", p.StopLoss)
	}
	acc := e.Account()
	if !approx(acc.Balance, 9980) || !approx(acc.Margin, 5000) {
		t.Fatalf("unexpected account after open %+v", acc)
	}

	e.Mark("BTCUSDT", 52000)
	pos, err := e.Position(p.ID)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if !approx(pos.UnrealizedPnL, 2000) {
		t.Fatalf("expected unrealized 2000, got %f", pos.UnrealizedPnL)
	}
	if acc = e.Account(); !approx(acc.Equity, 11980) {
		t.Fatalf("expected equity 11980, got %f", acc.Equity)
	}

	tr, err := e.Close(context.Background(), p.ID, models.CloseManual)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !approx(tr.ExitFee, 20.8) {
		t.Fatalf("expected exit fee 20.8, got %f", tr.ExitFee)
	}
	if !approx(tr.RealizedPnL, 2000-20-20.8) {
		t.Fatalf("expected realized %f, got %f", 2000-20-20.8, tr.RealizedPnL)
	}
	acc = e.Account()
	if !approx(acc.Balance, 10000+1959.2) || acc.Margin != 0 || acc.OpenPositions != 0 {
		t.Fatalf("unexpected account after close %+v", acc)
	}
	if acc.Stats.Wins != 1 || acc.Stats.TotalTrades != 1 || !approx(acc.Stats.TotalFees, 40.8) {
		t.Fatalf("unexpected stats %+v", acc.Stats)
	}
	if em.count(models.EventPositionOpened) != 1 || em.count(models.EventPositionClosed) != 1 {
		t.Fatalf("unexpected events %v", em.events)
	}
	if _, err := e.Close(context.Background(), p.ID, models.CloseManual); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected not found on second close, got %v", err)
	}
}

func TestOpenRejections(t *testing.T) {
	e := New(testConfig(), nil)
	ctx := context.Background()
	cases := []struct {
		name string
		req  models.OpenRequest
		want error
	}{
		{"leverage", models.OpenRequest{Symbol: "BTCUSDT", Direction: models.DirectionLong, Size: 1, Leverage: 25, Price: 50000}, ErrInvalidLeverage},
		{"margin", models.OpenRequest{Symbol: "BTCUSDT", Direction: models.DirectionLong, Size: 10, Leverage: 10, Price: 50000}, ErrInsufficientMargin},
		{"too large", models.OpenRequest{Symbol: "BTCUSDT", Direction: models.DirectionLong, Size: 1.3, Leverage: 10, Price: 50000}, ErrPositionTooLarge},
		{"direction", models.OpenRequest{Symbol: "BTCUSDT", Direction: models.DirectionNeutral, Size: 1, Leverage: 10, Price: 50000}, ErrInvalidDirection},
		{"size", models.OpenRequest{Symbol: "BTCUSDT", Direction: models.DirectionLong, Size: 0, Leverage: 10, Price: 50000}, ErrInvalidSize},
		{"stop side", models.OpenRequest{Symbol: "BTCUSDT", Direction: models.DirectionShort, Size: 1, Leverage: 10, Price: 50000, StopLoss: 49000}, ErrInvalidStop},
		{"no price", models.OpenRequest{Symbol: "ETHUSDT", Direction: models.DirectionLong, Size: 1, Leverage: 10}, ErrNoPrice},
	}
	for _, c := range cases {
		if _, err := e.Open(ctx, c.req); !errors.Is(err, c.want) {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, err)
		}
	}

	e.SetBlocked(true, "critical risk")
	_, err := e.Open(ctx, models.OpenRequest{Symbol: "BTCUSDT", Direction: models.DirectionLong, Size: 0.1, Leverage: 10, Price: 50000})
	if !errors.Is(err, ErrTradingBlocked) {
		t.Fatalf("expected blocked, got %v", err)
	}
	if acc := e.Account(); acc.Balance != 10000 || acc.Margin != 0 {
		t.Fatalf("rejections must not touch the account: %+v", acc)
	}
}

func TestATRStopAndDefaultTakeProfit(t *testing.T) {
	e := New(testConfig(), nil, WithATR(fixedATR(500)))
	p := openBTC(t, e, models.OpenRequest{Size: 0.1, Leverage: 5, Price: 50000})
	if !approx(p.StopLoss, 49000) || !approx(p.TakeProfit, 52000) {
		t.Fatalf("expected stop 49000 and tp 52000, got %f/%f", p.StopLoss, p.TakeProfit)
	}
	s := openBTC(t, e, models.OpenRequest{Symbol: "ETHUSDT", Direction: models.DirectionShort, Size: 1, Leverage: 5, Price: 3000})
	if !approx(s.StopLoss, 4000) || !approx(s.TakeProfit, 1000) {
		t.Fatalf("unexpected short stop/tp %f/%f", s.StopLoss, s.TakeProfit)
	}
}

func TestStopLossIsMonotonic(t *testing.T) {
	em := &captureEmitter{}
	e := New(testConfig(), nil, WithEvents(em))
	p := openBTC(t, e, models.OpenRequest{Size: 0.1, Leverage: 10, Price: 50000})

	if moved, err := e.UpdateStopLoss(p.ID, 48000, SourceManual); err != nil || moved {
		t.Fatalf("looser stop must be ignored, got %v %v", moved, err)
	}
	if moved, err := e.UpdateStopLoss(p.ID, 49500, SourceManual); err != nil || !moved {
		t.Fatalf("tighter stop must apply, got %v %v", moved, err)
	}
	if _, err := e.UpdateStopLoss(p.ID, 50500, SourceManual); !errors.Is(err, ErrInvalidStop) {
		t.Fatalf("expected invalid stop above mark, got %v", err)
	}
	if pos, _ := e.Position(p.ID); pos.StopLoss != 49500 {
		t.Fatalf("expected stop 49500, got %f", pos.StopLoss)
	}
	if em.count(models.EventStopLossUpdated) != 1 {
		t.Fatalf("expected one stop update event")
	}
}

func TestStopConflictMoreProtectiveWins(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	e := New(testConfig(), nil, WithClock(clock.now))
	p := openBTC(t, e, models.OpenRequest{Size: 0.1, Leverage: 10, Price: 50000})

	if _, err := e.UpdateStopLoss(p.ID, 49500, SourceTrailing); err != nil {
		t.Fatalf("update: %v", err)
	}
	clock.advance(200 * time.Millisecond)
	if moved, _ := e.UpdateStopLoss(p.ID, 49400, SourceEngine); moved {
		t.Fatalf("less protective candidate must not move the stop")
	}
	if got := e.Account().Stats.StopConflicts; got != 1 {
		t.Fatalf("expected 1 conflict, got %d", got)
	}
	clock.advance(2 * time.Second)
	if moved, _ := e.UpdateStopLoss(p.ID, 49600, SourceTrailing); !moved {
		t.Fatalf("expected stop to move")
	}
	if got := e.Account().Stats.StopConflicts; got != 1 {
		t.Fatalf("expected no new conflict outside the window, got %d", got)
	}
	if pos, _ := e.Position(p.ID); pos.StopLoss != 49600 {
		t.Fatalf("expected 49600, got %f", pos.StopLoss)
	}
}

func TestTightenStop(t *testing.T) {
	e := New(testConfig(), nil)
	p := openBTC(t, e, models.OpenRequest{Size: 0.1, Leverage: 10, Price: 50000})
	if moved, err := e.TightenStop(p.ID, 0.5, SourceRisk); err != nil || !moved {
		t.Fatalf("tighten: %v %v", moved, err)
	}
	if pos, _ := e.Position(p.ID); !approx(pos.StopLoss, 49500) {
		t.Fatalf("expected 49500, got %f", pos.StopLoss)
	}
}

func TestRevalueClosesOnStopAndTakeProfit(t *testing.T) {
	cfg := testConfig()
	cfg.BasicTrailing = false
	e := New(cfg, nil)
	long := openBTC(t, e, models.OpenRequest{Size: 0.1, Leverage: 10, Price: 50000})
	short := openBTC(t, e, models.OpenRequest{Symbol: "ETHUSDT", Direction: models.DirectionShort, Size: 1, Leverage: 10, Price: 3000, TakeProfit: 2900})

	e.Mark("BTCUSDT", 48900)
	e.Mark("ETHUSDT", 2890)
	if err := e.Revalue(context.Background()); err != nil {
		t.Fatalf("revalue: %v", err)
	}
	if len(e.OpenPositions()) != 0 {
		t.Fatalf("expected both positions closed")
	}
	reasons := map[string]models.CloseReason{}
	for _, tr := range e.History(0) {
		reasons[tr.PositionID] = tr.CloseReason
	}
	if reasons[long.ID] != models.CloseStopLoss || reasons[short.ID] != models.CloseTakeProfit {
		t.Fatalf("unexpected close reasons %v", reasons)
	}
}

func TestLiquidation(t *testing.T) {
	cfg := testConfig()
	cfg.BasicTrailing = false
	e := New(cfg, nil)
	p := openBTC(t, e, models.OpenRequest{Size: 1, Leverage: 20, Price: 50000, StopLoss: 40000})

	e.Mark("BTCUSDT", 47500)
	if err := e.Revalue(context.Background()); err != nil {
		t.Fatalf("revalue: %v", err)
	}
	h := e.History(1)
	if len(h) != 1 || h[0].PositionID != p.ID || h[0].Status != models.PositionLiquidated || h[0].CloseReason != models.CloseLiquidation {
		t.Fatalf("expected liquidation, got %+v", h)
	}
	if e.Account().Stats.Liquidations != 1 {
		t.Fatalf("expected liquidation counted")
	}
}

func TestBasicTrailing(t *testing.T) {
	cfg := testConfig()
	cfg.BasicTrailing = true
	cfg.TrailingActivationPct = 1
	cfg.TrailingDistancePct = 0.5
	e := New(cfg, nil)
	p := openBTC(t, e, models.OpenRequest{Size: 0.1, Leverage: 10, Price: 50000})

	e.Mark("BTCUSDT", 50200)
	_ = e.Revalue(context.Background())
	if pos, _ := e.Position(p.ID); pos.StopLoss != p.StopLoss {
		t.Fatalf("stop must not trail below activation")
	}
	e.Mark("BTCUSDT", 51000)
	_ = e.Revalue(context.Background())
	if pos, _ := e.Position(p.ID); !approx(pos.StopLoss, 51000*0.995) {
		t.Fatalf("expected trailed stop %f, got %f", 51000*0.995, pos.StopLoss)
	}
	e.Mark("BTCUSDT", 50800)
	_ = e.Revalue(context.Background())
	if pos, _ := e.Position(p.ID); !approx(pos.StopLoss, 51000*0.995) {
		t.Fatalf("stop must never loosen, got %f", pos.StopLoss)
	}
}

func TestMarginAccountingAcrossPositions(t *testing.T) {
	e := New(testConfig(), nil)
	a := openBTC(t, e, models.OpenRequest{Size: 0.1, Leverage: 10, Price: 50000})
	b := openBTC(t, e, models.OpenRequest{Symbol: "ETHUSDT", Size: 1, Leverage: 5, Price: 3000})
	if acc := e.Account(); !approx(acc.Margin, a.MarginUsed+b.MarginUsed) {
		t.Fatalf("margin %f != %f", acc.Margin, a.MarginUsed+b.MarginUsed)
	}
	if _, err := e.Close(context.Background(), a.ID, models.CloseManual); err != nil {
		t.Fatalf("close: %v", err)
	}
	if acc := e.Account(); !approx(acc.Margin, b.MarginUsed) || acc.Margin > acc.Balance {
		t.Fatalf("unexpected margin after close %+v", acc)
	}
	if err := e.Reset(5000); !errors.Is(err, ErrPositionsOpen) {
		t.Fatalf("expected reset refusal, got %v", err)
	}
	if _, err := e.CloseAll(context.Background(), models.CloseEmergency); err != nil {
		t.Fatalf("close all: %v", err)
	}
	if err := e.Reset(5000); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if acc := e.Account(); acc.Balance != 5000 || acc.Stats.TotalTrades != 0 || len(e.History(0)) != 0 {
		t.Fatalf("unexpected account after reset %+v", acc)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.HistorySize = 2
	e := New(cfg, nil)
	var ids []string
	for i := 0; i < 3; i++ {
		p := openBTC(t, e, models.OpenRequest{Size: 0.01, Leverage: 10, Price: 50000})
		if _, err := e.Close(context.Background(), p.ID, models.CloseManual); err != nil {
			t.Fatalf("close: %v", err)
		}
		ids = append(ids, p.ID)
	}
	h := e.History(10)
	if len(h) != 2 || h[0].PositionID != ids[2] || h[1].PositionID != ids[1] {
		t.Fatalf("unexpected history %+v", h)
	}
}

func TestUnrealizedProfitDoesNotBackNewMargin(t *testing.T) {
	e := New(testConfig(), nil)
	btc := openBTC(t, e, models.OpenRequest{Size: 1, Leverage: 10, Price: 50000})
	e.Mark("BTCUSDT", 70000)
	if acc := e.Account(); !approx(acc.Equity, 29980) {
		t.Fatalf("expected equity 29980, got %f", acc.Equity)
	}

	ctx := context.Background()
	alt := models.OpenRequest{Symbol: "SOLUSDT", Direction: models.DirectionLong, Size: 1, Leverage: 2, Price: 9000}
	steps := []struct {
		name string
		want error
	}{
		{"fits in cash", nil},
		{"cash exhausted", ErrInsufficientMargin},
		{"still exhausted", ErrInsufficientMargin},
	}
	for _, st := range steps {
		_, err := e.Open(ctx, alt)
		if !errors.Is(err, st.want) {
			t.Fatalf("%s: expected %v, got %v", st.name, st.want, err)
		}
		if acc := e.Account(); acc.Margin > acc.Balance {
			t.Fatalf("%s: margin %.2f exceeds balance %.2f", st.name, acc.Margin, acc.Balance)
		}
	}
	if n := len(e.OpenPositions()); n != 2 {
		t.Fatalf("expected 2 open positions, got %d", n)
	}

	// Losses shrink the base below the balance.
	e.Mark("BTCUSDT", 46000)
	if _, err := e.Close(ctx, btc.ID, models.CloseManual); err != nil {
		t.Fatalf("close: %v", err)
	}
	if acc := e.Account(); acc.Margin > acc.Balance {
		t.Fatalf("margin %.2f exceeds balance %.2f", acc.Margin, acc.Balance)
	}
}

func TestPositionCapUsesLowerOfBalanceAndEquity(t *testing.T) {
	e := New(testConfig(), nil)
	openBTC(t, e, models.OpenRequest{Size: 0.2, Leverage: 10, Price: 50000})
	e.Mark("BTCUSDT", 20000)
	// Equity is 3996, so the 60% cap is 2397.6 even though the balance is 9996.
	_, err := e.Open(context.Background(), models.OpenRequest{Symbol: "ETHUSDT", Direction: models.DirectionLong, Size: 1, Leverage: 1, Price: 2500})
	if !errors.Is(err, ErrPositionTooLarge) {
		t.Fatalf("expected ErrPositionTooLarge against equity, got %v", err)
	}
}

func TestBTCScenarioFitsShippedDefaults(t *testing.T) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		t.Fatalf("defaults: %v", err)
	}
	e := New(cfg, nil)
	p := openBTC(t, e, models.OpenRequest{Size: 1, Leverage: 10, Price: 50000})
	if p.MarginUsed <= 5000 || p.MarginUsed > 5010 {
		t.Fatalf("expected slippage-adjusted margin just above 5000, got %f", p.MarginUsed)
	}
}
