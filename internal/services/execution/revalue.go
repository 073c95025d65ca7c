package execution

import (
	"context"
	"time"

	"PaperTrade/internal/domain/models"
	applogger "PaperTrade/pkg/logger"
)

type exitOrder struct {
	id     string
	price  float64
	reason models.CloseReason
	status models.PositionStatus
}

type stopCandidate struct {
	id   string
	stop float64
}

// Mark records the latest feed price for symbol and revalues its open positions.
// It never closes anything; exits happen in Revalue.
func (e *Engine) Mark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	e.mu.Lock()
	e.marks[symbol] = price
	for _, p := range e.positions {
		if p.Symbol == symbol {
			p.CurrentPrice = price
			p.UnrealizedPnL = p.GrossPnL(price)
		}
	}
	e.mu.Unlock()
	e.metrics.RecordLastPrice(symbol, price)
}

// LastMark returns the last recorded price for symbol.
func (e *Engine) LastMark(symbol string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	px, ok := e.marks[symbol]
	return px, ok
}

// Revalue marks every open position to market, applies basic trailing and closes positions
// whose stop, take profit or liquidation level was crossed. A symbol without a price is skipped.
func (e *Engine) Revalue(ctx context.Context) error {
	start := time.Now()
	defer func() { e.metrics.RecordLatency("revalue", time.Since(start).Seconds()) }()

	symbols := map[string]struct{}{}
	e.mu.RLock()
	for _, p := range e.positions {
		symbols[p.Symbol] = struct{}{}
	}
	e.mu.RUnlock()

	prices := make(map[string]float64, len(symbols))
	for s := range symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		px, err := e.price(ctx, s)
		if err != nil {
			e.l.Warn("revalue skipped symbol", applogger.String("symbol", s), applogger.Error(err))
			continue
		}
		prices[s] = px
	}

	var (
		exits      []exitOrder
		candidates []stopCandidate
	)
	e.mu.Lock()
	for s, px := range prices {
		e.marks[s] = px
	}
	for id, p := range e.positions {
		px, ok := prices[p.Symbol]
		if !ok {
			continue
		}
		p.CurrentPrice = px
		p.UnrealizedPnL = p.GrossPnL(px)

		if order, hit := e.exitFor(p, px); hit {
			exits = append(exits, order)
			continue
		}
		if c, ok := e.basicTrail(p, px); ok {
			candidates = append(candidates, stopCandidate{id: id, stop: c})
		}
	}
	e.mu.Unlock()

	for s, px := range prices {
		e.metrics.RecordLastPrice(s, px)
	}
	for _, c := range candidates {
		if _, err := e.UpdateStopLoss(c.id, c.stop, SourceEngine); err != nil {
			e.l.Warn("basic trailing update failed", applogger.String("id", c.id), applogger.Error(err))
		}
	}
	for _, x := range exits {
		if _, err := e.closeAt(x.id, x.price, x.reason, x.status); err != nil {
			e.l.Warn("exit failed", applogger.String("id", x.id), applogger.String("reason", string(x.reason)), applogger.Error(err))
		}
	}
	return nil
}

// exitFor must be called with e.mu held.
func (e *Engine) exitFor(p *models.Position, px float64) (exitOrder, bool) {
	if loss := -p.UnrealizedPnL; loss > 0 && loss >= p.MarginUsed*(1-e.cfg.MaintenanceRate) {
		e.l.Warn("position liquidated",
			applogger.String("id", p.ID), applogger.String("symbol", p.Symbol),
			applogger.Float64("loss", loss), applogger.Float64("margin", p.MarginUsed))
		return exitOrder{id: p.ID, price: px, reason: models.CloseLiquidation, status: models.PositionLiquidated}, true
	}
	sign := p.Direction.Sign()
	if p.StopLoss > 0 && (px-p.StopLoss)*sign <= 0 {
		reason := models.CloseStopLoss
		if p.StopLoss != p.InitialStopLoss && (p.StopLoss-p.EntryPrice)*sign > 0 {
			reason = models.CloseTrailingStop
		}
		return exitOrder{id: p.ID, price: px, reason: reason, status: models.PositionClosed}, true
	}
	if p.TakeProfit > 0 && (px-p.TakeProfit)*sign >= 0 {
		return exitOrder{id: p.ID, price: px, reason: models.CloseTakeProfit, status: models.PositionClosed}, true
	}
	return exitOrder{}, false
}

// basicTrail returns a candidate stop once profit exceeds the activation percent.
func (e *Engine) basicTrail(p *models.Position, px float64) (float64, bool) {
	if !e.cfg.BasicTrailing || e.cfg.TrailingActivationPct <= 0 || e.cfg.TrailingDistancePct <= 0 || p.EntryPrice <= 0 {
		return 0, false
	}
	if p.ProfitDistance(px)/p.EntryPrice*100 < e.cfg.TrailingActivationPct {
		return 0, false
	}
	candidate := px - p.Direction.Sign()*px*e.cfg.TrailingDistancePct/100
	if !p.IsMoreProtective(candidate) {
		return 0, false
	}
	return candidate, true
}
