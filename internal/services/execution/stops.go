package execution

import (
	"fmt"
	"math"

	"PaperTrade/internal/domain/models"
	applogger "PaperTrade/pkg/logger"
)

// Stop sources.
const (
	SourceEngine   = "engine"
	SourceTrailing = "trailing"
	SourceRisk     = "risk"
	SourceManual   = "manual"
)

// UpdateStopLoss proposes a new stop. It reports whether the stop moved.
// Candidates that are not strictly more protective are ignored. A candidate on the wrong
// side of the mark is rejected with ErrInvalidStop. When a different source proposed a
// different stop within the conflict window, the conflict is logged and counted; the more
// protective stop still wins.
func (e *Engine) UpdateStopLoss(id string, stop float64, source string) (bool, error) {
	now := e.now()

	e.mu.Lock()
	p, ok := e.positions[id]
	if !ok {
		e.mu.Unlock()
		return false, fmt.Errorf("update stop %s: %w", id, ErrPositionNotFound)
	}
	mark := p.CurrentPrice
	if mark <= 0 {
		mark = p.EntryPrice
	}
	if stop <= 0 || math.IsNaN(stop) || (stop-mark)*p.Direction.Sign() >= 0 {
		symbol, dir := p.Symbol, p.Direction
		e.mu.Unlock()
		e.l.Error("stop on wrong side of mark rejected",
			applogger.String("id", id),
			applogger.String("symbol", symbol),
			applogger.String("direction", string(dir)),
			applogger.String("source", source),
			applogger.Float64("stop", stop),
			applogger.Float64("mark", mark),
		)
		e.metrics.RecordError("invariant")
		return false, fmt.Errorf("update stop %s: %w: %v vs mark %v", id, ErrInvalidStop, stop, mark)
	}

	conflict := false
	prevSub, seen := e.lastStop[id]
	if seen && prevSub.source != source && prevSub.value != stop && now.Sub(prevSub.at) < e.cfg.ConflictWindow {
		conflict = true
		e.stats.StopConflicts++
	}
	e.lastStop[id] = stopSubmission{source: source, value: stop, at: now}

	prev := p.StopLoss
	moved := p.IsMoreProtective(stop)
	if moved {
		p.StopLoss = stop
	}
	symbol := p.Symbol
	current := p.StopLoss
	e.mu.Unlock()

	if conflict {
		e.l.Warn("stop ownership conflict",
			applogger.String("id", id),
			applogger.String("symbol", symbol),
			applogger.String("source", source),
			applogger.Float64("candidate", stop),
			applogger.String("other_source", prevSub.source),
			applogger.Float64("other_candidate", prevSub.value),
			applogger.Float64("effective", current),
		)
		e.metrics.RecordStopConflict()
	}
	if !moved {
		return false, nil
	}
	e.metrics.RecordStopUpdate(source)
	e.events.Emit(models.EventStopLossUpdated, symbol, models.StopLossUpdatedPayload{
		PositionID: id, Previous: prev, Current: current, Source: source,
	})
	return true, nil
}

// TightenStop moves the stop a fraction of the way from its current level toward the mark.
func (e *Engine) TightenStop(id string, fraction float64, source string) (bool, error) {
	if fraction <= 0 || fraction >= 1 {
		return false, fmt.Errorf("tighten stop %s: %w: fraction %v", id, ErrInvalidStop, fraction)
	}
	p, err := e.Position(id)
	if err != nil {
		return false, err
	}
	mark := p.CurrentPrice
	if mark <= 0 || p.StopLoss <= 0 {
		return false, nil
	}
	distance := (mark - p.StopLoss) * p.Direction.Sign()
	if distance <= 0 {
		return false, nil
	}
	return e.UpdateStopLoss(id, p.StopLoss+p.Direction.Sign()*distance*fraction, source)
}
