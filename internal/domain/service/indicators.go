package service

import (
	"context"

	"PaperTrade/internal/domain/models"
)

// Analyzer is the indicator library. Analyze must be pure.
type Analyzer interface {
	Analyze(candles []models.Candle, tf models.Timeframe, params models.IndicatorParams) models.IndicatorReading
}

// ATRProvider returns the current ATR for a symbol on the stop timeframe.
type ATRProvider interface {
	ATR(ctx context.Context, symbol string) (float64, error)
}

// EventEmitter publishes engine events. Implementations must not block.
type EventEmitter interface {
	Emit(t models.EventType, symbol string, payload any)
}

// NopEmitter drops every event.
type NopEmitter struct{}

func (NopEmitter) Emit(models.EventType, string, any) {}

// EventHandler consumes one event.
type EventHandler func(ctx context.Context, ev models.Event)

// EventSource delivers events to subscribers. The returned func unsubscribes.
type EventSource interface {
	Subscribe(name string, h EventHandler, types ...models.EventType) func()
}
