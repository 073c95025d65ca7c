package repository

import (
	"context"
	"time"

	"PaperTrade/internal/domain/models"
)

// MarketData serves candles and prices to the core.
type MarketData interface {
	GetMultiTimeframeData(ctx context.Context, symbol string, tfs []models.Timeframe) (map[models.Timeframe][]models.Candle, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// MarketStream is a live ticker source.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Archive is the durable store. Writes are fire-and-forget from the core's point of view.
type Archive interface {
	StoreTrade(ctx context.Context, t models.TradeRecord) error
	StoreEvent(ctx context.Context, e models.Event) error
	StoreSnapshot(ctx context.Context, s models.AccountSnapshot) error
	RecentTrades(ctx context.Context, limit int) ([]models.TradeRecord, error)
	Health(ctx context.Context) error
	Close() error
}

// EventPublisher relays engine events to an external broker.
type EventPublisher interface {
	Publish(ctx context.Context, e models.Event) error
	Close() error
}

// TTLCache is the key-value cache with expiry.
type TTLCache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
}

// Metrics records engine telemetry.
type Metrics interface {
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordLastPrice(symbol string, price float64)
	RecordAccount(s models.AccountSnapshot)
	RecordPositionOpened(symbol string)
	RecordPositionClosed(symbol string, reason models.CloseReason)
	RecordRiskLevel(level models.RiskLevel, emergency bool)
	RecordValidation(state models.SessionState)
	RecordStopUpdate(source string)
	RecordStopConflict()
	RecordEvent(t models.EventType, dropped bool)
}
