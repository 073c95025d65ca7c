package usecase

import (
	"context"
	"fmt"
	"time"

	"PaperTrade/internal/domain/models"
	domrepo "PaperTrade/internal/domain/repository"
	pkgkafka "PaperTrade/pkg/kafka"
	"PaperTrade/pkg/util"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TickProcessor accepts normalized ticks.
type TickProcessor interface {
	Process(ctx context.Context, t *models.Tick) error
}

// MarketFeedHandler consumes the tick/candle feed topic.
type MarketFeedHandler struct {
	topic   string
	sink    TickProcessor
	metrics domrepo.Metrics
}

func NewMarketFeedHandler(topic string, sink TickProcessor, metrics domrepo.Metrics) *MarketFeedHandler {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	return &MarketFeedHandler{topic: topic, sink: sink, metrics: metrics}
}

func (h *MarketFeedHandler) Topic() string { return h.topic }

// Handle decodes one FeedMessage. Candles are applied as a tick at their close.
func (h *MarketFeedHandler) Handle(ctx context.Context, b []byte) error {
	var m models.FeedMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("feed_unmarshal")
		return fmt.Errorf("decode feed message: %w", err)
	}

	var t *models.Tick
	switch {
	case m.Tick != nil:
		t = m.Tick
		if t.Symbol == "" {
			t.Symbol = m.Symbol
		}
	case m.Candle != nil:
		t = &models.Tick{Symbol: m.Symbol, Price: m.Candle.Close, Volume: m.Candle.Volume, Timestamp: m.Candle.Timestamp}
	default:
		h.metrics.RecordError("feed_empty")
		return fmt.Errorf("feed message for %q carries neither ticker nor candle", m.Symbol)
	}
	t.Symbol = util.NormalizeSymbol(t.Symbol)
	if !t.Timestamp.IsZero() {
		h.metrics.RecordLatency("feed_e2e", time.Since(t.Timestamp).Seconds())
	}
	if err := h.sink.Process(ctx, t); err != nil {
		h.metrics.RecordError("feed_process")
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*MarketFeedHandler)(nil)
