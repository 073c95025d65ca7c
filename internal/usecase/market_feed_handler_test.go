package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"PaperTrade/internal/domain/models"
)

type tickSink struct {
	mu    sync.Mutex
	ticks []models.Tick
}

func (s *tickSink) Process(_ context.Context, t *models.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, *t)
	return nil
}

type markRecorder struct {
	marks map[string]float64
}

func (m *markRecorder) Mark(symbol string, price float64) { m.marks[symbol] = price }

func TestMarketFeedHandlerTickAndCandle(t *testing.T) {
	sink := &tickSink{}
	h := NewMarketFeedHandler("papertrade.feed", sink, nil)
	if h.Topic() != "papertrade.feed" {
		t.Fatalf("unexpected topic %s", h.Topic())
	}

	msgs := []string{
		`{"symbol":"btc/usdt","ticker":{"price":50100.5,"volume":1.2,"timestamp":"2024-05-01T00:00:00Z"}}`,
		`{"symbol":"ETHUSDT","timeframe":"15m","candle":{"timestamp":"2024-05-01T00:00:00Z","open":3000,"high":3050,"low":2990,"close":3040,"volume":10}}`,
	}
	for _, m := range msgs {
		if err := h.Handle(context.Background(), []byte(m)); err != nil {
			t.Fatalf("handle %s: %v", m, err)
		}
	}
	if len(sink.ticks) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(sink.ticks))
	}
	if sink.ticks[0].Symbol != "BTCUSDT" || sink.ticks[0].Price != 50100.5 {
		t.Fatalf("unexpected tick %+v", sink.ticks[0])
	}
	if sink.ticks[1].Symbol != "ETHUSDT" || sink.ticks[1].Price != 3040 {
		t.Fatalf("candle should map to its close, got %+v", sink.ticks[1])
	}
}

func TestMarketFeedHandlerRejectsBadMessages(t *testing.T) {
	h := NewMarketFeedHandler("feed", &tickSink{}, nil)
	if err := h.Handle(context.Background(), []byte(`{not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
	if err := h.Handle(context.Background(), []byte(`{"symbol":"BTCUSDT"}`)); err == nil {
		t.Fatalf("expected error for empty message")
	}
}

func TestPriceFeedMarksEngine(t *testing.T) {
	marks := &markRecorder{marks: map[string]float64{}}
	f := NewPriceFeed(marks, nil, nil)
	if err := f.Process(context.Background(), &models.Tick{Symbol: "eth-usdt", Price: 3100, Timestamp: time.Now()}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if marks.marks["ETHUSDT"] != 3100 {
		t.Fatalf("expected mark for ETHUSDT, got %v", marks.marks)
	}
	if err := f.Process(context.Background(), &models.Tick{Symbol: "ETHUSDT"}); err == nil {
		t.Fatalf("expected error for zero price")
	}
}
