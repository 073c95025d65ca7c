package repository

import (
	"context"
	"testing"
	"time"

	"PaperTrade/internal/domain/models"
)

func eventTime(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

type capturedMessage struct {
	topic string
	key   string
	value interface{}
}

type fakeProducer struct {
	msgs   []capturedMessage
	closed bool
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	f.msgs = append(f.msgs, capturedMessage{topic: topic, key: string(key), value: value})
	return nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func TestKafkaEventPublisherKeysBySymbol(t *testing.T) {
	fp := &fakeProducer{}
	pub := NewKafkaEventPublisher(fp, "papertrade.events")
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_ = pub.Publish(context.Background(), models.Event{ID: "1", Type: models.EventPositionOpened, Symbol: "BTCUSDT", Timestamp: ts})
	_ = pub.Publish(context.Background(), models.Event{ID: "2", Type: models.EventDailyReset, Timestamp: ts})

	if len(fp.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(fp.msgs))
	}
	if fp.msgs[0].topic != "papertrade.events" || fp.msgs[0].key != "BTCUSDT" {
		t.Fatalf("unexpected first message %+v", fp.msgs[0])
	}
	if fp.msgs[1].key != string(models.EventDailyReset) {
		t.Fatalf("symbol-less events are keyed by type, got %q", fp.msgs[1].key)
	}
	msg, ok := fp.msgs[0].value.(eventMessage)
	if !ok || !eventTime(msg.Timestamp).Equal(ts) {
		t.Fatalf("unexpected payload %+v", fp.msgs[0].value)
	}
	if err := pub.Close(); err != nil || !fp.closed {
		t.Fatalf("close not forwarded")
	}
}
