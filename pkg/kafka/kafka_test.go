package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestBackoffWithJitterBounds(t *testing.T) {
	min, max := 10*time.Millisecond, 80*time.Millisecond
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffWithJitter(min, max, attempt)
		if d <= 0 || d > max {
			t.Fatalf("attempt %d: backoff %v outside (0, %v]", attempt, d, max)
		}
	}
}

func TestMaxSizeHookRejectsLargePayloads(t *testing.T) {
	h := MaxSizeHook(4, nil)
	if _, data, err := h.BeforeHandle(context.Background(), "feed", kafka.Message{}, []byte("ok")); err != nil || string(data) != "ok" {
		t.Fatalf("small payload rejected: %v", err)
	}
	_, _, err := h.BeforeHandle(context.Background(), "feed", kafka.Message{}, []byte("too large"))
	var he *HookError
	if !errors.As(err, &he) || he.Code != "ERR_TOO_LARGE" {
		t.Fatalf("expected ERR_TOO_LARGE, got %v", err)
	}
}

func TestEncodeValues(t *testing.T) {
	b, err := encode(map[string]int{"a": 1})
	if err != nil || string(b) != `{"a":1}` {
		t.Fatalf("unexpected encoding %s (%v)", b, err)
	}
	if b, _ := encode("raw"); string(b) != "raw" {
		t.Fatalf("strings must pass through")
	}
}

func TestConstructorsRequireBrokers(t *testing.T) {
	if _, err := NewProducer(); err == nil {
		t.Fatalf("producer without brokers must fail")
	}
	if _, err := NewConsumer(); err == nil {
		t.Fatalf("consumer without brokers must fail")
	}
}

func TestProducerConfigValidation(t *testing.T) {
	brokers := WithBrokers([]string{"localhost:9092"})
	if _, err := NewProducer(brokers, WithCompression("brotli")); err == nil {
		t.Fatalf("unknown compression must fail")
	}
	if _, err := NewProducer(brokers, WithDelivery(2, 3, false)); err == nil {
		t.Fatalf("acks=2 must fail")
	}
	p, err := NewProducer(brokers, WithCompression("lz4"), WithBatching(10, 0, 0))
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	_ = p.Close()
}
