package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
	batch  []AggregatedLogEntry
	err    error
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	if b, ok := payload.(LogBatch); ok {
		p.batch = append(p.batch, b.Entries...)
	}
	return p.err
}

func TestCollectorAggregatesDuplicates(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		c.AddLog("error", "close failed", map[string]interface{}{"id": "p1"}, "risk.go:10")
	}
	c.AddLog("error", "close failed", map[string]interface{}{"id": "p2"}, "risk.go:10")
	c.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.batch) != 2 {
		t.Fatalf("expected 2 aggregated entries, got %d", len(pub.batch))
	}
	total := 0
	for _, e := range pub.batch {
		total += e.Count
	}
	if total != 4 {
		t.Fatalf("expected total count 4, got %d", total)
	}
	if pub.topics[0] != "logs" {
		t.Fatalf("unexpected topic %q", pub.topics[0])
	}
}

func TestCollectorReportsPublishError(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	got := make(chan error, 1)
	c := NewLogCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 1,
		Publisher:      pub,
		OnPublishError: func(err error) { got <- err },
	})
	c.AddLog("error", "boom", nil, "x.go:1")
	c.Close()

	select {
	case err := <-got:
		if err == nil {
			t.Fatalf("expected error")
		}
	case <-time.After(time.Second):
		t.Fatalf("publish error not reported")
	}
}

func TestLoggerErrorFeedsCollector(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Publisher: pub})
	l.Error("emergency close failed", String("position_id", "abc"), Float64("price", 1.5))
	l.Info("ignored")
	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.batch) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(pub.batch))
	}
	if pub.batch[0].Fields["position_id"] != "abc" {
		t.Fatalf("fields not carried: %v", pub.batch[0].Fields)
	}
}

func TestCollectorIgnoresLogsAfterClose(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, Publisher: pub})
	c.Close()
	c.AddLog("error", "late", nil, "x.go:1")
	c.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.batch) != 0 {
		t.Fatalf("expected nothing published, got %d", len(pub.batch))
	}
}

func TestEntryKeyIgnoresFieldOrder(t *testing.T) {
	a := entryKey("error", "m", map[string]interface{}{"a": 1, "b": "x"}, "c")
	b := entryKey("error", "m", map[string]interface{}{"b": "x", "a": 1}, "c")
	if a != b {
		t.Fatalf("keys differ for equal fields")
	}
	if a == entryKey("warn", "m", map[string]interface{}{"a": 1, "b": "x"}, "c") {
		t.Fatalf("level must be part of the key")
	}
}
