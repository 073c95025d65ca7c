package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PaperTrade/internal/domain/models"
)

type recordingProc struct {
	mu    sync.Mutex
	ticks []models.Tick
	fails int
}

func (r *recordingProc) Process(_ context.Context, t *models.Tick) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails > 0 {
		r.fails--
		return errors.New("downstream unavailable")
	}
	r.ticks = append(r.ticks, *t)
	return nil
}

func (r *recordingProc) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func tick(sym string, price float64) *models.Tick {
	return &models.Tick{Symbol: sym, Price: price, Timestamp: time.Now()}
}

func TestPipelineRejectsInvalidTicks(t *testing.T) {
	p := NewRealtimePipeline(&recordingProc{}, nil)
	cases := []*models.Tick{
		nil,
		{Price: 1, Timestamp: time.Now()},
		{Symbol: "BTCUSDT", Price: 1},
		{Symbol: "BTCUSDT", Price: 0, Timestamp: time.Now()},
		{Symbol: "BTCUSDT", Price: 1, Volume: -1, Timestamp: time.Now()},
	}
	for i, c := range cases {
		if err := p.Process(context.Background(), c); !errors.Is(err, ErrInvalidTick) {
			t.Fatalf("case %d: expected ErrInvalidTick, got %v", i, err)
		}
	}
}

func TestPipelineThrottlesPerSymbol(t *testing.T) {
	proc := &recordingProc{}
	p := NewRealtimePipeline(proc, nil, WithMaxRPS(1))
	for i := 0; i < 5; i++ {
		if err := p.Process(context.Background(), tick("BTCUSDT", 100)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := p.Process(context.Background(), tick("ETHUSDT", 10)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := proc.count(); got != 2 {
		t.Fatalf("expected one tick per symbol to pass, got %d", got)
	}
}

func TestPipelineBuffersAndRetries(t *testing.T) {
	proc := &recordingProc{fails: 1}
	p := NewRealtimePipeline(proc, nil, WithMaxRPS(0))
	if err := p.Process(context.Background(), tick("BTCUSDT", 100)); err == nil {
		t.Fatalf("expected downstream error")
	}
	if p.Buffered() != 1 {
		t.Fatalf("expected failed tick to be buffered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for proc.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if proc.count() != 1 {
		t.Fatalf("expected buffered tick to be flushed")
	}
}

func TestPipelineTransform(t *testing.T) {
	proc := &recordingProc{}
	p := NewRealtimePipeline(proc, nil, WithTransform(func(tk *models.Tick) *models.Tick {
		out := *tk
		out.Symbol = "X" + tk.Symbol
		return &out
	}))
	if err := p.Process(context.Background(), tick("BTC", 1)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if proc.ticks[0].Symbol != "XBTC" {
		t.Fatalf("transform not applied: %+v", proc.ticks[0])
	}
}
