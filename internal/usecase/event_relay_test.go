package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PaperTrade/internal/domain/models"
	"PaperTrade/pkg/cache"
)

type memArchive struct {
	mu        sync.Mutex
	events    []models.Event
	trades    []models.TradeRecord
	snapshots []models.AccountSnapshot
	err       error
}

func (a *memArchive) StoreTrade(_ context.Context, t models.TradeRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trades = append(a.trades, t)
	return a.err
}

func (a *memArchive) StoreEvent(_ context.Context, e models.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return a.err
}

func (a *memArchive) StoreSnapshot(_ context.Context, s models.AccountSnapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshots = append(a.snapshots, s)
	return a.err
}

func (a *memArchive) RecentTrades(context.Context, int) ([]models.TradeRecord, error) {
	return a.trades, nil
}

func (a *memArchive) Health(context.Context) error { return nil }
func (a *memArchive) Close() error                 { return nil }

type memPublisher struct {
	published []models.Event
	err       error
}

func (p *memPublisher) Publish(_ context.Context, e models.Event) error {
	p.published = append(p.published, e)
	return p.err
}

func (p *memPublisher) Close() error { return nil }

type staticAccount struct{ snap models.AccountSnapshot }

func (s staticAccount) Account() models.AccountSnapshot { return s.snap }

func TestEventRelayArchivesAndPublishes(t *testing.T) {
	arch := &memArchive{}
	pub := &memPublisher{}
	r := NewEventRelay(arch, pub, nil, nil)

	r.HandleEvent(context.Background(), models.Event{ID: "1", Type: models.EventSignalChanged, Symbol: "BTCUSDT"})
	r.HandleEvent(context.Background(), models.Event{
		ID:      "2",
		Type:    models.EventPositionClosed,
		Symbol:  "BTCUSDT",
		Payload: models.PositionClosedPayload{Trade: models.TradeRecord{PositionID: "p1", RealizedPnL: 12}},
	})

	if len(arch.events) != 2 || len(pub.published) != 2 {
		t.Fatalf("expected 2 archived and published events, got %d/%d", len(arch.events), len(pub.published))
	}
	if len(arch.trades) != 1 || arch.trades[0].PositionID != "p1" {
		t.Fatalf("closed position should be archived as a trade, got %+v", arch.trades)
	}
}

func TestEventRelayFailuresDoNotStopPublishing(t *testing.T) {
	arch := &memArchive{err: errors.New("clickhouse down")}
	pub := &memPublisher{}
	r := NewEventRelay(arch, pub, nil, nil)
	r.HandleEvent(context.Background(), models.Event{ID: "1", Type: models.EventDailyReset})
	if len(pub.published) != 1 {
		t.Fatalf("publish must proceed after an archive failure")
	}

	r = NewEventRelay(arch, nil, nil, nil)
	r.HandleEvent(context.Background(), models.Event{ID: "2", Type: models.EventDailyReset})
}

func TestSnapshotterCachesAndArchives(t *testing.T) {
	arch := &memArchive{}
	mc := cache.NewMemoryCache()
	defer mc.Close()

	acc := staticAccount{snap: models.AccountSnapshot{Balance: 10000, Equity: 10250, Timestamp: time.Now().UTC()}}
	s := NewSnapshotter(acc, arch, mc, nil, time.Minute, nil)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(arch.snapshots) != 1 {
		t.Fatalf("expected archived snapshot")
	}
	var cached models.AccountSnapshot
	if err := mc.Get(context.Background(), SnapshotCacheKey, &cached); err != nil || cached.Equity != 10250 {
		t.Fatalf("expected cached snapshot, got %+v (%v)", cached, err)
	}
	if got := s.Latest(context.Background()); got.Equity != 10250 {
		t.Fatalf("unexpected latest %+v", got)
	}
}

func TestSnapshotterFallsBackToLiveAccount(t *testing.T) {
	s := NewSnapshotter(staticAccount{snap: models.AccountSnapshot{Equity: 42}}, nil, nil, nil, 0, nil)
	if got := s.Latest(context.Background()); got.Equity != 42 {
		t.Fatalf("expected live account, got %+v", got)
	}
}
