package usecase

import (
	"context"
	"time"

	"PaperTrade/internal/domain/models"
	domrepo "PaperTrade/internal/domain/repository"
	applogger "PaperTrade/pkg/logger"
)

// SnapshotCacheKey holds the latest account snapshot in the TTL cache.
const SnapshotCacheKey = "account:snapshot"

// AccountSource exposes the current account.
type AccountSource interface {
	Account() models.AccountSnapshot
}

// Snapshotter periodically records the account: archive, gauges and cache.
type Snapshotter struct {
	acc     AccountSource
	archive domrepo.Archive
	cache   domrepo.TTLCache
	metrics domrepo.Metrics
	ttl     time.Duration
	l       *applogger.Logger
}

// NewSnapshotter creates a snapshotter. archive and cache may be nil.
func NewSnapshotter(acc AccountSource, archive domrepo.Archive, cache domrepo.TTLCache, metrics domrepo.Metrics, ttl time.Duration, l *applogger.Logger) *Snapshotter {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Snapshotter{acc: acc, archive: archive, cache: cache, metrics: metrics, ttl: ttl, l: l}
}

// Run takes one snapshot. Archive and cache failures are logged; the gauges are always updated.
func (s *Snapshotter) Run(ctx context.Context) error {
	snap := s.acc.Account()
	s.metrics.RecordAccount(snap)

	if s.archive != nil {
		if err := s.archive.StoreSnapshot(ctx, snap); err != nil {
			s.metrics.RecordError("archive_snapshot")
			s.l.Warn("archive snapshot failed", applogger.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, SnapshotCacheKey, snap, s.ttl); err != nil {
			s.l.Warn("cache snapshot failed", applogger.Error(err))
		}
	}
	return nil
}

// Latest returns the cached snapshot, or a live one when the cache has none.
func (s *Snapshotter) Latest(ctx context.Context) models.AccountSnapshot {
	if s.cache != nil {
		var snap models.AccountSnapshot
		if err := s.cache.Get(ctx, SnapshotCacheKey, &snap); err == nil {
			return snap
		}
	}
	return s.acc.Account()
}
