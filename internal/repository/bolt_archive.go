package repository

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"PaperTrade/internal/domain/models"
	"PaperTrade/internal/domain/repository"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketTrades    = []byte("trades")
	bucketEvents    = []byte("events")
	bucketSnapshots = []byte("snapshots")
)

// BoltArchive is a single-file local archive used when ClickHouse is not configured.
// Keys are big-endian nanosecond timestamps followed by the record id, so cursor order is time order.
type BoltArchive struct {
	db *bolt.DB
}

var _ repository.Archive = (*BoltArchive)(nil)

// OpenBoltArchive opens or creates the archive file at path.
func OpenBoltArchive(path string) (*BoltArchive, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("bolt archive dir: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTrades, bucketEvents, bucketSnapshots} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt buckets: %w", err)
	}
	return &BoltArchive{db: db}, nil
}

func timeKey(t time.Time, id string) []byte {
	k := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(k, uint64(t.UnixNano()))
	return append(k, id...)
}

func (a *BoltArchive) put(bucket []byte, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, data)
	})
}

func (a *BoltArchive) StoreTrade(_ context.Context, t models.TradeRecord) error {
	if err := a.put(bucketTrades, timeKey(t.ClosedAt, t.PositionID), t); err != nil {
		return fmt.Errorf("store trade %s: %w", t.PositionID, err)
	}
	return nil
}

func (a *BoltArchive) StoreEvent(_ context.Context, e models.Event) error {
	if err := a.put(bucketEvents, timeKey(e.Timestamp, e.ID), e); err != nil {
		return fmt.Errorf("store event %s: %w", e.ID, err)
	}
	return nil
}

func (a *BoltArchive) StoreSnapshot(_ context.Context, s models.AccountSnapshot) error {
	ts := s.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if err := a.put(bucketSnapshots, timeKey(ts, ""), s); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// RecentTrades returns the latest closed trades, newest first.
func (a *BoltArchive) RecentTrades(_ context.Context, limit int) ([]models.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	out := make([]models.TradeRecord, 0, limit)
	err := a.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTrades).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var t models.TradeRecord
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("decode trade %x: %w", k, err)
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Snapshots returns up to limit equity snapshots taken at or after since, oldest first.
func (a *BoltArchive) Snapshots(since time.Time, limit int) ([]models.AccountSnapshot, error) {
	var out []models.AccountSnapshot
	err := a.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSnapshots).Cursor()
		for k, v := c.Seek(timeKey(since, "")); k != nil && (limit <= 0 || len(out) < limit); k, v = c.Next() {
			var s models.AccountSnapshot
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("decode snapshot: %w", err)
			}
			out = append(out, s)
		}
		return nil
	})
	return out, err
}

// Health fails with bolt.ErrDatabaseNotOpen once the archive is closed.
func (a *BoltArchive) Health(context.Context) error {
	return a.db.View(func(*bolt.Tx) error { return nil })
}

func (a *BoltArchive) Close() error {
	return a.db.Close()
}
