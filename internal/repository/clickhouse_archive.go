package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"PaperTrade/internal/domain/models"
	"PaperTrade/internal/domain/repository"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ArchiveSchema returns idempotent DDL for the archive tables in database db.
func ArchiveSchema(db string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.trades (
	position_id String, symbol LowCardinality(String), direction LowCardinality(String),
	size Float64, leverage Float64, entry_price Float64, exit_price Float64,
	entry_fee Float64, exit_fee Float64, gross_pnl Float64, realized_pnl Float64,
	status LowCardinality(String), close_reason LowCardinality(String),
	opened_at DateTime64(3), closed_at DateTime64(3)
) ENGINE=ReplacingMergeTree ORDER BY (symbol, closed_at, position_id)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.events (
	id String, type LowCardinality(String), symbol String, ts DateTime64(3), payload String
) ENGINE=MergeTree ORDER BY (type, ts)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.account_snapshots (
	ts DateTime64(3), balance Float64, equity Float64, margin Float64, free_margin Float64,
	unrealized_pnl Float64, open_positions UInt32, realized_pnl Float64, drawdown_pct Float64
) ENGINE=MergeTree ORDER BY ts`, db),
	}
}

// ClickHouseArchive stores trades, events and account snapshots in ClickHouse.
type ClickHouseArchive struct {
	db       *sql.DB
	database string
}

var _ repository.Archive = (*ClickHouseArchive)(nil)

// NewClickHouseArchive creates an archive writing to tables in database.
func NewClickHouseArchive(db *sql.DB, database string) *ClickHouseArchive {
	return &ClickHouseArchive{db: db, database: database}
}

func (a *ClickHouseArchive) table(name string) string { return a.database + "." + name }

func (a *ClickHouseArchive) StoreTrade(ctx context.Context, t models.TradeRecord) error {
	q := fmt.Sprintf(`INSERT INTO %s (position_id, symbol, direction, size, leverage, entry_price, exit_price,
entry_fee, exit_fee, gross_pnl, realized_pnl, status, close_reason, opened_at, closed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, a.table("trades"))
	_, err := a.db.ExecContext(ctx, q,
		t.PositionID, t.Symbol, string(t.Direction), t.Size, t.Leverage, t.EntryPrice, t.ExitPrice,
		t.EntryFee, t.ExitFee, t.GrossPnL, t.RealizedPnL, string(t.Status), string(t.CloseReason),
		t.OpenedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("store trade %s: %w", t.PositionID, err)
	}
	return nil
}

func (a *ClickHouseArchive) StoreEvent(ctx context.Context, e models.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	q := fmt.Sprintf("INSERT INTO %s (id, type, symbol, ts, payload) VALUES (?, ?, ?, ?, ?)", a.table("events"))
	if _, err := a.db.ExecContext(ctx, q, e.ID, string(e.Type), e.Symbol, e.Timestamp, string(payload)); err != nil {
		return fmt.Errorf("store event %s: %w", e.ID, err)
	}
	return nil
}

func (a *ClickHouseArchive) StoreSnapshot(ctx context.Context, s models.AccountSnapshot) error {
	ts := s.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	q := fmt.Sprintf(`INSERT INTO %s (ts, balance, equity, margin, free_margin, unrealized_pnl, open_positions,
realized_pnl, drawdown_pct) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, a.table("account_snapshots"))
	_, err := a.db.ExecContext(ctx, q,
		ts, s.Balance, s.Equity, s.Margin, s.FreeMargin, s.UnrealizedPnL, uint32(s.OpenPositions),
		s.Stats.RealizedPnL, s.DrawdownPct(),
	)
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// RecentTrades returns the latest closed trades, newest first.
func (a *ClickHouseArchive) RecentTrades(ctx context.Context, limit int) ([]models.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := fmt.Sprintf(`SELECT position_id, symbol, direction, size, leverage, entry_price, exit_price,
entry_fee, exit_fee, gross_pnl, realized_pnl, status, close_reason, opened_at, closed_at
FROM %s ORDER BY closed_at DESC LIMIT ?`, a.table("trades"))
	rows, err := a.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	out := make([]models.TradeRecord, 0, limit)
	for rows.Next() {
		var (
			t                        models.TradeRecord
			dir, status, closeReason string
		)
		if err := rows.Scan(&t.PositionID, &t.Symbol, &dir, &t.Size, &t.Leverage, &t.EntryPrice, &t.ExitPrice,
			&t.EntryFee, &t.ExitFee, &t.GrossPnL, &t.RealizedPnL, &status, &closeReason, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Direction = models.Direction(dir)
		t.Status = models.PositionStatus(status)
		t.CloseReason = models.CloseReason(closeReason)
		t.Duration = t.ClosedAt.Sub(t.OpenedAt)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return out, nil
}

func (a *ClickHouseArchive) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close is a no-op; the connection pool belongs to the ClickHouse client.
func (a *ClickHouseArchive) Close() error { return nil }
