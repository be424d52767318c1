package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// EventKind labels a claim lifecycle event.
type EventKind string

const (
	EventBegun     EventKind = "begun"
	EventConfirmed EventKind = "confirmed"
	EventFailed    EventKind = "failed"
	EventReverted  EventKind = "reverted"
)

// ClaimEvent is one append-only claim lifecycle record.
type ClaimEvent struct {
	Kind        EventKind
	UserID      string
	EpochNumber uint64
	Amount      int64
	TxSig       string
	OccurredAt  time.Time
}

// LeaderboardEntry is one row of the confirmed-claims leaderboard.
type LeaderboardEntry struct {
	UserID         string
	TotalConfirmed int64
	ClaimCount     uint64
}

// StoreConfig holds the analytics store dependencies.
type StoreConfig struct {
	Logger *slog.Logger
	Client Client
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("clickhouse client is required")
	}
	return nil
}

// Store writes claim events and serves aggregates over them. Events are
// best-effort telemetry; the Postgres claim table stays the source of
// truth.
type Store struct {
	log    *slog.Logger
	client Client
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log:    cfg.Logger,
		client: cfg.Client,
	}, nil
}

const createClaimEventsTableSQL = `
CREATE TABLE IF NOT EXISTS claim_events (
	kind LowCardinality(String),
	user_id String,
	epoch_number UInt64,
	amount Int64,
	tx_sig String,
	occurred_at DateTime64(3, 'UTC')
) ENGINE = MergeTree()
ORDER BY (occurred_at, user_id)`

// EnsureSchema creates the claim_events table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	conn, err := s.client.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get clickhouse connection: %w", err)
	}
	defer conn.Close()

	if err := conn.Exec(ctx, createClaimEventsTableSQL); err != nil {
		return fmt.Errorf("failed to create claim_events table: %w", err)
	}
	return nil
}

// RecordEvent appends one claim event via async insert without waiting, so
// the claim path never blocks on analytics.
func (s *Store) RecordEvent(ctx context.Context, ev ClaimEvent) error {
	conn, err := s.client.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get clickhouse connection: %w", err)
	}
	defer conn.Close()

	err = conn.AsyncInsert(ctx, `
		INSERT INTO claim_events (kind, user_id, epoch_number, amount, tx_sig, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		false,
		string(ev.Kind), ev.UserID, ev.EpochNumber, ev.Amount, ev.TxSig, ev.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert claim event: %w", err)
	}
	return nil
}

// Leaderboard returns users ranked by total confirmed claim amount.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	conn, err := s.client.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get clickhouse connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, `
		SELECT user_id, sum(amount) AS total_confirmed, count() AS claim_count
		FROM claim_events
		WHERE kind = 'confirmed'
		GROUP BY user_id
		ORDER BY total_confirmed DESC, user_id
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.TotalConfirmed, &e.ClaimCount); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate leaderboard rows: %w", err)
	}
	return entries, nil
}
