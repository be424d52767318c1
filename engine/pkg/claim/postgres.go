package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStoreConfig holds the Postgres claim store dependencies.
type PGStoreConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (cfg *PGStoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	return nil
}

// PGStore persists claims in Postgres. Every transition is one conditional
// UPDATE (or upsert) guarded by the prior status, so concurrent callers
// race on the row and exactly one wins.
type PGStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewPGStore(cfg PGStoreConfig) (*PGStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PGStore{
		log:  cfg.Logger,
		pool: cfg.Pool,
	}, nil
}

const claimColumns = `id, user_id, epoch_number, amount, status, started_at, updated_at, COALESCE(tx_sig, ''), COALESCE(fail_reason, '')`

func (s *PGStore) Begin(ctx context.Context, userID string, epochNumber uint64, amount int64, now time.Time) (*Claim, error) {
	// The upsert races concurrent beginners on the unique (user_id,
	// epoch_number) row; the DO UPDATE only fires from PENDING, so a claim
	// already PROCESSING, CONFIRMED, or FAILED yields zero rows.
	row := s.pool.QueryRow(ctx, `
		INSERT INTO reward_claims (id, user_id, epoch_number, amount, status, started_at, updated_at)
		VALUES ($1, $2, $3, $4, 'PROCESSING', $5, $5)
		ON CONFLICT (user_id, epoch_number) DO UPDATE
		SET status = 'PROCESSING', amount = EXCLUDED.amount, started_at = EXCLUDED.started_at, updated_at = EXCLUDED.updated_at
		WHERE reward_claims.status = 'PENDING'
		RETURNING `+claimColumns,
		uuid.New(), userID, epochNumber, amount, now,
	)

	c, err := scanClaim(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.transitionConflict(ctx, userID, epochNumber, StatusProcessing)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	return c, nil
}

func (s *PGStore) Confirm(ctx context.Context, userID string, epochNumber uint64, txSig string, now time.Time) (*Claim, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE reward_claims
		SET status = 'CONFIRMED', tx_sig = $3, updated_at = $4
		WHERE user_id = $1 AND epoch_number = $2 AND status = 'PROCESSING'
		RETURNING `+claimColumns,
		userID, epochNumber, txSig, now,
	)

	c, err := scanClaim(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.transitionConflict(ctx, userID, epochNumber, StatusConfirmed)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to confirm claim: %w", err)
	}
	return c, nil
}

func (s *PGStore) Fail(ctx context.Context, userID string, epochNumber uint64, reason string, now time.Time) (*Claim, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE reward_claims
		SET status = 'FAILED', fail_reason = $3, updated_at = $4
		WHERE user_id = $1 AND epoch_number = $2 AND status IN ('PENDING', 'PROCESSING')
		RETURNING `+claimColumns,
		userID, epochNumber, reason, now,
	)

	c, err := scanClaim(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.transitionConflict(ctx, userID, epochNumber, StatusFailed)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark claim failed: %w", err)
	}
	return c, nil
}

func (s *PGStore) Get(ctx context.Context, userID string, epochNumber uint64) (*Claim, error) {
	c, err := scanClaim(s.pool.QueryRow(ctx, `
		SELECT `+claimColumns+`
		FROM reward_claims
		WHERE user_id = $1 AND epoch_number = $2`,
		userID, epochNumber,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return c, nil
}

func (s *PGStore) ListByUser(ctx context.Context, userID string) ([]Claim, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+claimColumns+`
		FROM reward_claims
		WHERE user_id = $1
		ORDER BY epoch_number DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var claims []Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claims: %w", err)
	}
	return claims, nil
}

func (s *PGStore) ListAll(ctx context.Context) ([]Claim, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+claimColumns+`
		FROM reward_claims
		ORDER BY started_at DESC, user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var claims []Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claims: %w", err)
	}
	return claims, nil
}

func (s *PGStore) RevertStale(ctx context.Context, olderThan, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reward_claims
		SET status = 'PENDING', updated_at = $2
		WHERE status = 'PROCESSING' AND started_at < $1`,
		olderThan, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to revert stale claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

// transitionConflict maps a zero-row conditional update to the sentinel
// matching the row's actual state at re-read time.
func (s *PGStore) transitionConflict(ctx context.Context, userID string, epochNumber uint64, attempted Status) error {
	c, err := s.Get(ctx, userID, epochNumber)
	if err != nil {
		return err
	}
	switch c.Status {
	case StatusProcessing:
		return ErrAlreadyInFlight
	case StatusConfirmed:
		return ErrAlreadyConfirmed
	case StatusFailed:
		return ErrClaimFailed
	case StatusPending:
		if attempted == StatusConfirmed {
			return ErrLateConfirmation
		}
		return fmt.Errorf("claim for user %s epoch %d lost a concurrent transition", userID, epochNumber)
	default:
		return fmt.Errorf("claim for user %s epoch %d has unknown status %q", userID, epochNumber, c.Status)
	}
}

func scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.UserID, &c.EpochNumber, &c.Amount, &c.Status, &c.StartedAt, &c.UpdatedAt, &c.TxSig, &c.FailReason)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
