package epoch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PGStoreConfig holds the Postgres epoch store dependencies.
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

// PGStore persists epochs and leaf tables in Postgres. The epoch-number
// primary key doubles as the commit guard: two concurrent builds of the
// same epoch race on the insert and exactly one wins.
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

func (s *PGStore) InsertEpoch(ctx context.Context, ep *Epoch, leaves []LeafEntry) error {
	s.log.Debug("epoch/store: committing epoch", "epoch", ep.Number, "leaves", len(leaves))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO claim_epochs (epoch_number, week_key, version, root_hex, leaf_count, total_amount, set_onchain, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)`,
		ep.Number, ep.WeekKey, ep.Version, ep.RootHex, ep.LeafCount, ep.TotalAmount, ep.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: epoch %d (weekKey=%s version=%d)", ErrEpochAlreadyCommitted, ep.Number, ep.WeekKey, ep.Version)
		}
		return fmt.Errorf("failed to insert epoch: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range leaves {
		leaf := &leaves[i]
		proofJSON, err := json.Marshal(leaf.Proof)
		if err != nil {
			return fmt.Errorf("failed to marshal proof for leaf %d: %w", leaf.Index, err)
		}
		batch.Queue(`
			INSERT INTO claim_leaves (epoch_number, leaf_index, user_id, subject_key, amount, salt_hex, proof_json)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`,
			leaf.Epoch, leaf.Index, leaf.UserID, leaf.SubjectKey, leaf.Amount, leaf.SaltHex, proofJSON,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: epoch %d", ErrDuplicateSubject, ep.Number)
		}
		return fmt.Errorf("failed to insert leaves: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit epoch transaction: %w", err)
	}
	return nil
}

func (s *PGStore) GetEpoch(ctx context.Context, number uint64) (*Epoch, error) {
	return s.scanEpoch(s.pool.QueryRow(ctx, `
		SELECT epoch_number, week_key, version, root_hex, leaf_count, total_amount, set_onchain, COALESCE(publish_sig, ''), created_at
		FROM claim_epochs
		WHERE epoch_number = $1`, number))
}

func (s *PGStore) LatestEpoch(ctx context.Context) (*Epoch, error) {
	return s.scanEpoch(s.pool.QueryRow(ctx, `
		SELECT epoch_number, week_key, version, root_hex, leaf_count, total_amount, set_onchain, COALESCE(publish_sig, ''), created_at
		FROM claim_epochs
		ORDER BY epoch_number DESC
		LIMIT 1`))
}

func (s *PGStore) scanEpoch(row pgx.Row) (*Epoch, error) {
	var ep Epoch
	err := row.Scan(&ep.Number, &ep.WeekKey, &ep.Version, &ep.RootHex, &ep.LeafCount, &ep.TotalAmount, &ep.SetOnChain, &ep.PublishSig, &ep.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan epoch: %w", err)
	}
	return &ep, nil
}

func (s *PGStore) LeafByUser(ctx context.Context, number uint64, userID string) (*LeafEntry, error) {
	var (
		leaf      LeafEntry
		proofJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT epoch_number, leaf_index, user_id, subject_key, amount, COALESCE(salt_hex, ''), proof_json
		FROM claim_leaves
		WHERE epoch_number = $1 AND user_id = $2`, number, userID,
	).Scan(&leaf.Epoch, &leaf.Index, &leaf.UserID, &leaf.SubjectKey, &leaf.Amount, &leaf.SaltHex, &proofJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan leaf: %w", err)
	}
	if err := json.Unmarshal(proofJSON, &leaf.Proof); err != nil {
		return nil, fmt.Errorf("failed to unmarshal proof: %w", err)
	}
	return &leaf, nil
}

func (s *PGStore) MarkPublished(ctx context.Context, number uint64, publishSig string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE claim_epochs
		SET set_onchain = TRUE, publish_sig = $2
		WHERE epoch_number = $1 AND set_onchain = FALSE`,
		number, publishSig,
	)
	if err != nil {
		return fmt.Errorf("failed to mark epoch published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the epoch does not exist or it is already marked; both
		// are reported, never auto-corrected.
		ep, getErr := s.GetEpoch(ctx, number)
		if getErr != nil {
			return getErr
		}
		if ep.SetOnChain {
			return fmt.Errorf("epoch %d is already marked on-chain (sig %s)", number, ep.PublishSig)
		}
		return fmt.Errorf("failed to mark epoch %d published", number)
	}
	return nil
}
