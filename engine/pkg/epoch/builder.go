package epoch

import (
	"bytes"
	"context"
	cryptorand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/jonboulle/clockwork"

	"github.com/xesslabs/ledger/engine/pkg/merkle"
)

// BuilderConfig holds the epoch builder dependencies.
type BuilderConfig struct {
	Logger *slog.Logger
	Store  Store

	// Clock stamps epoch creation; defaults to the real clock.
	Clock clockwork.Clock

	// Rand is the salt source for V2 leaves; defaults to crypto/rand.
	Rand io.Reader
}

func (cfg *BuilderConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Rand == nil {
		cfg.Rand = cryptorand.Reader
	}
	return nil
}

// Builder aggregates raw reward events into a frozen, indexed leaf set and
// commits one merkle root per epoch.
type Builder struct {
	log *slog.Logger
	cfg BuilderConfig
}

func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// aggregate is one subject's summed allocation prior to index assignment.
type aggregate struct {
	userID     string
	subjectKey string
	keyBytes   []byte
	amount     int64
}

// Build commits epoch `number` for `weekKey` from the given raw rewards.
//
// Rewards are aggregated by subject key (summing amounts), sorted by the
// subject key bytes ascending so index assignment is reproducible, encoded
// per the schema version, hashed, and committed together with the root in
// one transaction. Any later build attempt for the same epoch fails with
// ErrEpochAlreadyCommitted.
func (b *Builder) Build(ctx context.Context, number uint64, weekKey string, version int, rewards []Reward) (*Epoch, error) {
	if version != merkle.VersionV1 && version != merkle.VersionV2 {
		return nil, fmt.Errorf("unknown leaf schema version %d", version)
	}
	if len(rewards) == 0 {
		return nil, fmt.Errorf("%w: weekKey=%s", ErrEmptyEpoch, weekKey)
	}

	aggs, err := b.aggregateRewards(rewards, version)
	if err != nil {
		return nil, err
	}

	// Deterministic index assignment: subject key bytes ascending, user id
	// as tiebreak. Permuting the raw input must not change the root.
	sort.Slice(aggs, func(i, j int) bool {
		if c := bytes.Compare(aggs[i].keyBytes, aggs[j].keyBytes); c != 0 {
			return c < 0
		}
		return aggs[i].userID < aggs[j].userID
	})

	leaves := make([]LeafEntry, len(aggs))
	hashes := make([]merkle.Hash, len(aggs))
	var total int64
	for i, agg := range aggs {
		var salt []byte
		if version == merkle.VersionV2 {
			salt = make([]byte, merkle.SaltSize)
			if _, err := io.ReadFull(b.cfg.Rand, salt); err != nil {
				return nil, fmt.Errorf("failed to generate leaf salt: %w", err)
			}
		}

		leaf, err := merkle.NewLeaf(agg.keyBytes, number, uint64(agg.amount), uint64(i), salt)
		if err != nil {
			// A malformed commitment is worse than a delayed one: abort
			// the whole build rather than skip the leaf.
			return nil, fmt.Errorf("failed to encode leaf %d (subject %s): %w", i, agg.subjectKey, err)
		}
		hashes[i], err = leaf.Hash(version)
		if err != nil {
			return nil, err
		}

		leaves[i] = LeafEntry{
			Epoch:      number,
			Index:      uint64(i),
			UserID:     agg.userID,
			SubjectKey: agg.subjectKey,
			Amount:     agg.amount,
			SaltHex:    hex.EncodeToString(salt),
		}
		total += agg.amount
	}

	tree, err := merkle.Build(hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to build merkle tree: %w", err)
	}
	root := tree.Root()

	// Store per-leaf proofs so issuance is a plain read, and self-check
	// each one against the root before anything is committed.
	for i := range leaves {
		proof, err := tree.Proof(i)
		if err != nil {
			return nil, err
		}
		if !merkle.VerifyProof(hashes[i], uint64(i), proof, root) {
			return nil, fmt.Errorf("proof self-check failed for leaf %d of epoch %d", i, number)
		}
		hexProof := make([]string, len(proof))
		for j, p := range proof {
			hexProof[j] = p.Hex()
		}
		leaves[i].Proof = hexProof
	}

	ep := &Epoch{
		Number:      number,
		WeekKey:     weekKey,
		Version:     version,
		RootHex:     root.Hex(),
		LeafCount:   len(leaves),
		TotalAmount: total,
		CreatedAt:   b.cfg.Clock.Now().UTC(),
	}

	if err := b.cfg.Store.InsertEpoch(ctx, ep, leaves); err != nil {
		return nil, err
	}

	epochsBuiltTotal.Inc()
	epochLeavesBuilt.Add(float64(len(leaves)))

	b.log.Info("epoch: committed",
		"epoch", number,
		"weekKey", weekKey,
		"version", version,
		"root", ep.RootHex,
		"leaves", len(leaves),
		"total", total,
	)
	return ep, nil
}

// aggregateRewards sums amounts per subject key and rejects non-positive
// amounts. Two distinct users mapping to one subject key is a fatal
// inconsistency, not something to merge silently.
func (b *Builder) aggregateRewards(rewards []Reward, version int) ([]aggregate, error) {
	bySubject := make(map[string]*aggregate, len(rewards))
	for _, r := range rewards {
		if r.Amount <= 0 {
			return nil, fmt.Errorf("reward amount must be positive, got %d for user %s", r.Amount, r.UserID)
		}

		subjectKey := r.SubjectKey
		if subjectKey == "" && version == merkle.VersionV2 {
			subjectKey = SubjectKeyFromUserID(r.UserID)
		}
		keyBytes, err := subjectKeyBytes(subjectKey, version)
		if err != nil {
			return nil, err
		}

		if agg, ok := bySubject[subjectKey]; ok {
			if agg.userID != r.UserID {
				return nil, fmt.Errorf("%w: %s claimed by users %s and %s", ErrDuplicateSubject, subjectKey, agg.userID, r.UserID)
			}
			agg.amount += r.Amount
			continue
		}
		bySubject[subjectKey] = &aggregate{
			userID:     r.UserID,
			subjectKey: subjectKey,
			keyBytes:   keyBytes,
			amount:     r.Amount,
		}
	}

	aggs := make([]aggregate, 0, len(bySubject))
	for _, agg := range bySubject {
		aggs = append(aggs, *agg)
	}
	return aggs, nil
}
