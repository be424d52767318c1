// Package epoch turns raw per-user reward aggregates for a period into a
// frozen, indexed merkle leaf set and commits one root per epoch.
package epoch

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"

	"github.com/xesslabs/ledger/engine/pkg/merkle"
)

var (
	// ErrEpochAlreadyCommitted is returned when a build targets an epoch
	// number whose leaf set is already frozen. Corrections mint a new
	// epoch number; a committed root is never recomputed.
	ErrEpochAlreadyCommitted = errors.New("epoch already committed")

	// ErrEmptyEpoch is returned when no eligible leaves exist for the
	// period. The epoch is skipped, not committed.
	ErrEmptyEpoch = errors.New("no eligible leaves for epoch")

	// ErrDuplicateSubject is returned when two leaves would share a
	// subject key within one epoch.
	ErrDuplicateSubject = errors.New("duplicate subject key in epoch")

	// ErrNotFound is returned for lookups of unknown epochs or leaves.
	ErrNotFound = errors.New("not found")
)

// Epoch is one committed reward period.
type Epoch struct {
	Number      uint64
	WeekKey     string
	Version     int
	RootHex     string
	LeafCount   int
	TotalAmount int64
	SetOnChain  bool
	PublishSig  string
	CreatedAt   time.Time
}

// LeafEntry is one subject's allocation within an epoch, together with the
// inclusion proof computed at build time. SubjectKey is the base58 wallet
// address for V1 epochs and a hex-encoded opaque 32-byte user key for V2.
type LeafEntry struct {
	Epoch      uint64
	Index      uint64
	UserID     string
	SubjectKey string
	Amount     int64
	SaltHex    string
	Proof      []string
}

// Reward is one raw reward event supplied by the activity source (or
// emitted by the referral resolver) before aggregation.
type Reward struct {
	UserID     string
	SubjectKey string
	Amount     int64
}

// Store persists committed epochs and their frozen leaf tables.
type Store interface {
	// InsertEpoch commits an epoch and its leaves atomically. Returns
	// ErrEpochAlreadyCommitted if the epoch number or (weekKey, version)
	// is already committed.
	InsertEpoch(ctx context.Context, ep *Epoch, leaves []LeafEntry) error

	GetEpoch(ctx context.Context, number uint64) (*Epoch, error)

	// LatestEpoch returns the highest committed epoch, or ErrNotFound
	// when no epoch exists yet.
	LatestEpoch(ctx context.Context) (*Epoch, error)

	// LeafByUser returns the user's leaf in the given epoch, or
	// ErrNotFound when the user has no allocation there.
	LeafByUser(ctx context.Context, number uint64, userID string) (*LeafEntry, error)

	// MarkPublished records that the epoch root was pushed on-chain.
	MarkPublished(ctx context.Context, number uint64, publishSig string) error
}

// SubjectKeyFromUserID derives the opaque V2 subject key for users without
// a linked wallet: keccak256 of the user id, hex encoded.
func SubjectKeyFromUserID(userID string) string {
	h := merkle.Keccak256([]byte(userID))
	return h.Hex()
}

// subjectKeyBytes decodes a subject key to its canonical 32 bytes: base58
// for V1 wallet addresses, hex for V2 user keys.
func subjectKeyBytes(subjectKey string, version int) ([]byte, error) {
	switch version {
	case merkle.VersionV1:
		b, err := base58.Decode(subjectKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode wallet address %q: %w", subjectKey, err)
		}
		if len(b) != merkle.SubjectKeySize {
			return nil, fmt.Errorf("%w: wallet address decodes to %d bytes", merkle.ErrInvalidFieldWidth, len(b))
		}
		return b, nil
	case merkle.VersionV2:
		b, err := hex.DecodeString(subjectKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode user key %q: %w", subjectKey, err)
		}
		if len(b) != merkle.SubjectKeySize {
			return nil, fmt.Errorf("%w: user key decodes to %d bytes", merkle.ErrInvalidFieldWidth, len(b))
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown leaf schema version %d", version)
	}
}
