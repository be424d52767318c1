// Package claim tracks each user's redemption of an epoch leaf from
// creation through on-chain confirmation, including automatic recovery of
// stuck in-flight claims.
//
// Every mutation is a single conditional update keyed on the prior status,
// so concurrent claim submissions and the stale sweep cannot race each
// other into a double payout.
package claim

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the closed claim lifecycle enumeration.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusFailed     Status = "FAILED"
)

// StaleAfter is how long a claim may sit in PROCESSING before the sweep
// assumes the external settlement never happened and reverts it to
// PENDING. Best-effort heuristic, not a correctness proof: a confirmation
// arriving after reversion is surfaced as ErrLateConfirmation.
const StaleAfter = 30 * time.Minute

var (
	// ErrNotEligible: the user has no leaf in the requested epoch.
	ErrNotEligible = errors.New("no allocation for user in epoch")

	// ErrAlreadyInFlight: a claim for (user, epoch) is already PROCESSING.
	ErrAlreadyInFlight = errors.New("claim already in flight")

	// ErrAlreadyConfirmed: the claim was already settled.
	ErrAlreadyConfirmed = errors.New("claim already confirmed")

	// ErrClaimFailed: the claim is terminally failed and needs operator
	// review; it is not retriable through the API.
	ErrClaimFailed = errors.New("claim is in terminal failed state")

	// ErrAmountMismatch: the settled amount does not equal the committed
	// leaf amount. Fatal inconsistency; requires manual reconciliation.
	ErrAmountMismatch = errors.New("settled amount does not match leaf amount")

	// ErrLateConfirmation: a settlement confirmation arrived for a claim
	// the stale sweep already reverted to PENDING.
	ErrLateConfirmation = errors.New("confirmation arrived after stale reversion")

	// ErrNotFound: no claim exists for (user, epoch).
	ErrNotFound = errors.New("claim not found")
)

// Claim is one user's redemption attempt for one epoch leaf.
type Claim struct {
	ID          uuid.UUID
	UserID      string
	EpochNumber uint64
	Amount      int64
	Status      Status
	StartedAt   time.Time
	UpdatedAt   time.Time
	TxSig       string
	FailReason  string
}

// Store persists claims. Implementations must make every transition a
// single atomic conditional update against the prior status.
type Store interface {
	// Begin creates the claim as PROCESSING, or moves an existing
	// PENDING claim to PROCESSING. Returns ErrAlreadyInFlight,
	// ErrAlreadyConfirmed, or ErrClaimFailed when the prior state forbids
	// the transition.
	Begin(ctx context.Context, userID string, epochNumber uint64, amount int64, now time.Time) (*Claim, error)

	// Confirm moves PROCESSING to CONFIRMED with the settlement
	// signature. Returns ErrLateConfirmation when the claim is PENDING,
	// ErrAlreadyConfirmed when already settled, ErrClaimFailed when
	// failed, and ErrNotFound when missing.
	Confirm(ctx context.Context, userID string, epochNumber uint64, txSig string, now time.Time) (*Claim, error)

	// Fail marks a non-terminal claim FAILED. No automatic retry.
	Fail(ctx context.Context, userID string, epochNumber uint64, reason string, now time.Time) (*Claim, error)

	Get(ctx context.Context, userID string, epochNumber uint64) (*Claim, error)

	// ListByUser returns the user's claims, most recent first.
	ListByUser(ctx context.Context, userID string) ([]Claim, error)

	// ListAll returns every claim, most recent first, for export.
	ListAll(ctx context.Context) ([]Claim, error)

	// RevertStale resets every claim PROCESSING since before olderThan
	// back to PENDING and returns how many were reverted. Re-entrant: a
	// claim is reverted at most once per stint in PROCESSING.
	RevertStale(ctx context.Context, olderThan, now time.Time) (int64, error)
}

// Alerter delivers critical reconciliation alerts that need a human
// (amount mismatches, late confirmations). Delivery failures are logged,
// never propagated into the claim path.
type Alerter interface {
	Alert(ctx context.Context, summary string, details map[string]string)
}

// TxVerifier checks a settlement signature against the chain before a
// claim is confirmed.
type TxVerifier interface {
	VerifyTransaction(ctx context.Context, txSig string) error
}
