package claim

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jonboulle/clockwork"
	"github.com/mr-tron/base58"

	"github.com/xesslabs/ledger/engine/pkg/epoch"
	"github.com/xesslabs/ledger/engine/pkg/merkle"
)

// ServiceConfig holds the claim service dependencies.
type ServiceConfig struct {
	Logger *slog.Logger
	Epochs epoch.Store
	Claims Store

	// Clock drives staleness decisions; defaults to the real clock.
	Clock clockwork.Clock

	// Alerter receives critical reconciliation alerts; optional.
	Alerter Alerter

	// Verifier checks settlement signatures on-chain before a claim is
	// confirmed; optional (nil trusts the settlement layer's signal).
	Verifier TxVerifier
}

func (cfg *ServiceConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Epochs == nil {
		return errors.New("epoch store is required")
	}
	if cfg.Claims == nil {
		return errors.New("claim store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Service orchestrates the claim lifecycle over the epoch and claim
// stores: proof issuance, begin/confirm/fail transitions, the stale
// sweep, and export.
type Service struct {
	log *slog.Logger
	cfg ServiceConfig
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Eligibility is the proof bundle a wallet needs to claim on-chain.
type Eligibility struct {
	Epoch      uint64
	Index      uint64
	Amount     int64
	SubjectKey string
	SaltHex    string
	Proof      []string
	RootHex    string
}

// Proof returns the user's leaf and inclusion proof for the epoch, or
// ErrNotEligible when the user has no allocation there. The proof is
// re-verified against the committed root before it leaves the service.
func (s *Service) Proof(ctx context.Context, userID string, epochNumber uint64) (*Eligibility, error) {
	ep, err := s.cfg.Epochs.GetEpoch(ctx, epochNumber)
	if err != nil {
		if errors.Is(err, epoch.ErrNotFound) {
			return nil, fmt.Errorf("%w: epoch %d does not exist", ErrNotEligible, epochNumber)
		}
		return nil, err
	}

	leaf, err := s.cfg.Epochs.LeafByUser(ctx, epochNumber, userID)
	if err != nil {
		if errors.Is(err, epoch.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s, epoch %d", ErrNotEligible, userID, epochNumber)
		}
		return nil, err
	}

	if err := s.verifyLeafProof(ep, leaf); err != nil {
		// A stored proof failing against its own root means the
		// commitment is corrupt. Never hand it out.
		s.alert(ctx, "stored proof failed verification",
			map[string]string{
				"epoch": strconv.FormatUint(epochNumber, 10),
				"user":  userID,
				"index": strconv.FormatUint(leaf.Index, 10),
			})
		return nil, err
	}

	return &Eligibility{
		Epoch:      ep.Number,
		Index:      leaf.Index,
		Amount:     leaf.Amount,
		SubjectKey: leaf.SubjectKey,
		SaltHex:    leaf.SaltHex,
		Proof:      append([]string(nil), leaf.Proof...),
		RootHex:    ep.RootHex,
	}, nil
}

// Begin moves the user's claim for the epoch into PROCESSING, creating it
// if this is the first attempt. At most one claim per (user, epoch) is in
// flight; a second concurrent call loses the conditional update and gets
// ErrAlreadyInFlight.
func (s *Service) Begin(ctx context.Context, userID string, epochNumber uint64) (*Claim, *Eligibility, error) {
	elig, err := s.Proof(ctx, userID, epochNumber)
	if err != nil {
		return nil, nil, err
	}

	c, err := s.cfg.Claims.Begin(ctx, userID, epochNumber, elig.Amount, s.cfg.Clock.Now().UTC())
	if err != nil {
		return nil, nil, err
	}

	claimsBegunTotal.Inc()
	s.log.Info("claim: in flight",
		"user", userID, "epoch", epochNumber, "amount", elig.Amount, "index", elig.Index)
	return c, elig, nil
}

// Confirm settles a PROCESSING claim against an externally verified
// transaction. The settled amount must equal the committed leaf amount
// exactly; a mismatch is a critical inconsistency, never a silent
// adjustment, and leaves the claim PROCESSING.
func (s *Service) Confirm(ctx context.Context, userID string, epochNumber uint64, txSig string, settledAmount int64) (*Claim, error) {
	leaf, err := s.cfg.Epochs.LeafByUser(ctx, epochNumber, userID)
	if err != nil {
		if errors.Is(err, epoch.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s, epoch %d", ErrNotEligible, userID, epochNumber)
		}
		return nil, err
	}

	if settledAmount != leaf.Amount {
		reconciliationAlertsTotal.WithLabelValues("amount_mismatch").Inc()
		s.alert(ctx, "claim amount mismatch", map[string]string{
			"user":    userID,
			"epoch":   strconv.FormatUint(epochNumber, 10),
			"leaf":    strconv.FormatInt(leaf.Amount, 10),
			"settled": strconv.FormatInt(settledAmount, 10),
			"txSig":   txSig,
		})
		return nil, fmt.Errorf("%w: leaf=%d settled=%d", ErrAmountMismatch, leaf.Amount, settledAmount)
	}

	if s.cfg.Verifier != nil {
		if err := s.cfg.Verifier.VerifyTransaction(ctx, txSig); err != nil {
			return nil, fmt.Errorf("failed to verify settlement transaction %s: %w", txSig, err)
		}
	}

	c, err := s.cfg.Claims.Confirm(ctx, userID, epochNumber, txSig, s.cfg.Clock.Now().UTC())
	if err != nil {
		if errors.Is(err, ErrLateConfirmation) {
			// The sweep reverted this claim and the settlement landed
			// anyway. Best-effort staleness was wrong; a human must
			// reconcile before the user retries into a double payout.
			reconciliationAlertsTotal.WithLabelValues("late_confirmation").Inc()
			s.alert(ctx, "late settlement confirmation after stale reversion", map[string]string{
				"user":  userID,
				"epoch": strconv.FormatUint(epochNumber, 10),
				"txSig": txSig,
			})
		}
		return nil, err
	}

	claimsConfirmedTotal.Inc()
	s.log.Info("claim: confirmed", "user", userID, "epoch", epochNumber, "txSig", txSig)
	return c, nil
}

// Fail records an explicit failure signal from the settlement layer.
// Terminal; requires operator review, no automatic retry.
func (s *Service) Fail(ctx context.Context, userID string, epochNumber uint64, reason string) (*Claim, error) {
	c, err := s.cfg.Claims.Fail(ctx, userID, epochNumber, reason, s.cfg.Clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	claimsFailedTotal.Inc()
	s.log.Warn("claim: failed", "user", userID, "epoch", epochNumber, "reason", reason)
	return c, nil
}

// SweepStale reverts claims stuck in PROCESSING longer than StaleAfter
// back to PENDING so the user can retry. Informational for the user, not
// an error. Safe to run concurrently or repeatedly.
func (s *Service) SweepStale(ctx context.Context) (int64, error) {
	now := s.cfg.Clock.Now().UTC()
	reverted, err := s.cfg.Claims.RevertStale(ctx, now.Add(-StaleAfter), now)
	if err != nil {
		return 0, fmt.Errorf("failed to revert stale claims: %w", err)
	}
	if reverted > 0 {
		claimsRevertedTotal.Add(float64(reverted))
		s.log.Info("claim: reverted stale in-flight claims", "count", reverted)
	}
	return reverted, nil
}

// History returns the user's claims, most recent first.
func (s *Service) History(ctx context.Context, userID string) ([]Claim, error) {
	return s.cfg.Claims.ListByUser(ctx, userID)
}

// verifyLeafProof folds the stored proof against the committed root,
// mirroring what the on-chain verifier will do at claim time.
func (s *Service) verifyLeafProof(ep *epoch.Epoch, leaf *epoch.LeafEntry) error {
	root, err := merkle.HashFromHex(ep.RootHex)
	if err != nil {
		return fmt.Errorf("failed to parse epoch root: %w", err)
	}

	var keyBytes []byte
	if ep.Version == merkle.VersionV1 {
		keyBytes, err = base58.Decode(leaf.SubjectKey)
	} else {
		keyBytes, err = hex.DecodeString(leaf.SubjectKey)
	}
	if err != nil {
		return fmt.Errorf("failed to decode subject key: %w", err)
	}

	var salt []byte
	if leaf.SaltHex != "" {
		salt, err = hex.DecodeString(leaf.SaltHex)
		if err != nil {
			return fmt.Errorf("failed to decode leaf salt: %w", err)
		}
	}

	l, err := merkle.NewLeaf(keyBytes, leaf.Epoch, uint64(leaf.Amount), leaf.Index, salt)
	if err != nil {
		return err
	}
	leafHash, err := l.Hash(ep.Version)
	if err != nil {
		return err
	}

	proof := make([]merkle.Hash, len(leaf.Proof))
	for i, p := range leaf.Proof {
		proof[i], err = merkle.HashFromHex(p)
		if err != nil {
			return fmt.Errorf("failed to parse proof step %d: %w", i, err)
		}
	}

	if !merkle.VerifyProof(leafHash, leaf.Index, proof, root) {
		return fmt.Errorf("proof for leaf %d does not verify against epoch %d root", leaf.Index, ep.Number)
	}
	return nil
}

func (s *Service) alert(ctx context.Context, summary string, details map[string]string) {
	s.log.Error("claim: "+summary, "details", fmt.Sprint(details))
	if s.cfg.Alerter != nil {
		s.cfg.Alerter.Alert(ctx, summary, details)
	}
}
