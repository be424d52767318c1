// Package handlers implements the rewards API HTTP surface: proofs, claim
// lifecycle, exports, the stale-claim sweep, raffle odds, and the
// leaderboard.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/xesslabs/ledger/engine/pkg/analytics"
	"github.com/xesslabs/ledger/engine/pkg/claim"
	"github.com/xesslabs/ledger/engine/pkg/epoch"
	"github.com/xesslabs/ledger/engine/pkg/merkle"
)

// userIDHeader carries the caller identity, set by the session layer in
// front of this service.
const userIDHeader = "X-User-Id"

// cronSecretHeader authenticates scheduled operational calls.
const cronSecretHeader = "X-Cron-Secret"

// timeFormat is how timestamps render in JSON payloads.
const timeFormat = time.RFC3339

// LeaderboardSource serves the confirmed-claims leaderboard.
type LeaderboardSource interface {
	Leaderboard(ctx context.Context, limit int) ([]analytics.LeaderboardEntry, error)
}

// EventSink receives claim lifecycle telemetry.
type EventSink interface {
	RecordEvent(ctx context.Context, ev analytics.ClaimEvent) error
}

// ReferralResolver expands a base reward set with referrer shares.
type ReferralResolver interface {
	Resolve(ctx context.Context, base []epoch.Reward) ([]epoch.Reward, error)
}

// EpochPlanner reconciles the database's latest epoch with on-chain state
// to decide the next epoch number to mint.
type EpochPlanner interface {
	NextEpochNumber(ctx context.Context, maxEpochInDB uint64) (uint64, error)
}

// Config holds the handler dependencies.
type Config struct {
	Logger *slog.Logger
	Claims *claim.Service
	Epochs epoch.Store

	// Builder mints new epochs from posted reward sets (operator only).
	Builder *epoch.Builder

	// Leaderboard is optional; without it the endpoint returns 503.
	Leaderboard LeaderboardSource

	// Events is optional best-effort telemetry; a failed write never
	// fails the request that produced it.
	Events EventSink

	// Referrals is optional; when set, epoch builds add referrer shares
	// on top of the posted rewards.
	Referrals ReferralResolver

	// Chain is optional; without it the next-epoch endpoint returns 503.
	Chain EpochPlanner

	// CronSecret authenticates the sweep endpoint.
	CronSecret string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Claims == nil {
		return errors.New("claim service is required")
	}
	if cfg.Epochs == nil {
		return errors.New("epoch store is required")
	}
	if cfg.Builder == nil {
		return errors.New("epoch builder is required")
	}
	if cfg.CronSecret == "" {
		return errors.New("cron secret is required")
	}
	return nil
}

// Handlers is the set of HTTP handlers for the rewards API.
type Handlers struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Handlers, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Handlers{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondReason(w http.ResponseWriter, status int, reason, message string) {
	respondJSON(w, status, errorResponse{Error: reason, Message: message})
}

// respondServiceError maps engine sentinel errors to HTTP reason codes.
func (h *Handlers) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, claim.ErrNotEligible):
		respondReason(w, http.StatusNotFound, "NOT_ELIGIBLE", err.Error())
	case errors.Is(err, claim.ErrAlreadyInFlight):
		respondReason(w, http.StatusConflict, "ALREADY_IN_FLIGHT", err.Error())
	case errors.Is(err, claim.ErrAlreadyConfirmed):
		respondReason(w, http.StatusConflict, "ALREADY_CONFIRMED", err.Error())
	case errors.Is(err, claim.ErrClaimFailed):
		respondReason(w, http.StatusConflict, "CLAIM_FAILED", err.Error())
	case errors.Is(err, claim.ErrAmountMismatch):
		respondReason(w, http.StatusConflict, "AMOUNT_MISMATCH", err.Error())
	case errors.Is(err, claim.ErrLateConfirmation):
		respondReason(w, http.StatusConflict, "LATE_CONFIRMATION", err.Error())
	case errors.Is(err, claim.ErrNotFound), errors.Is(err, epoch.ErrNotFound):
		respondReason(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, epoch.ErrEpochAlreadyCommitted):
		respondReason(w, http.StatusConflict, "EPOCH_ALREADY_COMMITTED", err.Error())
	case errors.Is(err, epoch.ErrEmptyEpoch):
		respondReason(w, http.StatusUnprocessableEntity, "EMPTY_EPOCH", err.Error())
	case errors.Is(err, epoch.ErrDuplicateSubject):
		respondReason(w, http.StatusUnprocessableEntity, "DUPLICATE_SUBJECT", err.Error())
	case errors.Is(err, merkle.ErrInvalidFieldWidth):
		respondReason(w, http.StatusUnprocessableEntity, "INVALID_FIELD_WIDTH", err.Error())
	default:
		h.log.Error("handlers: request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondReason(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

// recordEvent forwards one lifecycle event to the analytics sink when one
// is configured.
func (h *Handlers) recordEvent(ctx context.Context, kind analytics.EventKind, c *claim.Claim) {
	if h.cfg.Events == nil {
		return
	}
	err := h.cfg.Events.RecordEvent(ctx, analytics.ClaimEvent{
		Kind:        kind,
		UserID:      c.UserID,
		EpochNumber: c.EpochNumber,
		Amount:      c.Amount,
		TxSig:       c.TxSig,
		OccurredAt:  c.UpdatedAt,
	})
	if err != nil {
		h.log.Warn("handlers: failed to record claim event", "kind", string(kind), "error", err)
	}
}

// requireUserID extracts the session-provided user id or writes 401.
func (h *Handlers) requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(userIDHeader))
	if userID == "" {
		respondReason(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing user identity")
		return "", false
	}
	return userID, true
}

// clientIP returns the originating address, preferring the first
// X-Forwarded-For hop set by the ingress.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
