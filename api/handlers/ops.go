package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xesslabs/ledger/api/metrics"
	"github.com/xesslabs/ledger/engine/pkg/epoch"
	"github.com/xesslabs/ledger/engine/pkg/merkle"
)

// requireCronSecret gates operational endpoints behind the shared secret.
func (h *Handlers) requireCronSecret(w http.ResponseWriter, r *http.Request) bool {
	got := r.Header.Get(cronSecretHeader)
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.CronSecret)) != 1 {
		respondReason(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid cron secret")
		return false
	}
	return true
}

// SweepStale handles POST /ops/sweep-stale. Idempotent; repeated calls
// after a sweep revert nothing further.
func (h *Handlers) SweepStale(w http.ResponseWriter, r *http.Request) {
	if !h.requireCronSecret(w, r) {
		return
	}

	reverted, err := h.cfg.Claims.SweepStale(r.Context())
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues("error").Inc()
		h.respondServiceError(w, r, err)
		return
	}

	metrics.SweepRunsTotal.WithLabelValues("ok").Inc()
	respondJSON(w, http.StatusOK, map[string]int64{"reverted_count": reverted})
}

type buildEpochRequest struct {
	Epoch   uint64 `json:"epoch"`
	WeekKey string `json:"week_key"`
	Version int    `json:"version"`
	Rewards []struct {
		UserID     string `json:"user_id"`
		SubjectKey string `json:"subject_key"`
		Amount     int64  `json:"amount"`
	} `json:"rewards"`
}

// BuildEpoch handles POST /ops/epochs: commits a new epoch from a posted
// reward set.
func (h *Handlers) BuildEpoch(w http.ResponseWriter, r *http.Request) {
	if !h.requireCronSecret(w, r) {
		return
	}

	var req buildEpochRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Epoch == 0 || req.WeekKey == "" {
		respondReason(w, http.StatusBadRequest, "BAD_REQUEST", "body must carry epoch, week_key, and rewards")
		return
	}
	if req.Version == 0 {
		req.Version = merkle.VersionV1
	}

	rewards := make([]epoch.Reward, 0, len(req.Rewards))
	for _, rw := range req.Rewards {
		rewards = append(rewards, epoch.Reward{
			UserID:     rw.UserID,
			SubjectKey: rw.SubjectKey,
			Amount:     rw.Amount,
		})
	}

	if h.cfg.Referrals != nil {
		shares, err := h.cfg.Referrals.Resolve(r.Context(), rewards)
		if err != nil {
			h.respondServiceError(w, r, err)
			return
		}
		rewards = append(rewards, shares...)
	}

	ep, err := h.cfg.Builder.Build(r.Context(), req.Epoch, req.WeekKey, req.Version, rewards)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"epoch":        ep.Number,
		"week_key":     ep.WeekKey,
		"version":      ep.Version,
		"root":         ep.RootHex,
		"leaf_count":   ep.LeafCount,
		"total_amount": ep.TotalAmount,
	})
}

type markPublishedRequest struct {
	Epoch      uint64 `json:"epoch"`
	PublishSig string `json:"publish_sig"`
}

// MarkEpochPublished handles POST /ops/epochs/published: records that the
// epoch root landed on chain.
func (h *Handlers) MarkEpochPublished(w http.ResponseWriter, r *http.Request) {
	if !h.requireCronSecret(w, r) {
		return
	}

	var req markPublishedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Epoch == 0 || req.PublishSig == "" {
		respondReason(w, http.StatusBadRequest, "BAD_REQUEST", "body must carry epoch and publish_sig")
		return
	}

	if err := h.cfg.Epochs.MarkPublished(r.Context(), req.Epoch, req.PublishSig); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"epoch": req.Epoch, "published": true})
}

// NextEpoch handles GET /ops/epochs/next: the number the next build should
// use, taking whichever is further ahead of the database and the chain.
func (h *Handlers) NextEpoch(w http.ResponseWriter, r *http.Request) {
	if !h.requireCronSecret(w, r) {
		return
	}
	if h.cfg.Chain == nil {
		respondReason(w, http.StatusServiceUnavailable, "INTERNAL_ERROR", "on-chain reader is not configured")
		return
	}

	var maxInDB uint64
	latest, err := h.cfg.Epochs.LatestEpoch(r.Context())
	switch {
	case err == nil:
		maxInDB = latest.Number
	case errors.Is(err, epoch.ErrNotFound):
		// No epochs committed yet.
	default:
		h.respondServiceError(w, r, err)
		return
	}

	next, err := h.cfg.Chain.NextEpochNumber(r.Context(), maxInDB)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]uint64{"next_epoch": next})
}

// GetEpoch handles GET /rewards/epochs/{number}.
func (h *Handlers) GetEpoch(w http.ResponseWriter, r *http.Request) {
	number, ok := parseEpoch(w, chi.URLParam(r, "number"))
	if !ok {
		return
	}

	ep, err := h.cfg.Epochs.GetEpoch(r.Context(), number)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondEpoch(w, ep)
}

// LatestEpoch handles GET /rewards/epochs/latest.
func (h *Handlers) LatestEpoch(w http.ResponseWriter, r *http.Request) {
	ep, err := h.cfg.Epochs.LatestEpoch(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondEpoch(w, ep)
}

func (h *Handlers) respondEpoch(w http.ResponseWriter, ep *epoch.Epoch) {
	respondJSON(w, http.StatusOK, map[string]any{
		"epoch":        ep.Number,
		"week_key":     ep.WeekKey,
		"version":      ep.Version,
		"root":         ep.RootHex,
		"leaf_count":   ep.LeafCount,
		"total_amount": ep.TotalAmount,
		"set_onchain":  ep.SetOnChain,
		"publish_sig":  ep.PublishSig,
		"created_at":   ep.CreatedAt.UTC().Format(timeFormat),
	})
}
