package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/xesslabs/ledger/engine/pkg/analytics"
	"github.com/xesslabs/ledger/engine/pkg/claim"
)

type eligibilityResponse struct {
	Epoch      uint64   `json:"epoch"`
	Index      uint64   `json:"index"`
	Amount     int64    `json:"amount"`
	SubjectKey string   `json:"subject_key"`
	Salt       string   `json:"salt,omitempty"`
	Proof      []string `json:"proof"`
	Root       string   `json:"root"`
}

func eligibilityFrom(e *claim.Eligibility) eligibilityResponse {
	return eligibilityResponse{
		Epoch:      e.Epoch,
		Index:      e.Index,
		Amount:     e.Amount,
		SubjectKey: e.SubjectKey,
		Salt:       e.SaltHex,
		Proof:      e.Proof,
		Root:       e.RootHex,
	}
}

// parseEpoch reads an epoch number from a query or body string.
func parseEpoch(w http.ResponseWriter, raw string) (uint64, bool) {
	epochNumber, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || epochNumber == 0 {
		respondReason(w, http.StatusBadRequest, "BAD_REQUEST", "epoch must be a positive integer")
		return 0, false
	}
	return epochNumber, true
}

// Proof handles GET /rewards/proof?epoch=N.
func (h *Handlers) Proof(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}
	epochNumber, ok := parseEpoch(w, r.URL.Query().Get("epoch"))
	if !ok {
		return
	}

	elig, err := h.cfg.Claims.Proof(r.Context(), userID, epochNumber)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, eligibilityFrom(elig))
}

type beginClaimRequest struct {
	Epoch uint64 `json:"epoch"`
}

type beginClaimResponse struct {
	ClaimID string `json:"claim_id"`
	Status  string `json:"status"`
	eligibilityResponse
}

// BeginClaim handles POST /rewards/claim/begin.
func (h *Handlers) BeginClaim(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	var req beginClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Epoch == 0 {
		respondReason(w, http.StatusBadRequest, "BAD_REQUEST", "body must carry a positive epoch")
		return
	}

	c, elig, err := h.cfg.Claims.Begin(r.Context(), userID, req.Epoch)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.recordEvent(r.Context(), analytics.EventBegun, c)

	respondJSON(w, http.StatusOK, beginClaimResponse{
		ClaimID:             c.ID.String(),
		Status:              string(c.Status),
		eligibilityResponse: eligibilityFrom(elig),
	})
}

type confirmClaimRequest struct {
	Epoch         uint64 `json:"epoch"`
	TxSig         string `json:"tx_sig"`
	SettledAmount int64  `json:"settled_amount"`
}

// ConfirmClaim handles POST /rewards/claim/confirm.
func (h *Handlers) ConfirmClaim(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	var req confirmClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Epoch == 0 || req.TxSig == "" {
		respondReason(w, http.StatusBadRequest, "BAD_REQUEST", "body must carry epoch and tx_sig")
		return
	}

	c, err := h.cfg.Claims.Confirm(r.Context(), userID, req.Epoch, req.TxSig, req.SettledAmount)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.recordEvent(r.Context(), analytics.EventConfirmed, c)

	respondJSON(w, http.StatusOK, map[string]string{
		"claim_id": c.ID.String(),
		"status":   string(c.Status),
		"tx_sig":   c.TxSig,
	})
}

type failClaimRequest struct {
	Epoch  uint64 `json:"epoch"`
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// FailClaim handles POST /rewards/claim/fail. Operator-only; the target
// user arrives in the body, not the session header.
func (h *Handlers) FailClaim(w http.ResponseWriter, r *http.Request) {
	var req failClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Epoch == 0 || req.UserID == "" {
		respondReason(w, http.StatusBadRequest, "BAD_REQUEST", "body must carry epoch and user_id")
		return
	}
	if req.Reason == "" {
		req.Reason = "settlement failure reported"
	}

	c, err := h.cfg.Claims.Fail(r.Context(), req.UserID, req.Epoch, req.Reason)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.recordEvent(r.Context(), analytics.EventFailed, c)

	respondJSON(w, http.StatusOK, map[string]string{
		"claim_id": c.ID.String(),
		"status":   string(c.Status),
	})
}

// ExportClaims handles GET /rewards/claims/export as CSV.
func (h *Handlers) ExportClaims(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="claims.csv"`)

	if err := h.cfg.Claims.ExportCSV(r.Context(), w); err != nil {
		// Headers may already be gone; log and give up on the body.
		h.log.Error("handlers: claims export failed", "error", err)
	}
}

type claimHistoryEntry struct {
	ClaimID   string `json:"claim_id"`
	Epoch     uint64 `json:"epoch"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	StartedAt string `json:"started_at"`
	TxSig     string `json:"tx_sig,omitempty"`
}

// ClaimHistory handles GET /rewards/claims.
func (h *Handlers) ClaimHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}

	claims, err := h.cfg.Claims.History(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	entries := make([]claimHistoryEntry, 0, len(claims))
	for _, c := range claims {
		entries = append(entries, claimHistoryEntry{
			ClaimID:   c.ID.String(),
			Epoch:     c.EpochNumber,
			Amount:    c.Amount,
			Status:    string(c.Status),
			StartedAt: c.StartedAt.UTC().Format(timeFormat),
			TxSig:     c.TxSig,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"claims": entries})
}
