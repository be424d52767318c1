package handlers

import (
	"net/http"
	"strconv"
)

const defaultLeaderboardLimit = 10

// Leaderboard handles GET /rewards/leaderboard?limit=N.
func (h *Handlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Leaderboard == nil {
		respondReason(w, http.StatusServiceUnavailable, "INTERNAL_ERROR", "leaderboard is not configured")
		return
	}

	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			respondReason(w, http.StatusBadRequest, "BAD_REQUEST", "limit must be in [1, 100]")
			return
		}
		limit = parsed
	}

	entries, err := h.cfg.Leaderboard.Leaderboard(r.Context(), limit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	type entry struct {
		UserID         string `json:"user_id"`
		TotalConfirmed int64  `json:"total_confirmed"`
		ClaimCount     uint64 `json:"claim_count"`
	}
	out := make([]entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, entry{UserID: e.UserID, TotalConfirmed: e.TotalConfirmed, ClaimCount: e.ClaimCount})
	}
	respondJSON(w, http.StatusOK, map[string]any{"leaderboard": out})
}
