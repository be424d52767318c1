package handlers

import (
	"net/http"
	"strconv"

	"github.com/xesslabs/ledger/engine/pkg/raffle"
)

type raffleOddsResponse struct {
	Tickets      int64   `json:"tickets"`
	TotalTickets int64   `json:"total_tickets"`
	ChancePct    float64 `json:"chance_pct"`
	Chance       string  `json:"chance"`
}

// RaffleOdds handles GET /raffles/odds?tickets=t&total=T.
func (h *Handlers) RaffleOdds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	tickets, err := strconv.ParseInt(q.Get("tickets"), 10, 64)
	if err != nil {
		respondReason(w, http.StatusBadRequest, "BAD_REQUEST", "tickets must be an integer")
		return
	}
	total, err := strconv.ParseInt(q.Get("total"), 10, 64)
	if err != nil {
		respondReason(w, http.StatusBadRequest, "BAD_REQUEST", "total must be an integer")
		return
	}

	chance := raffle.ChanceAnyPrize(tickets, total)
	respondJSON(w, http.StatusOK, raffleOddsResponse{
		Tickets:      tickets,
		TotalTickets: total,
		ChancePct:    raffle.ChanceAnyPrizePct(tickets, total),
		Chance:       raffle.FormatProbability(chance),
	})
}
