// Package raffle computes a user's win probability for the weekly prize
// drawing from their share of outstanding tickets.
package raffle

import (
	"fmt"
	"math"
)

// DrawCount is how many independent prize draws run per raffle.
const DrawCount = 3

// MicroCreditsPerTicket converts accrued reward microcredits into raffle
// tickets, flooring the remainder.
const MicroCreditsPerTicket = 1000

// TicketsFromCredits returns how many tickets the given microcredit
// balance buys. Negative balances buy nothing.
func TicketsFromCredits(microCredits int64) int64 {
	if microCredits <= 0 {
		return 0
	}
	return microCredits / MicroCreditsPerTicket
}

// ChanceAnyPrize returns the probability, in percent, of winning at least
// one of the DrawCount draws when the user holds userTickets of
// totalTickets. Degenerate inputs (no tickets in the pool, or none held)
// yield 0; holding the whole pool yields 100.
func ChanceAnyPrize(userTickets, totalTickets int64) float64 {
	if userTickets <= 0 || totalTickets <= 0 {
		return 0
	}
	if userTickets >= totalTickets {
		return 100
	}

	p := float64(userTickets) / float64(totalTickets)
	chance := 100 * (1 - math.Pow(1-p, DrawCount))

	if chance < 0 {
		return 0
	}
	if chance > 100 {
		return 100
	}
	return chance
}

// ChanceAnyPrizePct is ChanceAnyPrize rounded to two decimals for JSON
// payloads. Use FormatProbability on the unrounded value for display, so a
// tiny-but-real chance never renders as zero.
func ChanceAnyPrizePct(userTickets, totalTickets int64) float64 {
	return math.Round(ChanceAnyPrize(userTickets, totalTickets)*100) / 100
}

// FormatProbability renders a percentage for display. Sub-hundredth
// probabilities show as "<0.01%" rather than a misleading "0.00%".
func FormatProbability(pct float64) string {
	if pct <= 0 {
		return "0%"
	}
	if pct < 0.01 {
		return "<0.01%"
	}
	if pct >= 100 {
		return "100%"
	}
	return fmt.Sprintf("%.2f%%", pct)
}
