package claim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	claimsBegunTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_claims_begun_total",
			Help: "Total number of claims moved into PROCESSING",
		},
	)

	claimsConfirmedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_claims_confirmed_total",
			Help: "Total number of claims confirmed against settlement",
		},
	)

	claimsFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_claims_failed_total",
			Help: "Total number of claims marked terminally failed",
		},
	)

	claimsRevertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_claims_stale_reverted_total",
			Help: "Total number of stale in-flight claims reverted to PENDING",
		},
	)

	reconciliationAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_claim_reconciliation_alerts_total",
			Help: "Critical claim inconsistencies requiring manual review",
		},
		[]string{"kind"},
	)
)
