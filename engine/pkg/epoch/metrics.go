package epoch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	epochsBuiltTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_epochs_built_total",
			Help: "Total number of reward epochs committed",
		},
	)

	epochLeavesBuilt = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_epoch_leaves_built_total",
			Help: "Total number of leaf entries committed across all epochs",
		},
	)
)
