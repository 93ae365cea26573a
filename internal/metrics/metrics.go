package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncedTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_synced_transactions_total",
		Help: "Transactions reconciled by the server, by type and outcome",
	}, []string{"type", "outcome"})

	StockDiscrepancies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_stock_discrepancies_total",
		Help: "Sales that drove a product's stock negative",
	})

	BatchApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "pos_sync_batch_apply_seconds",
		Help: "Time spent applying a single sync batch",
	})

	QueueBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pos_queue_backlog",
		Help: "Pending records in the terminal queue",
	})

	DispatchPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_dispatch_passes_total",
		Help: "Dispatcher passes, by result",
	}, []string{"result"})
)
