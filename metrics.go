package main

import "github.com/prometheus/client_golang/prometheus"

var (
	transactionsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aml",
		Name:      "transactions_processed_total",
		Help:      "Transactions screened by outcome.",
	}, []string{"result"}) // "alert", "clear", "rejected"

	alertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "aml",
		Name:      "alerts_total",
		Help:      "Transactions that pushed their account over the threshold.",
	})

	accountsTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "aml",
		Name:      "accounts_tracked",
		Help:      "Accounts with a live window.",
	})

	processDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "aml",
		Name:      "process_duration_seconds",
		Help:      "Time spent screening a single transaction.",
		Buckets:   []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 1e-2},
	})

	ingestRowsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aml",
		Name:      "ingest_rows_skipped_total",
		Help:      "Feed rows dropped during ingestion by reason.",
	}, []string{"reason"}) // "fields", "timestamp", "amount", "account"
)

func init() {
	prometheus.MustRegister(
		transactionsProcessed,
		alertsTotal,
		accountsTracked,
		processDuration,
		ingestRowsSkipped,
	)
}
