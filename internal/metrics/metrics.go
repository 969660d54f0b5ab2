package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "conflux"
)

var (
	syncDurationBuckets = []float64{1, 2, 5, 10, 30, 60, 120, 300, 600, 1200}

	// Sync Metrics
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Time taken for a dataset sync pass to complete.",
		Buckets:   syncDurationBuckets,
	}, []string{"integration_type"})

	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_runs_total",
		Help:      "Count of dataset sync executions.",
	}, []string{"integration_type", "status"})

	SyncLastSuccessTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sync_last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful dataset sync.",
	}, []string{"integration_type"})

	// Upsert Metrics
	RowsUpsertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_upserted_total",
		Help:      "Count of row snapshots written because the record changed.",
	}, []string{"origin"})

	ObjectsUpsertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "objects_upserted_total",
		Help:      "Count of singleton object snapshots written because the record changed.",
	}, []string{"origin"})

	OperationsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_emitted_total",
		Help:      "Count of change operations broadcast on the notification bus.",
	}, []string{"kind"})

	// HTTP dispatch metrics
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_requests_total",
		Help:      "Count of inbound webhook deliveries by outcome.",
	}, []string{"integration_type", "outcome"})

	ProxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proxy_requests_total",
		Help:      "Count of authenticated pass-through API calls.",
	}, []string{"integration_type", "status"})
)
