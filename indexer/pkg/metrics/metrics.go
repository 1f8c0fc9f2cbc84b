package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pricelake_indexer_build_info",
			Help: "Build information of the pricelake indexer",
		},
		[]string{"version", "commit", "date"},
	)

	ViewRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricelake_indexer_view_refresh_total",
			Help: "Total number of view refreshes",
		},
		[]string{"view_type", "status"},
	)

	ViewRefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricelake_indexer_view_refresh_duration_seconds",
			Help:    "Duration of view refreshes",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~410s
		},
		[]string{"view_type"},
	)

	UpsertTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricelake_indexer_upsert_total",
			Help: "Total number of warehouse upserts",
		},
		[]string{"table", "status"},
	)

	UpsertRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricelake_indexer_upsert_rows_total",
			Help: "Total number of rows merged into warehouse tables",
		},
		[]string{"table"},
	)

	UpsertDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricelake_indexer_upsert_duration_seconds",
			Help:    "Duration of warehouse upserts",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~41s
		},
		[]string{"table"},
	)

	StagingCleanupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricelake_indexer_staging_cleanup_failures_total",
			Help: "Total number of staging tables that could not be dropped after a merge",
		},
		[]string{"table"},
	)

	UpsertRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricelake_indexer_upsert_retries_total",
			Help: "Total number of upsert attempts retried after a transient store error",
		},
		[]string{"table"},
	)
)
