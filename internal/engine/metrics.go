package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueriesTotal counts executed queries by table.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livequery_queries_total",
			Help: "Total number of executed queries",
		},
		[]string{"table"},
	)
	// RowsScanned counts rows handed to filters.
	RowsScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livequery_rows_scanned_total",
			Help: "Total number of rows examined by queries",
		},
		[]string{"table"},
	)
	// RowsMatched counts rows accepted by filters.
	RowsMatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livequery_rows_matched_total",
			Help: "Total number of rows accepted by query filters",
		},
		[]string{"table"},
	)
	// SegmentsPruned counts log segments and archives skipped by bounds.
	SegmentsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livequery_segments_pruned_total",
			Help: "Total number of log segments skipped using filter bounds",
		},
	)
	// QueryDuration is the latency of query execution.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livequery_query_duration_seconds",
			Help:    "Query execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)
)
