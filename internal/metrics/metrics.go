package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	fetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobdesk_fetches_total",
			Help: "Job list fetches by fetch mode and outcome (ok/error/stale).",
		},
		[]string{"mode", "outcome"},
	)

	fetchLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobdesk_fetch_latency_ms",
			Help:    "Job list fetch latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"mode"},
	)

	batchItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobdesk_batch_items_total",
			Help: "Per-job batch operation outcomes.",
		},
		[]string{"operation", "outcome"},
	)

	batchDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobdesk_batch_duration_ms",
			Help:    "Wall time of whole batch operations in milliseconds.",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 15000, 60000},
		},
		[]string{"operation"},
	)

	batchRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobdesk_batch_rejected_total",
			Help: "Batch operations refused because another batch was in flight.",
		},
	)

	selectionEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobdesk_selection_evicted_total",
			Help: "Selected ids dropped because their job disappeared from the list.",
		},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			fetchesTotal, fetchLatencyMs,
			batchItemsTotal, batchDurationMs, batchRejectedTotal,
			selectionEvictedTotal,
		)
	})
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// -------- Fetch helpers --------

func ObserveFetch(mode, outcome string, elapsed time.Duration) {
	fetchesTotal.WithLabelValues(norm(mode), norm(outcome)).Inc()
	fetchLatencyMs.WithLabelValues(norm(mode)).Observe(float64(elapsed.Milliseconds()))
}

// -------- Batch helpers --------

func IncBatchItem(operation string, success bool) {
	outcome := "succeeded"
	if !success {
		outcome = "failed"
	}
	batchItemsTotal.WithLabelValues(norm(operation), outcome).Inc()
}

func ObserveBatch(operation string, elapsed time.Duration) {
	batchDurationMs.WithLabelValues(norm(operation)).Observe(float64(elapsed.Milliseconds()))
}

func IncBatchRejected() {
	batchRejectedTotal.Inc()
}

// -------- Selection helpers --------

func AddSelectionEvicted(n int) {
	if n <= 0 {
		return
	}
	selectionEvictedTotal.Add(float64(n))
}
