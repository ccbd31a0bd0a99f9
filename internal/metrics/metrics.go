// Package metrics exposes Prometheus collectors for the collection pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiRequestsTotal     *prometheus.CounterVec
	apiRequestSeconds    *prometheus.HistogramVec
	rateLimitWaitSeconds prometheus.Histogram
	stageItemsTotal      *prometheus.CounterVec
	rowsInsertedTotal    *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riot_api_requests_total",
				Help: "Riot API requests, labeled by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		)

		apiRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "riot_api_request_duration_seconds",
				Help:    "Riot API request latency by endpoint.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		)

		rateLimitWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "riot_api_rate_limit_wait_seconds",
				Help:    "Time spent blocked on the shared rate-limit windows.",
				Buckets: []float64{.01, .1, .5, 1, 2, 5, 15, 30, 60, 120},
			},
		)

		stageItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_stage_items_total",
				Help: "Pipeline work items, labeled by stage and result.",
			},
			[]string{"stage", "result"},
		)

		rowsInsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_rows_inserted_total",
				Help: "Rows newly inserted into the store, labeled by table.",
			},
			[]string{"table"},
		)
	})
}

// ObserveAPIRequest records one API call outcome and latency.
func ObserveAPIRequest(endpoint, outcome string, d time.Duration) {
	if apiRequestsTotal == nil {
		return
	}
	apiRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	apiRequestSeconds.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveRateLimitWait records time spent waiting for window headroom.
func ObserveRateLimitWait(d time.Duration) {
	if rateLimitWaitSeconds == nil || d <= 0 {
		return
	}
	rateLimitWaitSeconds.Observe(d.Seconds())
}

// IncStageItem counts one processed work item for a stage.
func IncStageItem(stage, result string) {
	if stageItemsTotal == nil {
		return
	}
	stageItemsTotal.WithLabelValues(stage, result).Inc()
}

// AddRowsInserted counts rows newly written to a table.
func AddRowsInserted(table string, n int64) {
	if rowsInsertedTotal == nil || n <= 0 {
		return
	}
	rowsInsertedTotal.WithLabelValues(table).Add(float64(n))
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
