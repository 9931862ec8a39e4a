package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "magpie_fetch_runs_total",
		Help: "Total fetch sessions started",
	})
	FetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "magpie_fetch_errors_total",
		Help: "Total fetch sessions ending in error",
	})
	FetchBatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "magpie_fetch_batches_total",
		Help: "Total extractor pages fetched",
	})
	FetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "magpie_fetch_duration_seconds",
		Help:    "Fetch session duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	StateSaves = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "magpie_state_saves_total",
		Help: "Total fetch-state persistence writes",
	})
	ExtractRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "magpie_extract_retries_total",
		Help: "Total extractor retry attempts",
	}, []string{"endpoint"})
)

func init() {
	prometheus.MustRegister(FetchRuns, FetchErrors, FetchBatches, FetchDuration, StateSaves, ExtractRetries)
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090").
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, nil) }()
}

// ObserveFetchDuration records a session duration.
func ObserveFetchDuration(start time.Time) {
	FetchDuration.Observe(time.Since(start).Seconds())
}

// IncExtractRetry increments the retry counter for an endpoint.
func IncExtractRetry(endpoint string) { ExtractRetries.WithLabelValues(endpoint).Inc() }
