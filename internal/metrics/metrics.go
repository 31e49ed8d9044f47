// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleaner_fetch_requests_total",
			Help: "Outbound page fetches by host, status and challenge source",
		},
		[]string{"host", "status", "challenge"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gleaner_fetch_duration_seconds",
			Help:    "Duration of outbound page fetches in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	FetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleaner_fetch_bytes_total",
			Help: "Bytes downloaded by outbound page fetches",
		},
		[]string{"host"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleaner_proxy_failures_total",
			Help: "Fetches that failed through a given proxy",
		},
		[]string{"proxy_url"},
	)

	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleaner_search_requests_total",
			Help: "Search result page requests by outcome (ok, empty, error, challenged)",
		},
		[]string{"engine", "outcome"},
	)

	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gleaner_search_duration_seconds",
			Help:    "Duration of a single search result page request",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"engine"},
	)

	CollectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleaner_collections_total",
			Help: "Orchestrator runs by source type and envelope code (ok on success)",
		},
		[]string{"source", "code"},
	)

	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleaner_tasks_total",
			Help: "Tasks that reached a terminal status",
		},
		[]string{"status"},
	)

	TasksRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gleaner_tasks_running",
			Help: "Tasks currently executing in the worker pool",
		},
	)

	RecordsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleaner_records_ingested_total",
			Help: "Records committed to the store by source type",
		},
		[]string{"source"},
	)

	DuplicatesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleaner_duplicates_skipped_total",
			Help: "Records dropped because the task already had the URL",
		},
		[]string{"source"},
	)

	DeepCollectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleaner_deep_collections_total",
			Help: "Deep collection attempts by outcome",
		},
		[]string{"outcome"},
	)

	StaleTasksFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gleaner_stale_tasks_failed_total",
			Help: "Running tasks failed by the reconciliation sweep",
		},
	)
)

// RecordFetch updates the fetch collectors for one response. status is the
// HTTP status code, or 0 when the request never got one.
func RecordFetch(host string, status int, challenge string, bytes int, d time.Duration) {
	statusStr := "error"
	if status > 0 {
		statusStr = strconv.Itoa(status)
	}
	FetchRequestsTotal.WithLabelValues(host, statusStr, challenge).Inc()
	FetchDuration.WithLabelValues(host).Observe(d.Seconds())
	if bytes > 0 {
		FetchBytesTotal.WithLabelValues(host).Add(float64(bytes))
	}
}

// Server is a standalone /metrics listener.
type Server struct {
	srv *http.Server
}

// Start listens on port in the background and serves /metrics.
func Start(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "port", port, "err", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop shuts the listener down, waiting at most five seconds.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
