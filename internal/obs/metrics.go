// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lsst-dm/ctrl-joboffice/internal/config"
)

var (
	BlackboardQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "blackboard_queue_depth",
		Help: "Current item count of each Blackboard queue",
	}, []string{"queue"})
	JobsDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_dispatched_total",
		Help: "Total number of jobs dispatched to a pipeline",
	})
	JobsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_completed_total",
		Help: "Total number of successfully completed jobs",
	})
	JobsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_failed_total",
		Help: "Total number of jobs that exhausted their retry budget",
	})
	JobsRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_retried_total",
		Help: "Total number of job retries",
	})
	EventProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "event_processing_duration_seconds",
		Help:    "Histogram of main-loop stage durations",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
	ProcessDatasetDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_process_dataset_duration_seconds",
		Help:    "Histogram of scheduler ProcessDataset durations",
		Buckets: prometheus.DefBuckets,
	})
	CircuitBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open",
	})
	CircuitBreakerTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "circuit_breaker_trips_total",
		Help: "Count of times the circuit breaker transitioned to Open",
	})
	ReaperEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reaper_evicted_total",
		Help: "Total number of pipelinesReady entries evicted for exceeding their TTL",
	})
)

func init() {
	prometheus.MustRegister(BlackboardQueueDepth, JobsDispatched, JobsCompleted, JobsFailed, JobsRetried,
		EventProcessingDuration, ProcessDatasetDuration, CircuitBreakerState, CircuitBreakerTrips, ReaperEvicted)
}

// StartMetricsServer exposes /metrics and returns a server for controlled shutdown.
// StartMetricsServer is retained for compatibility but consider using StartHTTPServer
// which also registers health endpoints.
func StartMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
