// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chunkAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_chunk_attempts_total",
		Help: "Vendor synthesis attempts by provider and outcome",
	}, []string{"provider", "outcome"})

	keyRetirements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_key_retirements_total",
		Help: "API keys retired from the pool",
	}, []string{"reason"})

	pipelineFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_pipeline_failures_total",
		Help: "Pipeline operations that returned an error",
	}, []string{"operation"})

	pipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audio_pipeline_duration_seconds",
		Help:    "Wall time of pipeline operations",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"operation"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_deny_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"route"})
)

// Chunk attempt outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeAuth      = "auth_failure"
	OutcomeTransient = "transient"
	OutcomeFatal     = "fatal"
)

func ChunkAttempt(provider, outcome string) {
	chunkAttempts.WithLabelValues(provider, outcome).Inc()
}

func KeyRetired(reason string) {
	keyRetirements.WithLabelValues(reason).Inc()
}

// ObservePipeline records one operation. Call it with the operation's final error.
func ObservePipeline(operation string, start time.Time, err error) {
	pipelineDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		pipelineFailures.WithLabelValues(operation).Inc()
	}
}

func ObserveHTTP(route string, status int, d time.Duration) {
	httpDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(d.Seconds())
}

func RateLimited(route string) {
	rateLimited.WithLabelValues(route).Inc()
}
