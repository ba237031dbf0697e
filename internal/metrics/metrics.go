// Package metrics holds the Prometheus collectors for the playback layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "elchicle"

var (
	Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolutions_total",
		Help:      "Calls to the media resolver, by operation and outcome.",
	}, []string{"op", "outcome"})

	ResolutionWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "resolution_wait_seconds",
		Help:      "Time spent waiting for the process-wide resolution limiter.",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 3.5, 5, 10, 30},
	})

	Enqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enqueue_total",
		Help:      "Queue items by outcome (added, skipped, failed).",
	}, []string{"outcome"})

	Retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Retries issued, by kind (busy, pipeline).",
	}, []string{"kind"})

	Interrupts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "interrupts_total",
		Help:      "Interrupts raised.",
	})

	IdleTeardowns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "idle_teardowns_total",
		Help:      "Sessions torn down because the voice channel was empty.",
	})

	PipelineFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_failures_total",
		Help:      "Audio pipeline failures reported by the player.",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Guild sessions currently alive.",
	})

	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Chat commands handled, by name and result.",
	}, []string{"command", "result"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
