// Package metrics exposes Prometheus instrumentation for sessions and
// generator calls.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cotizador_sessions_active",
			Help: "Number of live chat sessions",
		},
	)

	sessionsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cotizador_sessions_closed_total",
			Help: "Total number of closed sessions by reason",
		},
		[]string{"reason"},
	)

	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cotizador_turns_total",
			Help: "Total number of processed turns by kind and response source",
		},
		[]string{"kind", "source"},
	)

	generatorAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cotizador_generator_attempts_total",
			Help: "Total number of generator attempts by provider and result",
		},
		[]string{"provider", "result"},
	)

	generatorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cotizador_generator_duration_seconds",
			Help:    "Generator call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	inactivityTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cotizador_inactivity_events_total",
			Help: "Total number of inactivity stages elapsed",
		},
		[]string{"stage"},
	)

	droppedEmissionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cotizador_dropped_emissions_total",
			Help: "Replies discarded because their session was already gone",
		},
	)

	initOnce sync.Once
)

// Init registers all collectors with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			sessionsActive,
			sessionsClosedTotal,
			turnsTotal,
			generatorAttemptsTotal,
			generatorDuration,
			inactivityTotal,
			droppedEmissionsTotal,
		)
	})
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SessionOpened increments the live session gauge.
func SessionOpened() {
	sessionsActive.Inc()
}

// SessionClosed decrements the live session gauge and counts the reason.
func SessionClosed(reason string) {
	sessionsActive.Dec()
	sessionsClosedTotal.WithLabelValues(reason).Inc()
}

// RecordTurn counts a processed greeting or message turn.
func RecordTurn(kind, source string) {
	turnsTotal.WithLabelValues(kind, source).Inc()
}

// RecordGeneratorAttempt records one generator attempt.
func RecordGeneratorAttempt(provider, result string, duration time.Duration) {
	generatorAttemptsTotal.WithLabelValues(provider, result).Inc()
	generatorDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordInactivity counts an elapsed inactivity stage ("warn" or "close").
func RecordInactivity(stage string) {
	inactivityTotal.WithLabelValues(stage).Inc()
}

// RecordDroppedEmission counts a reply discarded after disconnect.
func RecordDroppedEmission() {
	droppedEmissionsTotal.Inc()
}
