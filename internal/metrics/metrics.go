package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level collectors. Helpers are no-ops until Register succeeds.
var (
	regOK atomic.Bool

	backendStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lectern",
			Subsystem: "backend",
			Name:      "starts_total",
			Help:      "Backend start attempts by outcome.",
		}, []string{"result"},
	)
	backendStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lectern",
			Subsystem: "backend",
			Name:      "stops_total",
			Help:      "Backend processes stopped.",
		},
	)
	backendStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lectern",
			Subsystem: "backend",
			Name:      "start_duration_seconds",
			Help:      "Time from spawn to first healthy check.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
	backendUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lectern",
			Subsystem: "backend",
			Name:      "up",
			Help:      "1 while the supervised backend is running.",
		},
	)

	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lectern",
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Health checks by resulting status kind.",
		}, []string{"status"},
	)
	healthCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lectern",
			Subsystem: "health",
			Name:      "check_duration_seconds",
			Help:      "Latency of a single health check.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	pollAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lectern",
			Subsystem: "poll",
			Name:      "attempts_total",
			Help:      "Fetch attempts made by polling jobs.",
		}, []string{"kind"},
	)
	pollJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lectern",
			Subsystem: "poll",
			Name:      "jobs_total",
			Help:      "Finished polling jobs by outcome (complete, timed_out, cancelled, error).",
		}, []string{"kind", "outcome"},
	)
	pollActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lectern",
			Subsystem: "poll",
			Name:      "active_jobs",
			Help:      "Polling jobs currently waiting on the backend.",
		}, []string{"kind"},
	)
)

// Register registers all collectors with r. Calling it again after a
// successful registration is a no-op.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		backendStarts, backendStops, backendStartDuration, backendUp,
		healthChecks, healthCheckDuration,
		pollAttempts, pollJobs, pollActive,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves a specific gatherer, used with a private registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func IncStart(result string) {
	if regOK.Load() {
		backendStarts.WithLabelValues(result).Inc()
	}
}

func IncStop() {
	if regOK.Load() {
		backendStops.Inc()
	}
}

func ObserveStartDuration(seconds float64) {
	if regOK.Load() {
		backendStartDuration.Observe(seconds)
	}
}

func SetUp(up bool) {
	if regOK.Load() {
		var v float64
		if up {
			v = 1
		}
		backendUp.Set(v)
	}
}

func ObserveHealthCheck(kind string, seconds float64) {
	if regOK.Load() {
		healthChecks.WithLabelValues(kind).Inc()
		healthCheckDuration.Observe(seconds)
	}
}

func IncPollAttempt(kind string) {
	if regOK.Load() {
		pollAttempts.WithLabelValues(kind).Inc()
	}
}

func IncPollJob(kind, outcome string) {
	if regOK.Load() {
		pollJobs.WithLabelValues(kind, outcome).Inc()
	}
}

func AddActivePolls(kind string, delta int) {
	if regOK.Load() {
		pollActive.WithLabelValues(kind).Add(float64(delta))
	}
}
