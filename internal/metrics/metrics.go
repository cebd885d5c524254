// Package metrics exposes Prometheus counters for portal traffic and polling.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "mog_"

	resultSuccess = "success"
	resultError   = "error"
)

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)

var (
	registerOnce sync.Once

	requestsTotal  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec

	authTotal *prometheus.CounterVec

	pollTotal   *prometheus.CounterVec
	pollLatency *prometheus.HistogramVec

	contractsTracked *prometheus.GaugeVec

	pushTotal *prometheus.CounterVec
)

// Init registers the metrics with the default registry. Observers are no-ops until it runs.
func Init() {
	registerOnce.Do(func() {
		requestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "portal_requests_total",
				Help: "Total portal HTTP requests by endpoint and result",
			},
			[]string{"endpoint", "result"},
		)
		requestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "portal_request_latency_seconds",
				Help:    "Portal HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		)

		authTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "auth_attempts_total",
				Help: "Total authentication attempts by outcome",
			},
			[]string{"outcome"},
		)

		pollTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "poll_runs_total",
				Help: "Total poll runs by outcome",
			},
			[]string{"outcome"},
		)
		pollLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "poll_latency_seconds",
				Help:    "Poll run latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		)

		contractsTracked = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "contracts_tracked",
				Help: "Contracts currently tracked per account",
			},
			[]string{"account"},
		)

		pushTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "indication_pushes_total",
				Help: "Total meter indication pushes by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			requestsTotal,
			requestLatency,
			authTotal,
			pollTotal,
			pollLatency,
			contractsTracked,
			pushTotal,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest records one portal request.
func ObserveRequest(endpoint, result string, duration time.Duration) {
	if endpoint == "" {
		endpoint = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if requestsTotal != nil {
		requestsTotal.WithLabelValues(endpoint, result).Inc()
	}
	if requestLatency != nil {
		requestLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
	}
}

// IncAuth counts an authentication attempt.
func IncAuth(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if authTotal != nil {
		authTotal.WithLabelValues(outcome).Inc()
	}
}

// ObservePoll records a poll run.
func ObservePoll(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = resultSuccess
	}
	if pollTotal != nil {
		pollTotal.WithLabelValues(outcome).Inc()
	}
	if pollLatency != nil {
		pollLatency.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// SetContracts sets the number of contracts tracked for an account.
func SetContracts(account string, count int) {
	if contractsTracked != nil {
		contractsTracked.WithLabelValues(account).Set(float64(count))
	}
}

// IncPush counts an indication push.
func IncPush(result string) {
	if result == "" {
		result = resultSuccess
	}
	if pushTotal != nil {
		pushTotal.WithLabelValues(result).Inc()
	}
}
