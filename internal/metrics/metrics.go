// Package metrics exposes the gateway's Prometheus instrumentation,
// following the package-level promauto vars + Record*/Set*/Sample* helpers
// convention used throughout cartographus's internal/metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_pending_requests",
		Help: "Current depth of the multiplexer's pending-request table.",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_websocket_connections",
		Help: "Current number of active WebSocket connections.",
	})

	TierOutstandingPolls = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_subscription_tier_outstanding_polls",
		Help: "Whether a poll is currently outstanding for a subscription tier (0 or 1).",
	}, []string{"tier"})

	TemperatureSamplesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_temperature_samples_written_total",
		Help: "Total number of samples written into the temperature ring store.",
	})

	HostLinkState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_hostlink_state",
		Help: "Host-link connection state (0=disconnected, 1=connecting, 2=initializing, 3=ready, 4=shutdown).",
	})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
	}, []string{"name"})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Total number of client requests submitted to the multiplexer.",
	}, []string{"endpoint", "outcome"})
)

// RecordRequestOutcome records a terminal client-request outcome
// ("ok", "timeout", "host_error", "disconnected").
func RecordRequestOutcome(endpoint, outcome string) {
	RequestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// SetTierOutstanding reflects a subscription tier's in-flight poll flag.
func SetTierOutstanding(tier int, outstanding bool) {
	v := 0.0
	if outstanding {
		v = 1.0
	}
	TierOutstandingPolls.WithLabelValues(tierLabel(tier)).Set(v)
}

func tierLabel(tier int) string {
	const digits = "0123456789"
	if tier < 0 || tier > 9 {
		return "?"
	}
	return string(digits[tier])
}

// PendingCounter is the subset of *multiplexer.Multiplexer this package
// samples from.
type PendingCounter interface {
	PendingCount() int
}

// SamplePendingRequests updates the pending-table depth gauge; called
// once a second from cmd/gatewayd's own pending-requests sampler, not
// from internal/tempstore's fill loop.
func SamplePendingRequests(m PendingCounter) {
	PendingRequests.Set(float64(m.PendingCount()))
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
