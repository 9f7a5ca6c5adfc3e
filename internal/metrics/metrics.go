// Package metrics provides Prometheus metrics for the proxy commander.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for admin API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the commander.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	CommandsTotal  *prometheus.CounterVec
	ProxyApplies   *prometheus.CounterVec
	AuthChallenges *prometheus.CounterVec
	SelfHeals      prometheus.Counter
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_pilot_http_requests_total",
			Help: "Total inbound admin HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proxy_pilot_http_request_duration_seconds",
			Help:    "Admin HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_pilot_http_requests_in_flight",
			Help: "Number of admin HTTP requests currently being processed.",
		}),

		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_pilot_commands_total",
			Help: "Command URLs dispatched, by command and outcome.",
		}, []string{"command", "outcome"}),

		ProxyApplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_pilot_proxy_applies_total",
			Help: "Proxy settings applications, by mode and result.",
		}, []string{"mode", "result"}),

		AuthChallenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_pilot_auth_challenges_total",
			Help: "Proxy credential challenges answered, by decision.",
		}, []string{"decision"}),

		SelfHeals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_pilot_self_heals_total",
			Help: "Stale-handler recoveries (reset plus reapply cycles).",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.CommandsTotal,
		m.ProxyApplies,
		m.AuthChallenges,
		m.SelfHeals,
	)

	return m
}

// Label values for ProxyApplies.
const (
	ModeFixed  = "fixed"
	ModeSystem = "system"

	ResultOK    = "ok"
	ResultError = "error"
)

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/api/v1", "/healthz", "/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
