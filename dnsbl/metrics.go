package dnsbl

import (
	"sync"
	"testing"

	"github.com/coredns/coredns/plugin"
	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "dnsbl"

var (
	requestCount  *prometheus.CounterVec
	authFailures  *prometheus.CounterVec
	responseCount *prometheus.CounterVec
	metricsOnce   sync.Once
)

// initMetrics initializes and registers plugin metrics with appropriate registry.
// Uses sync.Once to ensure single initialization across parallel tests.
func initMetrics() {
	metricsOnce.Do(func() {
		var registry prometheus.Registerer = prometheus.DefaultRegisterer

		if testing.Testing() {
			// Use isolated registry in tests to avoid metric collisions
			registry = prometheus.NewRegistry()
		}

		requestCount = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: plugin.Namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Counter of HTTP API requests by status code.",
		}, []string{"code"})

		authFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: plugin.Namespace,
			Subsystem: subsystem,
			Name:      "auth_failures_total",
			Help:      "Counter of rejected API credentials by reason.",
		}, []string{"reason"})

		responseCount = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: plugin.Namespace,
			Subsystem: subsystem,
			Name:      "dns_responses_total",
			Help:      "Counter of DNS answers served from the cache by type.",
		}, []string{"type"})

		registry.MustRegister(requestCount, authFailures, responseCount)
	})
}

func dnsToString(qtype uint16) string {
	if s, ok := dns.TypeToString[qtype]; ok {
		return s
	}
	return "UNKNOWN"
}
