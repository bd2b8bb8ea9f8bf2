package resolver

import (
	"testing"

	"github.com/coredns/coredns/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const subsystem = "dnsbl"

var (
	resolveCount = promauto.With(registerer()).NewCounterVec(prometheus.CounterOpts{
		Namespace: plugin.Namespace,
		Subsystem: subsystem,
		Name:      "resolve_total",
		Help:      "Counter of address resolutions by outcome.",
	}, []string{"outcome"})

	inflight = promauto.With(registerer()).NewGauge(prometheus.GaugeOpts{
		Namespace: plugin.Namespace,
		Subsystem: subsystem,
		Name:      "resolve_inflight",
		Help:      "Number of resolutions currently running.",
	})

	batchSize = promauto.With(registerer()).NewHistogram(prometheus.HistogramOpts{
		Namespace: plugin.Namespace,
		Subsystem: subsystem,
		Name:      "batch_size",
		Help:      "Number of addresses per processed batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})
)

// registerer keeps test binaries off the default registry.
func registerer() prometheus.Registerer {
	if testing.Testing() {
		return prometheus.NewRegistry()
	}
	return prometheus.DefaultRegisterer
}
