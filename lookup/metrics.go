package lookup

import (
	"sync"
	"testing"
	"time"

	"github.com/coredns/coredns/plugin"
	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "dnsbl_lookup"

var (
	queryDuration *prometheus.HistogramVec
	metricsOnce   sync.Once
)

// initMetrics registers the lookup metrics once per process. Tests get an
// isolated registry to avoid collisions between parallel packages.
func initMetrics() {
	metricsOnce.Do(func() {
		var registry prometheus.Registerer = prometheus.DefaultRegisterer
		if testing.Testing() {
			registry = prometheus.NewRegistry()
		}

		queryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: plugin.Namespace,
			Subsystem: subsystem,
			Name:      "query_duration_seconds",
			Help:      "Duration of DNSBL queries by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"outcome"})

		registry.MustRegister(queryDuration)
	})
}

// observeQuery records one exchange with a nameserver.
func observeQuery(outcome string, d time.Duration) {
	initMetrics()
	queryDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
