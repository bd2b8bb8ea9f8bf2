package watchlist

import (
	"sync"
	"testing"

	"github.com/coredns/coredns/plugin"
	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "dnsbl_watchlist"

var (
	entriesGauge *prometheus.GaugeVec
	lastRunGauge *prometheus.GaugeVec
	metricsOnce  sync.Once
)

func initMetrics() {
	metricsOnce.Do(func() {
		var registry prometheus.Registerer = prometheus.DefaultRegisterer
		if testing.Testing() {
			registry = prometheus.NewRegistry()
		}

		entriesGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: plugin.Namespace,
			Subsystem: subsystem,
			Name:      "entries",
			Help:      "Number of addresses in each watchlist.",
		}, []string{"name"})

		lastRunGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: plugin.Namespace,
			Subsystem: subsystem,
			Name:      "last_run_timestamp",
			Help:      "Unix timestamp of the last watchlist resolution.",
		}, []string{"name"})

		registry.MustRegister(entriesGauge, lastRunGauge)
	})
}

func updateEntries(name string, count int) {
	initMetrics()
	entriesGauge.WithLabelValues(name).Set(float64(count))
}

func updateLastRun(name string, unixTimestamp int64) {
	initMetrics()
	lastRunGauge.WithLabelValues(name).Set(float64(unixTimestamp))
}
