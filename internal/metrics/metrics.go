// Package metrics exposes Prometheus counters and histograms for the
// client dispersal/collection path and the peer storage engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/histogram this binary exports.
type Metrics struct {
	registry *prometheus.Registry

	DisperseTotal   prometheus.Counter
	DisperseLatency prometheus.Histogram
	CollectTotal    prometheus.Counter
	CollectLatency  prometheus.Histogram

	PeerAdmitTotal prometheus.Counter
	PeerFullTotal  prometheus.Counter
	PeerSaveTotal  prometheus.Counter
	PeerGetTotal   prometheus.Counter
	PeerDropTotal  *prometheus.CounterVec
}

// New builds and registers a fresh metric set against its own registry,
// so multiple Metrics instances (e.g. in tests) never collide on the
// default global registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DisperseTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leafnode_disperse_total",
			Help: "Total full-file dispersal attempts.",
		}),
		DisperseLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leafnode_disperse_duration_seconds",
			Help:    "Latency of a full-file dispersal.",
			Buckets: prometheus.DefBuckets,
		}),
		CollectTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leafnode_collect_total",
			Help: "Total full-file collection attempts.",
		}),
		CollectLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leafnode_collect_duration_seconds",
			Help:    "Latency of a full-file collection.",
			Buckets: prometheus.DefBuckets,
		}),
		PeerAdmitTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leafnode_peer_admit_total",
			Help: "Total SendingReq messages admitted.",
		}),
		PeerFullTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leafnode_peer_full_total",
			Help: "Total SendingReq messages not admitted (capacity reached or digest already stored).",
		}),
		PeerSaveTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leafnode_peer_save_total",
			Help: "Total chunks saved to local storage.",
		}),
		PeerGetTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leafnode_peer_get_total",
			Help: "Total chunks served from local storage.",
		}),
		PeerDropTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leafnode_peer_drop_total",
			Help: "Total inbound messages dropped, by reason.",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		m.DisperseTotal, m.DisperseLatency,
		m.CollectTotal, m.CollectLatency,
		m.PeerAdmitTotal, m.PeerFullTotal, m.PeerSaveTotal, m.PeerGetTotal,
		m.PeerDropTotal,
	)
	return m
}

// Handler serves /metrics for this Metrics' registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
