// Package metrics wires the process's internal counters (CRC errors, active
// connections, pending searches) into a Prometheus registry. This is purely
// ambient observability: no spec'd HTTP route depends on it, and the engine
// runs identically whether or not /metrics is ever scraped.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Registry *prometheus.Registry

	CRCErrors         prometheus.Counter
	FrameErrors       prometheus.Counter
	ActiveConnections prometheus.Gauge
	KnownPeers        prometheus.Gauge
	PendingSearches   prometheus.Gauge
	SearchesCompleted prometheus.Counter
	DocumentsIndexed  prometheus.Counter
	ReplicationSends  prometheus.Counter
	ReplicationFails  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		CRCErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omesh",
			Subsystem: "framing",
			Name:      "crc_errors_total",
			Help:      "Frames dropped due to a CRC-16-CCITT mismatch.",
		}),
		FrameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omesh",
			Subsystem: "framing",
			Name:      "frame_errors_total",
			Help:      "Frames dropped due to sync loss or an out-of-range length.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "omesh",
			Subsystem: "mesh",
			Name:      "active_connections",
			Help:      "Connections currently in the connected state.",
		}),
		KnownPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "omesh",
			Subsystem: "mesh",
			Name:      "known_peers",
			Help:      "Entries currently held in the peer list.",
		}),
		PendingSearches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "omesh",
			Subsystem: "search",
			Name:      "pending",
			Help:      "1 if a distributed search is currently in flight, else 0.",
		}),
		SearchesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omesh",
			Subsystem: "search",
			Name:      "completed_total",
			Help:      "Distributed searches that reached completion or deadline.",
		}),
		DocumentsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omesh",
			Subsystem: "index",
			Name:      "documents_total",
			Help:      "Documents written to the local index.",
		}),
		ReplicationSends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omesh",
			Subsystem: "replication",
			Name:      "index_sends_total",
			Help:      "INDEX, SEARCH and RESULTS messages successfully sent through a non-reactor transport backend.",
		}),
		ReplicationFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omesh",
			Subsystem: "replication",
			Name:      "index_send_failures_total",
			Help:      "INDEX, SEARCH and RESULTS messages whose send through a non-reactor transport backend failed.",
		}),
	}

	reg.MustRegister(
		m.CRCErrors, m.FrameErrors, m.ActiveConnections, m.KnownPeers,
		m.PendingSearches, m.SearchesCompleted, m.DocumentsIndexed,
		m.ReplicationSends, m.ReplicationFails,
	)

	return m
}
