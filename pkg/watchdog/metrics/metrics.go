// Package metrics wires the watchdog's observable counters and gauges
// using prometheus/client_golang, the library the broader example pack
// reaches for whenever a long-running supervisor wants to expose its
// internal state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the three control loops publish into.
// The zero value is not usable; build one with NewRegistry.
type Registry struct {
	reg *prometheus.Registry

	PeerState *prometheus.GaugeVec

	Kills         *prometheus.CounterVec
	KillFailures  *prometheus.CounterVec
	Restarts      *prometheus.CounterVec
	SpawnFailures *prometheus.CounterVec
	PIDReadFailures *prometheus.CounterVec

	CheckpointsIngested *prometheus.CounterVec
	CheckpointsDropped  *prometheus.CounterVec
}

// NewRegistry builds a fresh, self-contained metrics registry. It is
// independent of the global prometheus.DefaultRegisterer so multiple
// supervisors can coexist in one process without name collisions.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		PeerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "watchdog",
			Name:      "peer_state",
			Help:      "Current lifecycle state of a supervised peer (0=initial, 1=starting, 2=terminated).",
		}, []string{"peer"}),
		Kills: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watchdog",
			Name:      "kills_total",
			Help:      "Deadline breaches that resulted in a successful kill.",
		}, []string{"peer"}),
		KillFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watchdog",
			Name:      "kill_failures_total",
			Help:      "Deadline breaches where the terminate operation failed.",
		}, []string{"peer"}),
		Restarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watchdog",
			Name:      "restarts_total",
			Help:      "Successful peer restarts.",
		}, []string{"peer"}),
		SpawnFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watchdog",
			Name:      "spawn_failures_total",
			Help:      "Launch command failures during restart.",
		}, []string{"peer"}),
		PIDReadFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watchdog",
			Name:      "pid_read_failures_total",
			Help:      "Failures reading the new PID during restart.",
		}, []string{"peer"}),
		CheckpointsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watchdog",
			Name:      "checkpoints_ingested_total",
			Help:      "Well-formed checkpoint records applied to a peer.",
		}, []string{"peer"}),
		CheckpointsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watchdog",
			Name:      "checkpoints_dropped_total",
			Help:      "Checkpoint records a peer rejected during ingest; lines the message channel drops as malformed or out of range are not counted.",
		}, []string{"peer"}),
	}
}

// Handler exposes the registry in the Prometheus text exposition format.
// The caller mounts it wherever its own admin server lives; the watchdog
// never listens on a port itself.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
