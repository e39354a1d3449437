// Package metrics exposes Prometheus instrumentation for the relay
// machinery. Everything registers against a package-private registry so
// embedding applications can mount it wherever they serve metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	relayBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "readingproc",
		Name:      "relay_bytes_total",
		Help:      "Bytes relayed from child process pipes, by stream.",
	}, []string{"stream"})

	relayChunks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "readingproc",
		Name:      "relay_chunks_total",
		Help:      "Chunks relayed from child process pipes, by stream.",
	}, []string{"stream"})

	timeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "readingproc",
		Name:      "timeouts_total",
		Help:      "Iteration timeouts raised, by kind (chunk or total).",
	}, []string{"kind"})

	signals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "readingproc",
		Name:      "signals_total",
		Help:      "Shutdown signals sent to child process groups, by kind.",
	}, []string{"signal"})

	processStarts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "readingproc",
		Name:      "process_starts_total",
		Help:      "Child processes spawned.",
	})
)

func init() {
	registry.MustRegister(relayBytes, relayChunks, timeouts, signals, processStarts)
}

// Registry returns the Prometheus registry containing all readingproc
// metrics.
func Registry() *prometheus.Registry {
	return registry
}

// AddRelayed records one relayed chunk of n bytes for a stream.
func AddRelayed(stream string, n int) {
	if n <= 0 {
		return
	}
	relayBytes.WithLabelValues(stream).Add(float64(n))
	relayChunks.WithLabelValues(stream).Inc()
}

// IncTimeouts increments the timeout counter for the given kind.
func IncTimeouts(kind string) {
	timeouts.WithLabelValues(kind).Inc()
}

// IncSignals increments the signal counter for the given kind.
func IncSignals(signal string) {
	signals.WithLabelValues(signal).Inc()
}

// IncProcessStarts increments the spawned-process counter.
func IncProcessStarts() {
	processStarts.Inc()
}
