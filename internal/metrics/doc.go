// Package metrics exposes queue activity as Prometheus metrics. The
// Collector listens to lifecycle events, so the queue itself has no
// dependency on Prometheus.
package metrics
