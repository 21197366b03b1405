// Package metrics provides the centralized Prometheus metrics registry for
// the proxy swarm dispatcher. Metrics are defined in their respective
// packages (swarm, readiness) via promauto to keep them next to the code
// that drives them.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the module.
// All metrics are automatically registered via promauto in their respective
// packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Dispatch Metrics (pkg/swarm):
//   - swarm_items_total{outcome} (Counter): Dispatched items by outcome
//     (success, network, timeout, handler)
//   - swarm_item_duration_seconds (Histogram): Per-item wall-clock duration
//   - swarm_waves_total (Counter): Waves dispatched
//   - swarm_inflight_items (Gauge): Items currently in flight
//   - swarm_eta_seconds (Gauge): Projected seconds until batch completion
//
// Readiness Metrics (pkg/readiness):
//   - swarm_readiness_probes_total{result} (Counter): Probes by result
//     (ready, unready)
//   - swarm_readiness_wait_seconds (Histogram): Full-set readiness wait
//
// Example Prometheus Queries:
//
//   # Failure rate over the last five minutes
//   sum(rate(swarm_items_total{outcome!="success"}[5m])) /
//   sum(rate(swarm_items_total[5m]))
//
//   # P95 item latency
//   histogram_quantile(0.95, rate(swarm_item_duration_seconds_bucket[5m]))
//
//   # Current completion projection
//   swarm_eta_seconds
//
//   # Proxies still warming up during a readiness wait
//   rate(swarm_readiness_probes_total{result="unready"}[1m])
