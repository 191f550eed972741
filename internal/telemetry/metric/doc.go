// Package metric provides Prometheus metrics for savekeep.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: the metrics registry, operation counters and /metrics handler
//   - collector.go: a scrape-time collector for save record counts
//
// Every helper on *Registry is safe to call on a nil receiver, so components
// can take an optional registry without nil checks at each call site.
package metric
