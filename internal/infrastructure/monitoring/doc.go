// Package monitoring provides Prometheus metrics and observability.
//
// Metrics cover the HTTP surface (request counts, durations) and the
// loader (fetches, cache hit ratio, in-flight gauge, cancellations,
// failures by reason). A mutex-guarded snapshot mirrors the counters for
// the JSON stats endpoint, since Prometheus counters cannot be read back
// cheaply.
package monitoring
