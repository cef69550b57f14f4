// Package metrics is a minimal counter/gauge registry exposed in Prometheus
// text exposition format on /metrics. It exists so the drop/reject/failure
// paths of the pipeline are operator-visible, not just logged.
package metrics
