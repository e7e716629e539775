// Package metrics provides the observability hooks of the build pipeline.
//
// Components receive a Recorder through their constructors and default to
// NoopRecorder, so metrics never require nil checks at call sites. The daemon
// swaps in a PrometheusRecorder when monitoring.metrics.enabled is set and
// serves it through HTTPHandler.
package metrics
