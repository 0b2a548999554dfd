// Package observability provides an OpenTelemetry-based metrics extension
// for Circulate. The MetricsExtension implements lifecycle hooks to record
// engine-wide counters for task submission, completion, failure, queue
// clears, concurrency changes, and catalog sync rounds.
//
// For per-execution tracing and duration histograms, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability
