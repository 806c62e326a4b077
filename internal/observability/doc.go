// Package observability provides structured logging, metrics, and tracing
// for the governance gateway.
//
// Logging is zap-based, metrics are Prometheus collectors registered on a
// private registry, and tracing goes through the global OpenTelemetry
// tracer provider.
package observability
