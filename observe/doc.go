// Package observe provides structured logging, OpenTelemetry tracing, and
// metrics for the dispatch layer. Everything here is fire-and-forget: a sink
// failure is dropped, never propagated back into the dispatch path.
package observe
