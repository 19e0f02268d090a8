// Package health exposes the dispatch layer's internals as liveness and
// readiness signals. Domain checkers read the circuit breaker registry, the
// invoker pool and the request queue; the aggregator fans checks out in
// parallel and folds them into one status. HTTP handlers serve the usual
// /healthz, /readyz and /health endpoints.
package health
