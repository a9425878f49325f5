// Package observability provides structured logging and Prometheus metrics
// for the authorization engine.
//
// The logger wraps log/slog with a JSON handler and carries request and
// actor identifiers through context. Metrics cover permission resolution,
// grant lifecycle mutations, the expiry sweep, and audit record writes.
package observability
