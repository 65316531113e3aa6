// Package observability provides structured logging and metrics for the
// access control plane.
//
// This package implements:
//   - zap logger construction from LOG_LEVEL and LOG_FORMAT
//   - Prometheus collectors for access decisions, mutations, lock waits
//     and audit deliveries
//
// A nil *Metrics is valid and records nothing, so core services can be
// built without a registry in tests and offline commands.
package observability
