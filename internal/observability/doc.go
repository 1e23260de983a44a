// Package observability provides structured logging for the gateway.
//
// This package implements:
//   - zap logger construction from LOG_LEVEL and LOG_FORMAT
//   - Request-scoped loggers carried through context
package observability
