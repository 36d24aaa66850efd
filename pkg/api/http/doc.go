// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Run status and per-instance queries
//   - Run cancellation
//   - Health checks
//   - Prometheus metrics
package http
