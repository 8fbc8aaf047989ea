// Package main runs the corsbroker server.
//
// The broker forwards HTTP requests on behalf of callers that cannot make
// cross-origin requests themselves. Callers connect over WebSocket at
// /stream?origin=<origin>; requests to hosts the origin has not been
// granted fail with NeedPermission until the user accepts a prompt through
// the REST endpoints.
//
// Configuration:
//   - Environment variables (see internal/infrastructure/config)
//   - CLI flags (override env vars)
//
// Usage:
//
//	./server -port 8000 -store corsbroker.db -seed rules.yaml
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
