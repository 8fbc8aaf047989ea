// Package config provides 12-factor configuration for the broker and the
// caller CLI.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags override environment variables.
//
// Configuration Sections:
//   - Server: HTTP/WebSocket listener
//   - Store: SQLite permission database and optional seed file
//   - Broker: chunking thresholds and prompt lifetime
//   - Upstream: outgoing HTTP client limits
//   - Caller: broker address and reply timeouts used by cmd/fetch
//   - Logging: level, format and optional rotated log file
//   - RateLimit: per-IP rate limiting of the broker surface
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Broker listening on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
