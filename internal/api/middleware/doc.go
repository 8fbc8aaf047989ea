// Package middleware holds the gin middleware of the broker's own HTTP
// surface.
//
// Available Middleware:
//   - CORS: cross-origin access for the consent UI, via gin-contrib/cors
//   - RateLimit: per-client token buckets, via golang.org/x/time/rate
//
// These guard the broker's REST and WebSocket endpoints only. Forwarded
// requests are governed by the permission rules, not by this package.
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
