// Package logging provides structured logging using uber/zap.
//
// Two output modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for human readability
//
// When Rotation is set, every entry is also written as JSON to a file
// rotated by lumberjack.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Broker starting", zap.String("port", "8000"))
//	logger.Error("Resync failed", zap.Error(err))
package logging
