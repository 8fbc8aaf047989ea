/*
Package monitoring provides Prometheus metrics for the broker.

# Overview

Metrics are registered on a private registry owned by Metrics, so several
brokers (or tests) can live in one process. Handler exposes the registry
in the Prometheus text format.

# Coverage

- HTTP request metrics (latency, throughput, size)
- Message channel calls per type (latency, status)
- Forward outcomes (allowed, denied, failed, chunked)
- Consent prompts (open, resolved per decision)
- Chunk store (active sets, chunks served)
- Filter rules (installed count, resync results)
- WebSocket connections and frames

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "request")
	defer timer.Stop("ok")
*/
package monitoring
