/*
Package monitoring provides Prometheus metrics for the trace pipeline.

# Overview

Metrics cover three areas: the HTTP fallback surface (latency, status,
response size), the trace store (recorded, completed, evicted, truncated,
resident) and the WebSocket hub (open channels, messages by direction and
type, broadcasts, channels dropped as slow consumers).

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	timer := monitoring.NewTimer(metrics, "list")
	// ... read the store ...
	timer.Stop("http")

A nil *Metrics is valid and records nothing.
*/
package monitoring
