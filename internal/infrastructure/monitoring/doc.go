/*
Package monitoring provides Prometheus metrics for the agent.

# Overview

This package tracks the agent's distribution activity: gateway HTTP
traffic, node daemon calls, mirror probes, archive transfers, install
operations, push-channel events, and relay connections.

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to the gateway router
	router.Use(monitoring.Middleware(metrics))

	// Record domain events
	metrics.RecordProbe("online", 120*time.Millisecond)
	metrics.RecordDownloadStarted("http")

	// Time node calls
	timer := monitoring.NewTimer(metrics, "node", "install")
	// ... perform operation ...
	timer.Stop("success")

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
