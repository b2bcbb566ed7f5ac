/*
Package monitoring provides Prometheus metrics for the launcher.

# Overview

Every security-relevant event is counted: launches by outcome, jar fetches,
signature verifications by resulting signing state, permission denials by
permission kind, user prompts by kind and decision, and units of work that
ignored a stop request.

# Usage

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	metrics.RecordLaunch("success")
	metrics.RecordDenial("file")

A nil *Metrics is valid and records nothing, so packages can be tested
without a registry.

# Exposition

The control API serves the registry at /metrics when it is enabled.
*/
package monitoring
