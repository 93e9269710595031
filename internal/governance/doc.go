// Package governance holds the safety controls that protect remote telemetry
// backends: a circuit breaker that stops calling a failing exporter for a
// cool-down period, and a retry helper with exponential backoff.
package governance
