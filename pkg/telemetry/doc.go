// Package telemetry wires the OpenTelemetry SDK, pipeline meters and attribute
// redaction for the signal shaping layer.
//
// It centralises tracer and meter provider setup, records how the filter engine
// and exporters behave, and offers helpers that convert event attributes to
// OpenTelemetry attributes and strip sensitive values before any event leaves
// the process.
package telemetry
