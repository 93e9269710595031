// Package coordinator wires the filter engine, the domain instrumentors and the
// exporters together.
//
// A Coordinator owns the user context and the lifecycle. Initialize classifies
// the session, sets up the OpenTelemetry SDK, builds the exporters and binds one
// instrumentor per configured domain to an internal sink. Every event emitted by
// an instrumentor passes through the filter engine; admitted events are appended
// to the event log and handed to each exporter on its own goroutine.
package coordinator
