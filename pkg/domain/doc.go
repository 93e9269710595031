// Package domain defines the core telemetry types shared by the filter engine,
// the domain instrumentors, the coordinator and every exporter.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. Everything that touches the OpenTelemetry SDK, the network or
// a storage backend lives in other packages and depends on the types declared here:
//
//	filter, instrument, exporter, coordinator → domain (CORRECT)
//	domain → filter, instrument, exporter     (FORBIDDEN)
//
// The central record is TelemetryEvent. Instrumentors build events, hand them to an
// EventSink, and the coordinator admits or drops them before fanning out to Exporters.
package domain
