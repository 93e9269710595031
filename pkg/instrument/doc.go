// Package instrument wraps the operations of one business domain so that every
// call yields a timed, business-tagged telemetry event.
//
// An Instrumentor captures its DomainConfig and UserContext at construction and
// never changes afterwards; when the context changes the owner builds a new one.
// Every call starts an OpenTelemetry span, records pipeline metrics and hands the
// finished event to an EventSink. Failures of wrapped operations are reported in
// the returned InstrumentationResult and never propagated as panics or errors.
package instrument
