// Package policy evaluates Rego modules with the embedded Open Policy Agent
// engine and exposes them as filter predicates.
//
// A module sees one telemetry event and the active user context as its input
// document and answers whether the event should be kept. Queries are prepared
// once at construction so per-event evaluation only binds the input.
package policy
