// Package exporter delivers admitted telemetry events to backends.
//
// Every backend implements domain.Exporter: it is built unconfigured by New,
// configured once from a domain.PlatformConfig and then receives batches through
// Export. Remote backends batch internally, apply attribute redaction before
// data leaves the process and implement domain.Destroyer to flush on shutdown.
package exporter
