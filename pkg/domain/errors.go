package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common domain errors
var (
	ErrDomainNotFound   = errors.New("domain not found")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrNotInitialized   = errors.New("coordinator not initialized")
	ErrExporterUnknown  = errors.New("unknown exporter type")
	ErrExporterDisabled = errors.New("exporter disabled")
)

// NotFoundError reports a lookup for a key that was never configured. It lists the
// keys that are available so the caller can fix the configuration.
type NotFoundError struct {
	Kind      string
	Key       string
	Available []string
}

func (e *NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "domain"
	}
	available := "none"
	if len(e.Available) > 0 {
		available = strings.Join(e.Available, ", ")
	}
	return fmt.Sprintf("%s %q not found (available: %s)", kind, e.Key, available)
}

func (e *NotFoundError) Unwrap() error {
	return ErrDomainNotFound
}

// ConfigError wraps a validation failure with the offending field path.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ConfigError) Unwrap() error {
	return ErrConfigInvalid
}
