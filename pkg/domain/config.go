package domain

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"
)

// Priority ranks a business domain.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// DomainConfig is the static description of one business domain.
type DomainConfig struct {
	Name           string
	Priority       Priority
	SLATarget      time.Duration
	ErrorThreshold float64
	Features       []string
	// Journeys maps a journey name to its ordered step list. Step numbers are
	// derived from the position in this list.
	Journeys         map[string][]string
	CustomAttributes map[string]any
}

// Validate checks the invariants of a single domain.
func (c DomainConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ConfigError{Field: "domains.name", Message: "name is required"}
	}
	if c.Priority != "" && !c.Priority.Valid() {
		return &ConfigError{Field: "domains." + c.Name + ".priority", Message: fmt.Sprintf("unsupported priority %q", c.Priority)}
	}
	if c.SLATarget <= 0 {
		return &ConfigError{Field: "domains." + c.Name + ".sla_target", Message: "must be positive"}
	}
	if c.ErrorThreshold <= 0 || c.ErrorThreshold > 1 {
		return &ConfigError{Field: "domains." + c.Name + ".error_threshold", Message: "must be in (0, 1]"}
	}
	return nil
}

// Clone deep-copies the slices and maps of the configuration.
func (c DomainConfig) Clone() DomainConfig {
	out := c
	out.Features = slices.Clone(c.Features)
	out.CustomAttributes = maps.Clone(c.CustomAttributes)
	if c.Journeys != nil {
		out.Journeys = make(map[string][]string, len(c.Journeys))
		for name, steps := range c.Journeys {
			out.Journeys[name] = slices.Clone(steps)
		}
	}
	return out
}

// ValidateDomains checks every domain and rejects duplicate names.
func ValidateDomains(domains []DomainConfig) error {
	seen := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := seen[d.Name]; dup {
			return &ConfigError{Field: "domains", Message: fmt.Sprintf("duplicate domain name %q", d.Name)}
		}
		seen[d.Name] = struct{}{}
	}
	return nil
}

// Predicate is a custom admission filter. Returning false drops the event.
type Predicate func(event TelemetryEvent, uc UserContext) bool

// FilterConfig is the admission policy of the filter engine. It is treated as an
// immutable value: updates produce a new FilterConfig.
type FilterConfig struct {
	EnableBotDetection      bool
	DomainWhitelist         []string
	SamplingRate            float64
	ExcludeExtensions       bool
	ExcludeThirdPartyErrors bool
	CustomFilters           []Predicate
}

// Normalized returns a copy with the sampling rate clamped to [0,1] and the
// slices detached from the caller's backing arrays.
func (c FilterConfig) Normalized() FilterConfig {
	out := c
	out.SamplingRate = ClampRate(c.SamplingRate)
	out.DomainWhitelist = slices.Clone(c.DomainWhitelist)
	out.CustomFilters = slices.Clone(c.CustomFilters)
	return out
}

// FilterConfigUpdate is a shallow partial of FilterConfig. A non-nil
// CustomFilters replaces the whole predicate list.
type FilterConfigUpdate struct {
	EnableBotDetection      *bool
	DomainWhitelist         []string
	SamplingRate            *float64
	ExcludeExtensions       *bool
	ExcludeThirdPartyErrors *bool
	CustomFilters           []Predicate
}

// Apply merges u into a copy of c.
func (c FilterConfig) Apply(u FilterConfigUpdate) FilterConfig {
	out := c
	if u.EnableBotDetection != nil {
		out.EnableBotDetection = *u.EnableBotDetection
	}
	if u.DomainWhitelist != nil {
		out.DomainWhitelist = u.DomainWhitelist
	}
	if u.SamplingRate != nil {
		out.SamplingRate = *u.SamplingRate
	}
	if u.ExcludeExtensions != nil {
		out.ExcludeExtensions = *u.ExcludeExtensions
	}
	if u.ExcludeThirdPartyErrors != nil {
		out.ExcludeThirdPartyErrors = *u.ExcludeThirdPartyErrors
	}
	if u.CustomFilters != nil {
		out.CustomFilters = u.CustomFilters
	}
	return out.Normalized()
}

// ClampRate bounds a sampling rate to [0,1].
func ClampRate(rate float64) float64 {
	switch {
	case math.IsNaN(rate), rate < 0:
		return 0
	case rate > 1:
		return 1
	}
	return rate
}

// PlatformConfig selects and configures one exporter backend.
type PlatformConfig struct {
	Type          string            `yaml:"type" json:"type"`
	Name          string            `yaml:"name" json:"name"`
	Endpoint      string            `yaml:"endpoint" json:"endpoint"`
	APIKey        string            `yaml:"api_key" json:"-"`
	Headers       map[string]string `yaml:"headers" json:"headers,omitempty"`
	BatchSize     int               `yaml:"batch_size" json:"batchSize,omitempty"`
	FlushInterval time.Duration     `yaml:"flush_interval" json:"flushInterval,omitempty"`
	Options       map[string]string `yaml:"options" json:"options,omitempty"`
}

// DisplayName returns Name, falling back to Type.
func (p PlatformConfig) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Type
}

// Option returns an option value or the fallback when unset.
func (p PlatformConfig) Option(key, fallback string) string {
	if v, ok := p.Options[key]; ok && v != "" {
		return v
	}
	return fallback
}
