// Package config loads the YAML configuration of the signals pipeline, applies
// environment overrides and converts it to a coordinator configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-signals/pkg/domain"
	"github.com/polisai/polis-signals/pkg/exporter"
	"github.com/polisai/polis-signals/pkg/telemetry"
)

// Config is the on-disk configuration.
type Config struct {
	// Preset seeds domains and filtering from a named vertical. Explicit
	// domains replace the preset's; explicit filtering fields override it.
	Preset    string                  `yaml:"preset"`
	User      UserConfig              `yaml:"user"`
	Domains   []DomainConfig          `yaml:"domains"`
	Filtering FilteringConfig         `yaml:"filtering"`
	Platforms []domain.PlatformConfig `yaml:"platforms"`
	Telemetry TelemetryConfig         `yaml:"telemetry"`
	Logging   LoggingConfig           `yaml:"logging"`

	Debug            bool          `yaml:"debug"`
	EventLogCapacity int           `yaml:"event_log_capacity"`
	ExportTimeout    time.Duration `yaml:"export_timeout"`
}

// UserConfig is the initial user context.
type UserConfig struct {
	SessionID        string         `yaml:"session_id"`
	UserID           string         `yaml:"user_id"`
	Segment          string         `yaml:"segment"`
	Authenticated    *bool          `yaml:"authenticated"`
	DeviceType       string         `yaml:"device_type"`
	CustomAttributes map[string]any `yaml:"custom_attributes"`
}

// DomainConfig describes one business domain.
type DomainConfig struct {
	Name             string              `yaml:"name"`
	Priority         string              `yaml:"priority"`
	SLATargetMS      int                 `yaml:"sla_target_ms"`
	ErrorThreshold   float64             `yaml:"error_threshold"`
	Features         []string            `yaml:"features"`
	Journeys         map[string][]string `yaml:"journeys"`
	CustomAttributes map[string]any      `yaml:"custom_attributes"`
}

// FilteringConfig is the admission policy. Nil fields keep the preset or
// default value.
type FilteringConfig struct {
	EnableBotDetection      *bool        `yaml:"enable_bot_detection"`
	DomainWhitelist         []string     `yaml:"domain_whitelist"`
	SamplingRate            *float64     `yaml:"sampling_rate"`
	ExcludeExtensions       *bool        `yaml:"exclude_extensions"`
	ExcludeThirdPartyErrors *bool        `yaml:"exclude_third_party_errors"`
	Rules                   []RuleConfig `yaml:"rules"`
}

// Rule types.
const (
	RuleAttribute = "attribute"
	RuleRego      = "rego"
)

// RuleConfig declares a custom filter. Attribute rules use Field, Operator,
// Value and Negate; Rego rules use Module or ModuleFile, Query and Mode.
type RuleConfig struct {
	Type string `yaml:"type"`

	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    string `yaml:"value"`
	Negate   bool   `yaml:"negate"`

	Module     string `yaml:"module"`
	ModuleFile string `yaml:"module_file"`
	Query      string `yaml:"query"`
	Mode       string `yaml:"mode"`
}

// TelemetryConfig configures the OpenTelemetry SDK of the process.
type TelemetryConfig struct {
	ServiceName     string            `yaml:"service_name"`
	Endpoint        string            `yaml:"endpoint"`
	Protocol        string            `yaml:"protocol"`
	Environment     string            `yaml:"environment"`
	Insecure        bool              `yaml:"insecure"`
	Headers         map[string]string `yaml:"headers"`
	ResourceTags    map[string]string `yaml:"resource_tags"`
	MetricsInterval time.Duration     `yaml:"metrics_interval"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a file and applies environment variable
// overrides. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate performs validation of the entire configuration and fills defaults.
func (c *Config) Validate() error {
	if err := c.User.Validate(); err != nil {
		return fmt.Errorf("user configuration: %w", err)
	}
	for i := range c.Domains {
		if err := c.Domains[i].Validate(); err != nil {
			return fmt.Errorf("domain %d: %w", i, err)
		}
	}
	if err := c.Filtering.Validate(); err != nil {
		return fmt.Errorf("filtering configuration: %w", err)
	}
	if err := validatePlatforms(c.Platforms); err != nil {
		return fmt.Errorf("platform configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	if c.EventLogCapacity < 0 {
		return &domain.ConfigError{Field: "event_log_capacity", Message: "must not be negative"}
	}
	if c.ExportTimeout < 0 {
		return &domain.ConfigError{Field: "export_timeout", Message: "must not be negative"}
	}

	domains, _, err := c.resolveBase()
	if err != nil {
		return err
	}
	return domain.ValidateDomains(domains)
}

// Validate checks the initial user context.
func (u *UserConfig) Validate() error {
	switch domain.DeviceType(strings.ToLower(u.DeviceType)) {
	case "", domain.DeviceMobile, domain.DeviceTablet, domain.DeviceDesktop:
		u.DeviceType = strings.ToLower(u.DeviceType)
		return nil
	default:
		return &domain.ConfigError{Field: "user.device_type", Message: fmt.Sprintf("unsupported device type %q", u.DeviceType)}
	}
}

// Validate checks one domain and normalises its priority.
func (d *DomainConfig) Validate() error {
	d.Priority = strings.ToLower(strings.TrimSpace(d.Priority))
	if d.Priority == "" {
		d.Priority = string(domain.PriorityMedium)
	}
	return d.ToDomain().Validate()
}

// ToDomain converts the file representation.
func (d DomainConfig) ToDomain() domain.DomainConfig {
	return domain.DomainConfig{
		Name:             d.Name,
		Priority:         domain.Priority(d.Priority),
		SLATarget:        time.Duration(d.SLATargetMS) * time.Millisecond,
		ErrorThreshold:   d.ErrorThreshold,
		Features:         d.Features,
		Journeys:         d.Journeys,
		CustomAttributes: d.CustomAttributes,
	}
}

// Validate checks the filtering policy and its rules.
func (f *FilteringConfig) Validate() error {
	if f.SamplingRate != nil && (*f.SamplingRate < 0 || *f.SamplingRate > 1) {
		return &domain.ConfigError{Field: "filtering.sampling_rate", Message: fmt.Sprintf("%v is outside [0, 1]", *f.SamplingRate)}
	}
	for i := range f.Rules {
		if err := f.Rules[i].Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks that a rule names its type and the fields that type needs.
func (r *RuleConfig) Validate() error {
	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
	if r.Type == "" {
		r.Type = RuleAttribute
	}
	switch r.Type {
	case RuleAttribute:
		if strings.TrimSpace(r.Field) == "" {
			return &domain.ConfigError{Field: "filtering.rules.field", Message: "attribute rules need a field"}
		}
	case RuleRego:
		if (r.Module == "") == (r.ModuleFile == "") {
			return &domain.ConfigError{Field: "filtering.rules.module", Message: "rego rules need exactly one of module or module_file"}
		}
	default:
		return &domain.ConfigError{Field: "filtering.rules.type", Message: fmt.Sprintf("unsupported rule type %q", r.Type)}
	}
	return nil
}

func validatePlatforms(platforms []domain.PlatformConfig) error {
	supported := exporter.Types()
	seen := make(map[string]struct{}, len(platforms))
	for i, p := range platforms {
		typ := strings.ToLower(strings.TrimSpace(p.Type))
		if typ == "" {
			return &domain.ConfigError{Field: fmt.Sprintf("platforms[%d].type", i), Message: "type is required"}
		}
		if _, err := exporter.New(p, nil); err != nil {
			return &domain.ConfigError{Field: fmt.Sprintf("platforms[%d].type", i), Message: fmt.Sprintf("unsupported type %q, supported: %s", p.Type, strings.Join(supported, ", "))}
		}
		name := p.DisplayName()
		if _, dup := seen[name]; dup {
			return &domain.ConfigError{Field: fmt.Sprintf("platforms[%d].name", i), Message: fmt.Sprintf("duplicate platform name %q", name)}
		}
		seen[name] = struct{}{}
		if p.BatchSize < 0 {
			return &domain.ConfigError{Field: "platforms." + name + ".batch_size", Message: "must not be negative"}
		}
		if _, err := exporter.ParseRedactions(p.Option(exporter.OptionRedact, "")); err != nil {
			return &domain.ConfigError{Field: "platforms." + name + ".options." + exporter.OptionRedact, Message: err.Error()}
		}
	}
	return nil
}

// Validate checks the OTLP protocol and fills the service name.
func (t *TelemetryConfig) Validate() error {
	if strings.TrimSpace(t.ServiceName) == "" {
		t.ServiceName = "polis-signals"
	}
	t.Protocol = strings.ToLower(strings.TrimSpace(t.Protocol))
	switch t.Protocol {
	case "":
		t.Protocol = telemetry.ProtocolGRPC
	case telemetry.ProtocolGRPC, telemetry.ProtocolHTTP:
	default:
		return &domain.ConfigError{Field: "telemetry.protocol", Message: fmt.Sprintf("unsupported protocol %q", t.Protocol)}
	}
	return nil
}

// ToTelemetry converts the SDK settings.
func (t TelemetryConfig) ToTelemetry() telemetry.Config {
	return telemetry.Config{
		ServiceName:     t.ServiceName,
		Endpoint:        t.Endpoint,
		Protocol:        t.Protocol,
		Environment:     t.Environment,
		Insecure:        t.Insecure,
		Headers:         t.Headers,
		ResourceTags:    t.ResourceTags,
		MetricsInterval: t.MetricsInterval,
	}
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}
	if strings.TrimSpace(c.Format) == "" {
		c.Format = "json"
	}

	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	if c.Format != "json" && c.Format != "text" {
		return &domain.ConfigError{Field: "logging.format", Message: fmt.Sprintf("invalid log format %q, supported formats: json, text", c.Format)}
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return &domain.ConfigError{Field: "logging.level", Message: fmt.Sprintf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)}
	}
}
