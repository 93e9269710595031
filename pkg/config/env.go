package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/polisai/polis-signals/pkg/domain"
)

// envOverrides holds raw environment values. Booleans and the sampling rate
// stay strings so an unset variable differs from false or zero.
type envOverrides struct {
	Preset          string   `env:"SIGNALS_PRESET"`
	LogLevel        string   `env:"SIGNALS_LOG_LEVEL"`
	LogFormat       string   `env:"SIGNALS_LOG_FORMAT"`
	Debug           string   `env:"SIGNALS_DEBUG"`
	ServiceName     string   `env:"SIGNALS_SERVICE_NAME"`
	Environment     string   `env:"SIGNALS_ENVIRONMENT"`
	OTLPEndpoint    string   `env:"SIGNALS_OTLP_ENDPOINT"`
	OTLPProtocol    string   `env:"SIGNALS_OTLP_PROTOCOL"`
	OTLPInsecure    string   `env:"SIGNALS_OTLP_INSECURE"`
	SamplingRate    string   `env:"SIGNALS_SAMPLING_RATE"`
	BotDetection    string   `env:"SIGNALS_BOT_DETECTION"`
	DomainWhitelist []string `env:"SIGNALS_DOMAIN_WHITELIST" envSeparator:","`
	UserSegment     string   `env:"SIGNALS_USER_SEGMENT"`
}

func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setString(&cfg.Preset, o.Preset)
	setString(&cfg.Logging.Level, o.LogLevel)
	setString(&cfg.Logging.Format, o.LogFormat)
	setString(&cfg.Telemetry.ServiceName, o.ServiceName)
	setString(&cfg.Telemetry.Environment, o.Environment)
	setString(&cfg.Telemetry.Endpoint, o.OTLPEndpoint)
	setString(&cfg.Telemetry.Protocol, o.OTLPProtocol)
	setString(&cfg.User.Segment, o.UserSegment)

	if o.Debug != "" {
		b, err := parseBool("SIGNALS_DEBUG", o.Debug)
		if err != nil {
			return err
		}
		cfg.Debug = b
	}
	if o.OTLPInsecure != "" {
		b, err := parseBool("SIGNALS_OTLP_INSECURE", o.OTLPInsecure)
		if err != nil {
			return err
		}
		cfg.Telemetry.Insecure = b
	}
	if o.BotDetection != "" {
		b, err := parseBool("SIGNALS_BOT_DETECTION", o.BotDetection)
		if err != nil {
			return err
		}
		cfg.Filtering.EnableBotDetection = &b
	}
	if o.SamplingRate != "" {
		rate, err := strconv.ParseFloat(strings.TrimSpace(o.SamplingRate), 64)
		if err != nil {
			return &domain.ConfigError{Field: "SIGNALS_SAMPLING_RATE", Message: fmt.Sprintf("invalid number %q", o.SamplingRate)}
		}
		cfg.Filtering.SamplingRate = &rate
	}
	if len(o.DomainWhitelist) > 0 {
		hosts := make([]string, 0, len(o.DomainWhitelist))
		for _, h := range o.DomainWhitelist {
			if h = strings.TrimSpace(h); h != "" {
				hosts = append(hosts, h)
			}
		}
		cfg.Filtering.DomainWhitelist = hosts
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func parseBool(name, raw string) (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, &domain.ConfigError{Field: name, Message: fmt.Sprintf("invalid boolean %q", raw)}
	}
	return b, nil
}
