package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/polisai/polis-signals/pkg/coordinator"
	"github.com/polisai/polis-signals/pkg/domain"
	"github.com/polisai/polis-signals/pkg/filter"
	"github.com/polisai/polis-signals/pkg/logging"
	"github.com/polisai/polis-signals/pkg/policy"
)

// resolveBase returns the domains and filter defaults before file overrides:
// the preset's when one is named, otherwise the configured domains and
// coordinator.DefaultFilterConfig.
func (c *Config) resolveBase() ([]domain.DomainConfig, domain.FilterConfig, error) {
	filtering := coordinator.DefaultFilterConfig()
	var domains []domain.DomainConfig

	if c.Preset != "" {
		preset, err := coordinator.Preset(c.Preset)
		if err != nil {
			return nil, domain.FilterConfig{}, &domain.ConfigError{Field: "preset", Message: err.Error()}
		}
		domains, filtering = preset.Domains, preset.Filtering
	}
	if len(c.Domains) > 0 {
		domains = make([]domain.DomainConfig, 0, len(c.Domains))
		for _, d := range c.Domains {
			domains = append(domains, d.ToDomain())
		}
	}
	return domains, filtering, nil
}

// Coordinator converts the file configuration into a coordinator
// configuration, compiling filter rules. Relative Rego module files resolve
// against baseDir.
func (c *Config) Coordinator(ctx context.Context, baseDir string, logger *slog.Logger) (coordinator.Config, error) {
	domains, base, err := c.resolveBase()
	if err != nil {
		return coordinator.Config{}, err
	}
	if len(domains) == 0 {
		return coordinator.Config{}, &domain.ConfigError{Field: "domains", Message: "no domains configured and no preset selected"}
	}

	filtering, err := c.Filtering.apply(ctx, base, baseDir, logger)
	if err != nil {
		return coordinator.Config{}, err
	}

	return coordinator.Config{
		UserContext:      c.User.ToUpdate(),
		Domains:          domains,
		Filtering:        filtering,
		Platforms:        c.Platforms,
		Telemetry:        c.Telemetry.ToTelemetry(),
		Debug:            c.Debug,
		EventLogCapacity: c.EventLogCapacity,
		ExportTimeout:    c.ExportTimeout,
	}, nil
}

// FilterUpdate builds a full replacement of the live filter configuration, for
// hot reload.
func (c *Config) FilterUpdate(ctx context.Context, baseDir string, logger *slog.Logger) (domain.FilterConfigUpdate, error) {
	_, base, err := c.resolveBase()
	if err != nil {
		return domain.FilterConfigUpdate{}, err
	}
	f, err := c.Filtering.apply(ctx, base, baseDir, logger)
	if err != nil {
		return domain.FilterConfigUpdate{}, err
	}

	whitelist := f.DomainWhitelist
	if whitelist == nil {
		whitelist = []string{}
	}
	predicates := f.CustomFilters
	if predicates == nil {
		predicates = []domain.Predicate{}
	}
	return domain.FilterConfigUpdate{
		EnableBotDetection:      &f.EnableBotDetection,
		DomainWhitelist:         whitelist,
		SamplingRate:            &f.SamplingRate,
		ExcludeExtensions:       &f.ExcludeExtensions,
		ExcludeThirdPartyErrors: &f.ExcludeThirdPartyErrors,
		CustomFilters:           predicates,
	}, nil
}

// Logger returns the logging settings.
func (c *Config) Logger() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format}
}

// ToUpdate converts the initial user context.
func (u UserConfig) ToUpdate() domain.UserContextUpdate {
	var out domain.UserContextUpdate
	if u.SessionID != "" {
		out.SessionID = domain.Ptr(u.SessionID)
	}
	if u.UserID != "" {
		out.UserID = domain.Ptr(u.UserID)
	}
	if u.Segment != "" {
		out.UserSegment = domain.Ptr(u.Segment)
	}
	if u.Authenticated != nil {
		out.IsAuthenticated = domain.Ptr(*u.Authenticated)
	}
	if u.DeviceType != "" {
		out.DeviceType = domain.Ptr(domain.DeviceType(u.DeviceType))
	}
	out.CustomAttributes = u.CustomAttributes
	return out
}

func (f FilteringConfig) apply(ctx context.Context, base domain.FilterConfig, baseDir string, logger *slog.Logger) (domain.FilterConfig, error) {
	out := base
	if f.EnableBotDetection != nil {
		out.EnableBotDetection = *f.EnableBotDetection
	}
	if f.DomainWhitelist != nil {
		out.DomainWhitelist = f.DomainWhitelist
	}
	if f.SamplingRate != nil {
		out.SamplingRate = *f.SamplingRate
	}
	if f.ExcludeExtensions != nil {
		out.ExcludeExtensions = *f.ExcludeExtensions
	}
	if f.ExcludeThirdPartyErrors != nil {
		out.ExcludeThirdPartyErrors = *f.ExcludeThirdPartyErrors
	}

	predicates, err := compileRules(ctx, f.Rules, baseDir, logger)
	if err != nil {
		return domain.FilterConfig{}, err
	}
	out.CustomFilters = append(out.CustomFilters, predicates...)
	return out.Normalized(), nil
}

func compileRules(ctx context.Context, rules []RuleConfig, baseDir string, logger *slog.Logger) ([]domain.Predicate, error) {
	predicates := make([]domain.Predicate, 0, len(rules))
	for i, r := range rules {
		switch r.Type {
		case RuleRego:
			module := r.Module
			if r.ModuleFile != "" {
				path := r.ModuleFile
				if !filepath.IsAbs(path) && baseDir != "" {
					path = filepath.Join(baseDir, path)
				}
				//nolint:gosec // Module path comes from the operator's config file
				data, err := os.ReadFile(path)
				if err != nil {
					return nil, fmt.Errorf("rule %d: read module: %w", i, err)
				}
				module = string(data)
			}
			p, err := policy.NewPredicate(ctx, policy.Options{
				Module: module,
				Query:  r.Query,
				Mode:   policy.Mode(r.Mode),
				Logger: logger,
			})
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			predicates = append(predicates, p.Func())
		default:
			p, err := filter.AttributeRule{
				Field:    r.Field,
				Operator: r.Operator,
				Value:    r.Value,
				Negate:   r.Negate,
			}.Compile()
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			predicates = append(predicates, p)
		}
	}
	return predicates, nil
}
