package coordinator

import (
	"slices"
	"sort"
	"time"

	"github.com/polisai/polis-signals/pkg/domain"
)

// DefaultFilterConfig is the admission policy used by the presets.
func DefaultFilterConfig() domain.FilterConfig {
	return domain.FilterConfig{
		EnableBotDetection:      true,
		SamplingRate:            1.0,
		ExcludeExtensions:       true,
		ExcludeThirdPartyErrors: true,
	}
}

var authenticationDomain = domain.DomainConfig{
	Name:           DomainAuthentication,
	Priority:       domain.PriorityCritical,
	SLATarget:      500 * time.Millisecond,
	ErrorThreshold: 0.01,
	Features:       []string{"login", "register", "password_reset", "mfa"},
}

var presets = map[string]func() Config{
	"ecommerce": func() Config {
		filtering := DefaultFilterConfig()
		filtering.SamplingRate = 0.5
		return Config{
			Domains: []domain.DomainConfig{
				authenticationDomain,
				{
					Name:           DomainEcommerce,
					Priority:       domain.PriorityCritical,
					SLATarget:      1000 * time.Millisecond,
					ErrorThreshold: 0.005,
					Features:       []string{"search", "product_view", "cart", "checkout"},
				},
				{
					Name:           DomainPayments,
					Priority:       domain.PriorityCritical,
					SLATarget:      2000 * time.Millisecond,
					ErrorThreshold: 0.001,
					Features:       []string{"payment_method", "charge", "refund"},
				},
			},
			Filtering: filtering,
		}
	},
	"saas": func() Config {
		filtering := DefaultFilterConfig()
		filtering.SamplingRate = 0.3
		return Config{
			Domains: []domain.DomainConfig{
				authenticationDomain,
				{
					Name:           "workspace",
					Priority:       domain.PriorityHigh,
					SLATarget:      800 * time.Millisecond,
					ErrorThreshold: 0.01,
					Features:       []string{"dashboard", "collaboration", "settings"},
					Journeys: map[string][]string{
						"onboarding": {"signup", "verify_email", "create_workspace", "invite_team"},
					},
				},
				{
					Name:           "billing",
					Priority:       domain.PriorityCritical,
					SLATarget:      1500 * time.Millisecond,
					ErrorThreshold: 0.001,
					Features:       []string{"subscription", "invoice", "upgrade"},
				},
			},
			Filtering: filtering,
		}
	},
	"media": func() Config {
		filtering := DefaultFilterConfig()
		filtering.SamplingRate = 0.1
		return Config{
			Domains: []domain.DomainConfig{
				authenticationDomain,
				{
					Name:           DomainContent,
					Priority:       domain.PriorityHigh,
					SLATarget:      1500 * time.Millisecond,
					ErrorThreshold: 0.02,
					Features:       []string{"browse", "search", "playback", "recommendations"},
				},
				{
					Name:           "engagement",
					Priority:       domain.PriorityMedium,
					SLATarget:      2000 * time.Millisecond,
					ErrorThreshold: 0.05,
					Features:       []string{"comments", "likes", "shares"},
				},
			},
			Filtering: filtering,
		}
	},
	"fintech": func() Config {
		filtering := DefaultFilterConfig()
		filtering.ExcludeThirdPartyErrors = false
		return Config{
			Domains: []domain.DomainConfig{
				{
					Name:           DomainAuthentication,
					Priority:       domain.PriorityCritical,
					SLATarget:      300 * time.Millisecond,
					ErrorThreshold: 0.001,
					Features:       []string{"login", "mfa", "device_binding"},
				},
				{
					Name:           DomainPayments,
					Priority:       domain.PriorityCritical,
					SLATarget:      1000 * time.Millisecond,
					ErrorThreshold: 0.0001,
					Features:       []string{"transfer", "card_payment", "payout"},
				},
				{
					Name:           "accounts",
					Priority:       domain.PriorityHigh,
					SLATarget:      800 * time.Millisecond,
					ErrorThreshold: 0.001,
					Features:       []string{"balance", "statements", "kyc"},
				},
			},
			Filtering: filtering,
		}
	},
}

// PresetNames lists the available presets.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Preset returns the named vertical configuration.
func Preset(name string) (Config, error) {
	build, ok := presets[name]
	if !ok {
		return Config{}, &domain.NotFoundError{Kind: "preset", Key: name, Available: PresetNames()}
	}
	cfg := build()
	cfg.Domains = cloneDomains(cfg.Domains)
	cfg.Filtering.DomainWhitelist = slices.Clone(cfg.Filtering.DomainWhitelist)
	return cfg, nil
}

// NewForPreset builds a coordinator from a preset, with a log exporter as the
// only platform.
func NewForPreset(name string, opts ...Option) (*Coordinator, error) {
	cfg, err := Preset(name)
	if err != nil {
		return nil, err
	}
	cfg.Platforms = []domain.PlatformConfig{{Type: "log"}}
	return New(cfg, opts...)
}
