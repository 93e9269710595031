package instrument

import (
	"strings"

	"github.com/polisai/polis-signals/pkg/domain"
)

type impactRule struct {
	substr string
	impact domain.BusinessImpact
}

// apiImpactRules map API names to impact. The first matching substring wins.
var apiImpactRules = []impactRule{
	{"checkout", domain.ImpactRevenue},
	{"payment", domain.ImpactRevenue},
	{"cart", domain.ImpactRevenue},
	{"purchase", domain.ImpactRevenue},
	{"order", domain.ImpactRevenue},
	{"billing", domain.ImpactRevenue},
	{"subscribe", domain.ImpactRevenue},
	{"login", domain.ImpactEngagement},
	{"logout", domain.ImpactEngagement},
	{"register", domain.ImpactEngagement},
	{"signup", domain.ImpactEngagement},
	{"search", domain.ImpactEngagement},
	{"profile", domain.ImpactEngagement},
	{"recommend", domain.ImpactEngagement},
	{"health", domain.ImpactReliability},
	{"status", domain.ImpactReliability},
}

// journeyImpact maps journey names to impact. Unknown journeys are engagement.
var journeyImpact = map[string]domain.BusinessImpact{
	"purchase_flow":     domain.ImpactRevenue,
	"checkout_flow":     domain.ImpactRevenue,
	"subscription_flow": domain.ImpactRevenue,
	"onboarding":        domain.ImpactEngagement,
	"login_flow":        domain.ImpactEngagement,
	"content_discovery": domain.ImpactEngagement,
	"account_recovery":  domain.ImpactReliability,
}

// metricImpactRules classify business metrics by substring.
var metricImpactRules = []impactRule{
	{"revenue", domain.ImpactRevenue},
	{"purchase", domain.ImpactRevenue},
	{"cart", domain.ImpactRevenue},
	{"checkout", domain.ImpactRevenue},
	{"order", domain.ImpactRevenue},
	{"payment", domain.ImpactRevenue},
	{"login", domain.ImpactEngagement},
	{"engagement", domain.ImpactEngagement},
	{"latency", domain.ImpactPerformance},
	{"performance", domain.ImpactPerformance},
}

// APIImpact derives the business impact of an API call from its name.
func APIImpact(name string) domain.BusinessImpact {
	return matchImpact(apiImpactRules, name, domain.ImpactPerformance)
}

// JourneyImpact derives the business impact of a journey.
func JourneyImpact(journey string) domain.BusinessImpact {
	if impact, ok := journeyImpact[strings.ToLower(journey)]; ok {
		return impact
	}
	return domain.ImpactEngagement
}

// MetricImpact derives the business impact of a business metric.
func MetricImpact(name string) domain.BusinessImpact {
	return matchImpact(metricImpactRules, name, domain.ImpactReliability)
}

func matchImpact(rules []impactRule, name string, fallback domain.BusinessImpact) domain.BusinessImpact {
	lower := strings.ToLower(name)
	for _, r := range rules {
		if strings.Contains(lower, r.substr) {
			return r.impact
		}
	}
	return fallback
}

// Violation severity buckets for SLA breaches.
const (
	ViolationCritical = "critical"
	ViolationHigh     = "high"
	ViolationMedium   = "medium"
	ViolationLow      = "low"
)

// ViolationSeverity buckets the ratio of observed duration to SLA target.
func ViolationSeverity(ratio float64) string {
	switch {
	case ratio > 3:
		return ViolationCritical
	case ratio > 2:
		return ViolationHigh
	case ratio > 1.5:
		return ViolationMedium
	default:
		return ViolationLow
	}
}
