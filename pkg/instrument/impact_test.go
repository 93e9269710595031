package instrument

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/polisai/polis-signals/pkg/domain"
)

func TestAPIImpact(t *testing.T) {
	cases := map[string]domain.BusinessImpact{
		"login":          domain.ImpactEngagement,
		"register":       domain.ImpactEngagement,
		"product_search": domain.ImpactEngagement,
		"checkout":       domain.ImpactRevenue,
		"PaymentIntent":  domain.ImpactRevenue,
		"add_to_cart":    domain.ImpactRevenue,
		"health":         domain.ImpactReliability,
		"image_resize":   domain.ImpactPerformance,
	}
	for name, want := range cases {
		assert.Equal(t, want, APIImpact(name), name)
	}
}

func TestMetricImpact(t *testing.T) {
	cases := map[string]domain.BusinessImpact{
		"cart_value":         domain.ImpactRevenue,
		"daily_revenue":      domain.ImpactRevenue,
		"purchase_count":     domain.ImpactRevenue,
		"login_success_rate": domain.ImpactEngagement,
		"engagement_score":   domain.ImpactEngagement,
		"p95_latency":        domain.ImpactPerformance,
		"performance_index":  domain.ImpactPerformance,
		"queue_depth":        domain.ImpactReliability,
	}
	for name, want := range cases {
		assert.Equal(t, want, MetricImpact(name), name)
	}
}

func TestJourneyImpact(t *testing.T) {
	assert.Equal(t, domain.ImpactRevenue, JourneyImpact("purchase_flow"))
	assert.Equal(t, domain.ImpactEngagement, JourneyImpact("onboarding"))
	assert.Equal(t, domain.ImpactEngagement, JourneyImpact("custom_flow"))
}

func TestViolationSeverity(t *testing.T) {
	assert.Equal(t, ViolationCritical, ViolationSeverity(3.5))
	assert.Equal(t, ViolationHigh, ViolationSeverity(2.5))
	assert.Equal(t, ViolationMedium, ViolationSeverity(1.6))
	assert.Equal(t, ViolationLow, ViolationSeverity(1.2))
	assert.Equal(t, ViolationHigh, ViolationSeverity(3))
}
