package instrument

import "slices"

// DefaultJourneys are the step lists used when a domain does not declare the
// journey itself.
var DefaultJourneys = map[string][]string{
	"purchase_flow":     {"product_view", "add_to_cart", "checkout_start", "payment_info", "order_complete"},
	"checkout_flow":     {"cart_review", "shipping_info", "payment_info", "order_review", "order_confirm"},
	"onboarding":        {"signup", "email_verify", "profile_setup", "first_action"},
	"login_flow":        {"login_page", "credentials_submit", "mfa_challenge", "login_success"},
	"content_discovery": {"browse", "search", "content_view", "engagement"},
}

// journeySteps merges the defaults with the journeys declared by a domain.
// Domain entries replace defaults of the same name.
func journeySteps(declared map[string][]string) map[string][]string {
	out := make(map[string][]string, len(DefaultJourneys)+len(declared))
	for name, steps := range DefaultJourneys {
		out[name] = slices.Clone(steps)
	}
	for name, steps := range declared {
		out[name] = slices.Clone(steps)
	}
	return out
}

// stepNumber returns the 1-based position of step in journey, or 0 if either is unknown.
func stepNumber(journeys map[string][]string, journey, step string) int {
	return slices.Index(journeys[journey], step) + 1
}
