package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/polisai/polis-signals/pkg/domain"
)

// Operators understood by AttributeRule.
const (
	OpEquals    = "equals"
	OpNotEquals = "not_equals"
	OpPrefix    = "prefix"
	OpContains  = "contains"
	OpRegex     = "regex"
	OpExists    = "exists"
)

// ErrInvalidRule is returned when a rule cannot be compiled.
var ErrInvalidRule = errors.New("invalid filter rule")

// AttributeRule is a declarative predicate over one field of the event or the
// user context. Events that match are kept; with Negate, matching events are dropped.
//
// Field is either an event attribute key or one of the pseudo fields
// event.name, event.domain, event.type, event.severity, event.url,
// user.segment, user.device_type, user.authenticated.
type AttributeRule struct {
	Field    string
	Operator string
	Value    string
	Negate   bool
}

// Compile validates the rule and returns the equivalent predicate.
func (r AttributeRule) Compile() (domain.Predicate, error) {
	field := strings.TrimSpace(r.Field)
	if field == "" {
		return nil, fmt.Errorf("%w: field is required", ErrInvalidRule)
	}

	var match func(value string, present bool) bool
	switch strings.ToLower(strings.TrimSpace(r.Operator)) {
	case OpEquals, "":
		match = func(v string, ok bool) bool { return ok && v == r.Value }
	case OpNotEquals:
		match = func(v string, ok bool) bool { return !ok || v != r.Value }
	case OpPrefix:
		match = func(v string, ok bool) bool { return ok && strings.HasPrefix(v, r.Value) }
	case OpContains:
		match = func(v string, ok bool) bool { return ok && strings.Contains(v, r.Value) }
	case OpExists:
		match = func(_ string, ok bool) bool { return ok }
	case OpRegex:
		re, err := regexp.Compile(r.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidRule, field, err)
		}
		match = func(v string, ok bool) bool { return ok && re.MatchString(v) }
	default:
		return nil, fmt.Errorf("%w: unsupported operator %q", ErrInvalidRule, r.Operator)
	}

	negate := r.Negate
	return func(event domain.TelemetryEvent, uc domain.UserContext) bool {
		value, present := lookupField(field, event, uc)
		return match(value, present) != negate
	}, nil
}

func lookupField(field string, event domain.TelemetryEvent, uc domain.UserContext) (string, bool) {
	switch field {
	case "event.name":
		return event.Name, event.Name != ""
	case "event.domain":
		return event.Domain, event.Domain != ""
	case "event.type":
		return string(event.Type), event.Type != ""
	case "event.severity":
		return string(event.Severity), event.Severity != ""
	case "event.url":
		u := event.URL()
		return u, u != ""
	case "user.segment":
		return uc.UserSegment, uc.UserSegment != ""
	case "user.device_type":
		return string(uc.DeviceType), uc.DeviceType != ""
	case "user.authenticated":
		return fmt.Sprint(uc.IsAuthenticated), true
	}
	v, ok := event.Attributes[field]
	if !ok || v == nil {
		return "", false
	}
	if s, isString := v.(string); isString {
		return s, true
	}
	return fmt.Sprint(v), true
}
