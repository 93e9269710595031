package telemetry

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Redaction strategies.
const (
	StrategyDrop    = "drop"
	StrategyMask    = "mask"
	StrategyHash    = "hash"
	StrategyReplace = "replace"
)

// Redaction applies a strategy to a single attribute key.
type Redaction struct {
	Attribute string `yaml:"attribute"`
	Strategy  string `yaml:"strategy"`
}

// defaultDropKeys never leave the process.
var defaultDropKeys = map[string]struct{}{
	"http.request.header.authorization": {},
	"http.request.header.cookie":        {},
	"http.response.header.set_cookie":   {},
	"request.body":                      {},
	"response.body":                     {},
	"user.password":                     {},
	"payment.card_number":               {},
}

// RedactEventAttributes applies a conservative redaction policy to event attributes
// before export and returns a new map; the input is not modified.
//
// Keys on the default deny-list are always removed. Explicit redactions can drop,
// mask, hash or replace values. Non-string values under a mask/hash/replace rule
// are formatted first.
func RedactEventAttributes(attrs map[string]any, redactions []Redaction) map[string]any {
	if len(attrs) == 0 {
		return attrs
	}

	strategies := make(map[string]string, len(redactions))
	for _, r := range redactions {
		strategy := strings.ToLower(strings.TrimSpace(r.Strategy))
		if strategy == "" {
			strategy = StrategyDrop
		}
		strategies[r.Attribute] = strategy
	}

	out := make(map[string]any, len(attrs))
	for key, value := range attrs {
		if _, drop := defaultDropKeys[key]; drop {
			continue
		}

		strategy, ruled := strategies[key]
		if !ruled {
			out[key] = value
			continue
		}
		switch strategy {
		case StrategyMask:
			out[key] = maskValue(fmt.Sprint(value))
		case StrategyHash:
			out[key] = hashValue(fmt.Sprint(value))
		case StrategyReplace, "redact":
			out[key] = "[REDACTED]"
		}
		// StrategyDrop and unknown strategies remove the attribute.
	}
	return out
}

// ValidStrategy reports whether s names a redaction strategy. An empty
// strategy means drop.
func ValidStrategy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", StrategyDrop, StrategyMask, StrategyHash, StrategyReplace, "redact":
		return true
	}
	return false
}

// maskValue shows the first and last four characters, e.g. "1234***6789".
func maskValue(s string) string {
	runes := []rune(s)
	if len(runes) <= 8 {
		return "***"
	}
	return string(runes[:4]) + "***" + string(runes[len(runes)-4:])
}

// hashValue produces a deterministic tag for correlation without exposing data.
func hashValue(s string) string {
	if s == "" {
		return "[REDACTED:empty]"
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("[REDACTED:hash:%08x]", h.Sum32())
}
