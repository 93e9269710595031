package telemetry

import (
	"testing"
	"unicode/utf8"
)

func TestRedactEventAttributesHonorsDefaultsAndStrategies(t *testing.T) {
	attrs := map[string]any{
		"http.request.header.authorization": "Bearer secret",
		"user.email":                        "person@example.com",
		"user.id":                           "u-123",
		"custom.secret":                     "top-secret",
		"card.last4":                        4242,
		"safe.field":                        "value",
	}

	filtered := RedactEventAttributes(attrs, []Redaction{
		{Attribute: "user.email", Strategy: "mask"},
		{Attribute: "custom.secret"},
		{Attribute: "user.id", Strategy: "hash"},
		{Attribute: "card.last4", Strategy: "replace"},
	})

	if len(filtered) != 4 {
		t.Fatalf("expected 4 attributes after redaction, got %d: %v", len(filtered), filtered)
	}
	if got := filtered["user.email"]; got != "pers***.com" {
		t.Fatalf("unexpected masked email %q", got)
	}
	if got := filtered["card.last4"]; got != "[REDACTED]" {
		t.Fatalf("unexpected replaced value %v", got)
	}
	if got := filtered["user.id"]; got == "u-123" || got == nil {
		t.Fatalf("expected hashed user id, got %v", got)
	}
	if got := RedactEventAttributes(map[string]any{"user.id": "u-123"}, []Redaction{{Attribute: "user.id", Strategy: "hash"}})["user.id"]; got != filtered["user.id"] {
		t.Fatalf("hash must be deterministic: %v != %v", got, filtered["user.id"])
	}
	if filtered["safe.field"] != "value" {
		t.Fatalf("unexpected safe field value %v", filtered["safe.field"])
	}
	if _, ok := attrs["http.request.header.authorization"]; !ok {
		t.Fatalf("input map must not be modified")
	}
}

func TestMaskValueShortInput(t *testing.T) {
	if got := maskValue("short"); got != "***" {
		t.Fatalf("expected *** for short values, got %q", got)
	}
	if got := hashValue(""); got != "[REDACTED:empty]" {
		t.Fatalf("unexpected empty hash %q", got)
	}
}

func TestUnknownStrategyDropsAttribute(t *testing.T) {
	filtered := RedactEventAttributes(map[string]any{"user.email": "person@example.com", "safe.field": "value"},
		[]Redaction{{Attribute: "user.email", Strategy: "masked"}})

	if _, ok := filtered["user.email"]; ok {
		t.Fatalf("attribute with unknown strategy must not be exported, got %v", filtered["user.email"])
	}
	if filtered["safe.field"] != "value" {
		t.Fatalf("unexpected safe field value %v", filtered["safe.field"])
	}
	if ValidStrategy("masked") {
		t.Fatalf("masked must not be a valid strategy")
	}
	for _, s := range []string{"", "drop", "MASK", "hash", "replace", "redact"} {
		if !ValidStrategy(s) {
			t.Fatalf("expected %q to be valid", s)
		}
	}
}

func TestMaskValueKeepsUTF8(t *testing.T) {
	got := maskValue("Zoë Ångström-Müller")
	if got != "Zoë ***ller" {
		t.Fatalf("unexpected masked value %q", got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("masked value is not valid UTF-8: %q", got)
	}
	if got := maskValue("Привет, мир!"); got != "Прив***мир!" {
		t.Fatalf("unexpected masked value %q", got)
	}
}
