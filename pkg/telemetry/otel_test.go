package telemetry

import (
	"context"
	"testing"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewSpanExporterRejectsUnknownProtocol(t *testing.T) {
	if _, err := NewSpanExporter(context.Background(), Config{Endpoint: "localhost:4317", Protocol: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unsupported protocol")
	}
}

func TestHostOnly(t *testing.T) {
	cases := map[string]string{
		"localhost:4317":                  "localhost:4317",
		"https://collector:4318/v1/trace": "collector:4318",
		"http://collector:4318":           "collector:4318",
	}
	for in, want := range cases {
		if got := hostOnly(in); got != want {
			t.Fatalf("hostOnly(%q) = %q, want %q", in, got, want)
		}
	}
}
