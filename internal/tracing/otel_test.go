package tracing

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/asa/internal/config"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{}, "test")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestSetup_EnabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{Enabled: true}, "test")
	if err == nil {
		t.Fatal("expected error for missing endpoint")
	}
	if shutdown == nil {
		t.Fatal("shutdown must never be nil")
	}
}

func TestStripScheme(t *testing.T) {
	tests := map[string]string{
		"localhost:4317":                 "localhost:4317",
		"http://collector:4318":          "collector:4318",
		"https://otel.example.com:4318/": "otel.example.com:4318",
	}
	for in, want := range tests {
		if got := stripScheme(in); got != want {
			t.Errorf("stripScheme(%q) = %q, want %q", in, got, want)
		}
	}
}
