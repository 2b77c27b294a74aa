package otel

import (
	"context"
	"testing"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv(envEndpoint, "")
	t.Setenv(envEnabled, "")

	shutdown, err := Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestSetupNoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv(envEndpoint, "http://localhost:4318")
	t.Setenv(envEnabled, "false")
	t.Setenv(envSampleRatio, "not-a-number")

	shutdown, err := Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupCreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so nothing is exported.
	t.Setenv(envEndpoint, "http://192.0.2.1:4318")
	t.Setenv(envEnabled, "")
	t.Setenv(envSampleRatio, "0.25")

	shutdown, err := Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupRejectsBadSampleRatio(t *testing.T) {
	t.Setenv(envEndpoint, "http://192.0.2.1:4318")
	t.Setenv(envEnabled, "")
	for _, ratio := range []string{"abc", "-0.1", "1.5"} {
		t.Setenv(envSampleRatio, ratio)
		if _, err := Setup(context.Background(), "test-service"); err == nil {
			t.Fatalf("ratio %q: expected error", ratio)
		}
	}
}
