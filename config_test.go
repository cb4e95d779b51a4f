package ratelimiter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("backend: memory\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Backend != "memory" {
		t.Errorf("Backend = %q, want memory", cfg.Backend)
	}
	if cfg.MultiStrategy != "first_healthy" {
		t.Errorf("MultiStrategy = %q, want first_healthy", cfg.MultiStrategy)
	}
	if cfg.AlignWindowToClock == nil || !*cfg.AlignWindowToClock {
		t.Error("AlignWindowToClock should default to true")
	}
	if cfg.KeyPrefix != "rl" {
		t.Errorf("KeyPrefix = %q, want rl", cfg.KeyPrefix)
	}
	if cfg.HealthCheckInterval != 10*time.Second {
		t.Errorf("HealthCheckInterval = %v, want 10s", cfg.HealthCheckInterval)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfig_Build_SingleMemoryBackend(t *testing.T) {
	cfg := &Config{Backend: "memory"}
	limiter, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(limiter.Close)

	policy, err := NewPolicy(2, time.Minute, Fixed)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	d, err := limiter.Check(context.Background(), policy, NewLiteralKey("k"), nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed {
		t.Error("expected first request to be allowed")
	}

	health := limiter.Health()
	if _, ok := health["memory"]; !ok {
		t.Errorf("expected Health() to report the \"memory\" backend, got %v", health)
	}
}

func TestConfig_Build_UnknownBackend(t *testing.T) {
	cfg := &Config{Backend: "bogus"}
	_, err := cfg.Build()
	if err == nil {
		t.Fatal("expected error for unknown backend name")
	}
}

func TestConfig_DefaultPolicy(t *testing.T) {
	cfg := &Config{DefaultRate: "10/m", Algorithm: "fixed"}
	policy, err := cfg.DefaultPolicy()
	if err != nil {
		t.Fatalf("DefaultPolicy: %v", err)
	}
	if policy.Limit != 10 || policy.Period != time.Minute {
		t.Errorf("policy = %+v, want limit=10 period=1m", policy)
	}
	if !policy.AlignToClock {
		t.Error("expected AlignToClock true by default")
	}
}

func TestConfig_DefaultPolicy_MissingRate(t *testing.T) {
	cfg := &Config{}
	if _, err := cfg.DefaultPolicy(); err == nil {
		t.Fatal("expected error when default_rate is unset")
	}
}

func TestConfig_Build_MultiBackend(t *testing.T) {
	cfg := &Config{
		Backends: []BackendSpec{{Name: "memory"}, {Name: "memory"}},
	}
	limiter, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(limiter.Close)
	policy, err := NewPolicy(5, time.Minute, Fixed)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	if d, err := limiter.Check(context.Background(), policy, NewLiteralKey("k"), nil); err != nil || !d.Allowed {
		t.Fatalf("Check: d=%+v err=%v", d, err)
	}
}
