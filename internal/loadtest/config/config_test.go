package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loadtest.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
name: Nightly batch run
host: https://api.example.com
auth:
  username: loadtester
  password: hunter2
  retries: 5
dataset:
  path: input.jsonl
users: 50
spawnRate: 10
duration: 5m
pacing:
  min: 1s
  max: 3s
poll:
  initialDelay: 1s
  maxDelay: 10s
  deadline: 2m
  maxConsecutiveFailures: 5
http:
  timeout: 15s
thresholds:
  p95: 800ms
  errorRate: 0.02
output: report.json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Name != "Nightly batch run" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.Users != 50 || cfg.SpawnRate != 10 {
		t.Errorf("Users/SpawnRate = %d/%f", cfg.Users, cfg.SpawnRate)
	}
	if time.Duration(cfg.Duration) != 5*time.Minute {
		t.Errorf("Duration = %v", cfg.Duration)
	}
	if cfg.Auth.Username != "loadtester" || cfg.Auth.Retries != 5 {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	if time.Duration(cfg.Poll.InitialDelay) != time.Second {
		t.Errorf("Poll.InitialDelay = %v", cfg.Poll.InitialDelay)
	}
	if cfg.Thresholds.P95Limit() != 800*time.Millisecond {
		t.Errorf("Thresholds.P95 = %v", cfg.Thresholds.P95Limit())
	}
	if cfg.Thresholds.ErrorRateLimit() != 0.02 {
		t.Errorf("Thresholds.ErrorRate = %f", cfg.Thresholds.ErrorRateLimit())
	}
	if time.Duration(cfg.Pacing.Min) != time.Second || time.Duration(cfg.Pacing.Max) != 3*time.Second {
		t.Errorf("Pacing = %+v", cfg.Pacing)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
host: http://localhost:8080
iterations: 1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Name == "" {
		t.Error("Name default not applied")
	}
	if cfg.Users != 1 {
		t.Errorf("Users default = %d, want 1", cfg.Users)
	}
	if cfg.SpawnRate != 1 {
		t.Errorf("SpawnRate default = %f, want 1", cfg.SpawnRate)
	}
	if cfg.Auth.Username != "admin" || cfg.Auth.Retries != 3 {
		t.Errorf("Auth defaults = %+v", cfg.Auth)
	}
	if time.Duration(cfg.Poll.InitialDelay) != 2*time.Second {
		t.Errorf("Poll.InitialDelay default = %v", cfg.Poll.InitialDelay)
	}
	if time.Duration(cfg.Poll.MaxDelay) != 30*time.Second {
		t.Errorf("Poll.MaxDelay default = %v", cfg.Poll.MaxDelay)
	}
	if cfg.Thresholds.P95Limit() != time.Second {
		t.Errorf("Thresholds.P95 default = %v", cfg.Thresholds.P95Limit())
	}
	if cfg.Thresholds.ErrorRateLimit() != 0.01 {
		t.Errorf("Thresholds.ErrorRate default = %f", cfg.Thresholds.ErrorRateLimit())
	}
	if time.Duration(cfg.GracefulStop) != 30*time.Second {
		t.Errorf("GracefulStop default = %v", cfg.GracefulStop)
	}
}

func TestExplicitZeroThresholdsDisable(t *testing.T) {
	path := writeConfig(t, `
host: http://localhost:8080
iterations: 1
thresholds:
  p95: 0s
  errorRate: 0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// An explicit zero means "no limit" and must not be rewritten to
	// the default.
	if cfg.Thresholds.P95Limit() != 0 {
		t.Errorf("Thresholds.P95 = %v, want explicit 0 kept", cfg.Thresholds.P95Limit())
	}
	if cfg.Thresholds.ErrorRateLimit() != 0 {
		t.Errorf("Thresholds.ErrorRate = %f, want explicit 0 kept", cfg.Thresholds.ErrorRateLimit())
	}
}

func TestDefaultIterationsWhenUnbounded(t *testing.T) {
	cfg := &Config{Host: "http://localhost"}
	cfg.ApplyDefaults()

	if cfg.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1 when neither duration nor iterations given", cfg.Iterations)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"missing host", func(c *Config) { c.Host = "" }},
		{"zero users", func(c *Config) { c.Users = 0 }},
		{"negative duration", func(c *Config) { c.Duration = Duration(-time.Second) }},
		{"no bound", func(c *Config) { c.Duration = 0; c.Iterations = 0 }},
		{"error rate above 1", func(c *Config) {
			rate := 1.5
			c.Thresholds.ErrorRate = &rate
		}},
		{"pacing min above max", func(c *Config) {
			c.Pacing.Min = Duration(5 * time.Second)
			c.Pacing.Max = Duration(time.Second)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Host: "http://localhost", Iterations: 1}
			cfg.ApplyDefaults()
			tt.mut(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "host: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDurationYAML(t *testing.T) {
	path := writeConfig(t, `
host: http://localhost
duration: 90s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if time.Duration(cfg.Duration) != 90*time.Second {
		t.Errorf("Duration = %v, want 1m30s", cfg.Duration)
	}
	if cfg.Duration.String() != "1m30s" {
		t.Errorf("String = %q, want 1m30s", cfg.Duration.String())
	}
}
