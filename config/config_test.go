package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Server.Port)
	}
	if !cfg.API.FallbackToWeb {
		t.Error("fallback_to_web should default to true")
	}
	if cfg.Performance.RolloverHour != 8 {
		t.Errorf("rollover hour = %d, want 8", cfg.Performance.RolloverHour)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
api:
  base_url: https://api.example.com
  timeout: 5s
  fallback_to_web: false
performance:
  max_workers: 7
  query_interval: 30m
webcheck:
  console_url: https://example.com/console
  command: ./check.sh
  args: ["{username}", "{password}"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.API.BaseURL != "https://api.example.com" || cfg.API.Timeout != 5*time.Second {
		t.Errorf("api = %+v, want file values", cfg.API)
	}
	if cfg.API.FallbackToWeb {
		t.Error("fallback_to_web should be false from the file")
	}
	if cfg.Performance.MaxWorkers != 7 || cfg.Performance.QueryInterval != 30*time.Minute {
		t.Errorf("performance = %+v, want file values", cfg.Performance)
	}
	if len(cfg.WebCheck.Args) != 2 || cfg.WebCheck.Args[0] != "{username}" {
		t.Errorf("webcheck args = %v", cfg.WebCheck.Args)
	}
	// Untouched sections keep their defaults.
	if cfg.Pool.Size != 4 {
		t.Errorf("pool size = %d, want default 4", cfg.Pool.Size)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BW_PORT", "7070")
	t.Setenv("BW_API_KEYS", "k1, k2")
	t.Setenv("BW_RETRY_DELAY", "10s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override 7070", cfg.Server.Port)
	}
	if len(cfg.Auth.APIKeys) != 2 || cfg.Auth.APIKeys[1] != "k2" {
		t.Errorf("api keys = %v", cfg.Auth.APIKeys)
	}
	if cfg.Performance.RetryDelay != 10*time.Second {
		t.Errorf("retry delay = %s, want 10s", cfg.Performance.RetryDelay)
	}
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected a parse error for broken YAML")
	}
}
