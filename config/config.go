// Package config loads application configuration from an optional YAML file
// with environment variable overrides on top. Environment always wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	API         APIConfig         `yaml:"api"`
	Browser     BrowserConfig     `yaml:"browser"`
	Pool        PoolConfig        `yaml:"pool"`
	Performance PerformanceConfig `yaml:"performance"`
	WebCheck    WebCheckConfig    `yaml:"webcheck"`
	State       StateConfig       `yaml:"state"`
	Recorder    RecorderConfig    `yaml:"recorder"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"` // default: "0.0.0.0"
	Port int    `yaml:"port"` // default: 8080
	Mode string `yaml:"mode"` // "debug", "release", "test"; default: "release"
}

// AuthConfig controls API key authentication on the HTTP surface.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool `yaml:"enabled"` // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string `yaml:"api_keys"`
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 `yaml:"requests_per_second"` // default: 5

	// Burst is the maximum burst size per API key.
	Burst int `yaml:"burst"` // default: 10
}

// APIConfig controls the fast acquisition path against the upstream service.
type APIConfig struct {
	// BaseURL is the upstream service root, e.g. "https://api.example.com".
	BaseURL string `yaml:"base_url"`

	// Timeout is the per-request deadline of the fast probe.
	Timeout time.Duration `yaml:"timeout"` // default: 15s

	// FallbackToWeb lets a failed probe escalate to the browser flow.
	// When false the probe falls back to the cached balance instead.
	FallbackToWeb bool `yaml:"fallback_to_web"` // default: true
}

// BrowserConfig controls the spawned Chromium workers.
type BrowserConfig struct {
	// Headless controls whether workers run headless.
	Headless bool `yaml:"headless"` // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool `yaml:"no_sandbox"` // default: false

	// Bin overrides the Chromium binary path.
	Bin string `yaml:"bin"`
}

// PoolConfig controls the browser worker pool.
type PoolConfig struct {
	// Size is the number of workers pre-created at startup.
	Size int `yaml:"size"` // default: 4

	// MaxSize is the absolute maximum number of live workers.
	MaxSize int `yaml:"max_size"` // default: 9

	// AcquireTimeout bounds how long one check waits for a free worker.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"` // default: 20s
}

// PerformanceConfig controls batch orchestration and the daily cycle.
type PerformanceConfig struct {
	// MaxWorkers bounds concurrent account checks per batch.
	MaxWorkers int `yaml:"max_workers"` // default: 3

	// RetryTimes is the number of browser attempts per account.
	RetryTimes int `yaml:"retry_times"` // default: 2

	// RetryDelay is the pause between browser attempts.
	RetryDelay time.Duration `yaml:"retry_delay"` // default: 3s

	// RolloverHour is the local hour at which the daily cycle rolls over.
	RolloverHour int `yaml:"rollover_hour"` // default: 8

	// QueryInterval is the scheduled batch period. Zero disables scheduling.
	QueryInterval time.Duration `yaml:"query_interval"` // default: 1h

	// HistorySize bounds the in-memory metric ring.
	HistorySize int `yaml:"history_size"` // default: 1000
}

// WebCheckConfig controls the slow acquisition path.
type WebCheckConfig struct {
	// ConsoleURL is the browser entry point, e.g. "https://example.com/console".
	ConsoleURL string `yaml:"console_url"`

	// Timeout is the deadline of one full browser attempt.
	Timeout time.Duration `yaml:"timeout"` // default: 90s

	// ExtractWait is how long the balance extraction polls the page.
	ExtractWait time.Duration `yaml:"extract_wait"` // default: 8s

	// SyncAPIKeyQuota enables the post-login quota sync of the first API key.
	SyncAPIKeyQuota bool `yaml:"sync_api_key_quota"` // default: false

	// Command, when non-empty, replaces the browser flow with an external
	// hook program. Args supports {username}, {password} and {api_key}.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// StateConfig controls on-disk state.
type StateConfig struct {
	// Dir holds the balance cache, cycle state and lock file.
	Dir string `yaml:"dir"` // default: "./state"

	// CredentialsFile is the account list, one "user,pass[,key]" per line.
	CredentialsFile string `yaml:"credentials_file"` // default: "./credentials.txt"
}

// RecorderConfig controls durable metric persistence.
type RecorderConfig struct {
	// Enabled toggles the SQLite metric recorder.
	Enabled bool `yaml:"enabled"` // default: false

	// Path is the SQLite database file.
	Path string `yaml:"path"` // default: "./state/metrics.db"
}

// WebhookConfig controls batch-completed event delivery.
type WebhookConfig struct {
	// URL receives batch.completed events. Empty disables delivery.
	URL string `yaml:"url"`

	// Secret signs the payload with HMAC-SHA256 when non-empty.
	Secret string `yaml:"secret"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "json" or "text"; default: "json"
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist), then applies environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// A missing file just means env + defaults.
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Mode: "release",
		},
		Auth: AuthConfig{
			Enabled: true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5.0,
			Burst:             10,
		},
		API: APIConfig{
			Timeout:       15 * time.Second,
			FallbackToWeb: true,
		},
		Browser: BrowserConfig{
			Headless: true,
		},
		Pool: PoolConfig{
			Size:           4,
			MaxSize:        9,
			AcquireTimeout: 20 * time.Second,
		},
		Performance: PerformanceConfig{
			MaxWorkers:    3,
			RetryTimes:    2,
			RetryDelay:    3 * time.Second,
			RolloverHour:  8,
			QueryInterval: time.Hour,
			HistorySize:   1000,
		},
		WebCheck: WebCheckConfig{
			Timeout:     90 * time.Second,
			ExtractWait: 8 * time.Second,
		},
		State: StateConfig{
			Dir:             "./state",
			CredentialsFile: "./credentials.txt",
		},
		Recorder: RecorderConfig{
			Path: "./state/metrics.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = envOr("BW_HOST", cfg.Server.Host)
	cfg.Server.Port = envIntOr("BW_PORT", cfg.Server.Port)
	cfg.Server.Mode = envOr("BW_MODE", cfg.Server.Mode)

	cfg.Auth.Enabled = envBoolOr("BW_AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.APIKeys = envSliceOr("BW_API_KEYS", cfg.Auth.APIKeys)

	cfg.RateLimit.RequestsPerSecond = envFloatOr("BW_RATE_RPS", cfg.RateLimit.RequestsPerSecond)
	cfg.RateLimit.Burst = envIntOr("BW_RATE_BURST", cfg.RateLimit.Burst)

	cfg.API.BaseURL = envOr("BW_API_BASE_URL", cfg.API.BaseURL)
	cfg.API.Timeout = envDurationOr("BW_API_TIMEOUT", cfg.API.Timeout)
	cfg.API.FallbackToWeb = envBoolOr("BW_FALLBACK_TO_WEB", cfg.API.FallbackToWeb)

	cfg.Browser.Headless = envBoolOr("BW_HEADLESS", cfg.Browser.Headless)
	cfg.Browser.NoSandbox = envBoolOr("BW_NO_SANDBOX", cfg.Browser.NoSandbox)
	cfg.Browser.Bin = envOr("BW_BROWSER_BIN", cfg.Browser.Bin)

	cfg.Pool.Size = envIntOr("BW_POOL_SIZE", cfg.Pool.Size)
	cfg.Pool.MaxSize = envIntOr("BW_POOL_MAX_SIZE", cfg.Pool.MaxSize)
	cfg.Pool.AcquireTimeout = envDurationOr("BW_POOL_ACQUIRE_TIMEOUT", cfg.Pool.AcquireTimeout)

	cfg.Performance.MaxWorkers = envIntOr("BW_MAX_WORKERS", cfg.Performance.MaxWorkers)
	cfg.Performance.RetryTimes = envIntOr("BW_RETRY_TIMES", cfg.Performance.RetryTimes)
	cfg.Performance.RetryDelay = envDurationOr("BW_RETRY_DELAY", cfg.Performance.RetryDelay)
	cfg.Performance.RolloverHour = envIntOr("BW_ROLLOVER_HOUR", cfg.Performance.RolloverHour)
	cfg.Performance.QueryInterval = envDurationOr("BW_QUERY_INTERVAL", cfg.Performance.QueryInterval)
	cfg.Performance.HistorySize = envIntOr("BW_HISTORY_SIZE", cfg.Performance.HistorySize)

	cfg.WebCheck.ConsoleURL = envOr("BW_CONSOLE_URL", cfg.WebCheck.ConsoleURL)
	cfg.WebCheck.Timeout = envDurationOr("BW_WEBCHECK_TIMEOUT", cfg.WebCheck.Timeout)
	cfg.WebCheck.ExtractWait = envDurationOr("BW_EXTRACT_WAIT", cfg.WebCheck.ExtractWait)
	cfg.WebCheck.SyncAPIKeyQuota = envBoolOr("BW_SYNC_APIKEY_QUOTA", cfg.WebCheck.SyncAPIKeyQuota)
	cfg.WebCheck.Command = envOr("BW_WEBCHECK_COMMAND", cfg.WebCheck.Command)
	cfg.WebCheck.Args = envSliceOr("BW_WEBCHECK_ARGS", cfg.WebCheck.Args)

	cfg.State.Dir = envOr("BW_STATE_DIR", cfg.State.Dir)
	cfg.State.CredentialsFile = envOr("BW_CREDENTIALS_FILE", cfg.State.CredentialsFile)

	cfg.Recorder.Enabled = envBoolOr("BW_RECORDER_ENABLED", cfg.Recorder.Enabled)
	cfg.Recorder.Path = envOr("BW_RECORDER_PATH", cfg.Recorder.Path)

	cfg.Webhook.URL = envOr("BW_WEBHOOK_URL", cfg.Webhook.URL)
	cfg.Webhook.Secret = envOr("BW_WEBHOOK_SECRET", cfg.Webhook.Secret)

	cfg.Log.Level = envOr("BW_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOr("BW_LOG_FORMAT", cfg.Log.Format)
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
