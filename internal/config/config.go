// Package config loads relay configuration from the environment.
//
// DESIGN: Environment-first. An optional YAML file (RELAY_CONFIG_FILE) is
// read as a base layer and individual environment variables override it.
// Defaults live in defaults.go. Validation is separate from loading so
// tests can construct partial configs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all relay settings.
type Config struct {
	// APIKey is the upstream realtime API credential. Required.
	APIKey string `yaml:"api_key"`

	// Port is the listen port for /ws, /health and /stats.
	Port int `yaml:"port"`

	// MaxSessions caps concurrent relay sessions.
	MaxSessions int `yaml:"max_sessions"`

	// CostCapCents is the per-session spend cap. Zero disables the cap.
	CostCapCents float64 `yaml:"cost_cap_cents"`

	// RateTokensPerSec and RateBucketMax tune the per-session token bucket.
	RateTokensPerSec float64 `yaml:"rate_tokens_per_sec"`
	RateBucketMax    float64 `yaml:"rate_bucket_max"`

	// AllowedOrigins is the origin allow-list. Empty means all origins.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Model is the upstream realtime model. The relay pins this model:
	// client attempts to select a different one are rewritten.
	Model string `yaml:"model"`

	// UpstreamURL is the realtime API WebSocket endpoint.
	UpstreamURL string `yaml:"upstream_url"`

	// LogLevel is a zerolog level string ("debug", "info", ...).
	LogLevel string `yaml:"log_level"`
}

// Default returns a config populated with the defaults from defaults.go.
func Default() *Config {
	return &Config{
		Port:             DefaultPort,
		MaxSessions:      DefaultMaxSessions,
		CostCapCents:     DefaultCostCapCents,
		RateTokensPerSec: DefaultRateTokensPerSec,
		RateBucketMax:    DefaultRateBucketMax,
		Model:            DefaultModel,
		UpstreamURL:      DefaultUpstreamURL,
		LogLevel:         "info",
	}
}

// Load builds the config: defaults, then the optional YAML file named by
// RELAY_CONFIG_FILE, then environment variable overrides.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("RELAY_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("RELAY_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RELAY_PORT: %w", err)
		}
		c.Port = n
	}
	if v := os.Getenv("RELAY_MAX_SESSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RELAY_MAX_SESSIONS: %w", err)
		}
		c.MaxSessions = n
	}
	if v := os.Getenv("RELAY_COST_CAP_CENTS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RELAY_COST_CAP_CENTS: %w", err)
		}
		c.CostCapCents = f
	}
	if v := os.Getenv("RELAY_RATE_TOKENS_PER_SEC"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RELAY_RATE_TOKENS_PER_SEC: %w", err)
		}
		c.RateTokensPerSec = f
	}
	if v := os.Getenv("RELAY_RATE_BUCKET_MAX"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RELAY_RATE_BUCKET_MAX: %w", err)
		}
		c.RateBucketMax = f
	}
	if v := os.Getenv("RELAY_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = ParseOrigins(v)
	}
	if v := os.Getenv("RELAY_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("RELAY_UPSTREAM_URL"); v != "" {
		c.UpstreamURL = v
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate checks required settings. A missing upstream credential is fatal
// at startup: the relay refuses partial service.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("OPENAI_API_KEY is required (set it in the environment or a .env file)")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive, got %d", c.MaxSessions)
	}
	if c.RateTokensPerSec <= 0 || c.RateBucketMax <= 0 {
		return fmt.Errorf("rate limit settings must be positive (tokens_per_sec=%v bucket_max=%v)",
			c.RateTokensPerSec, c.RateBucketMax)
	}
	return nil
}

// OriginAllowed reports whether the given Origin value passes the allow-list.
// With no allow-list configured every origin passes. With one configured,
// the origin must match exactly; an absent origin does not match.
func (c *Config) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// ParseOrigins splits a comma-separated origin list, trimming whitespace
// and dropping empty entries.
func ParseOrigins(s string) []string {
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// MaskKey masks the API key for safe logging (shows first 8 and last 4 chars).
func MaskKey(key string) string {
	if key == "" {
		return "(empty)"
	}
	if len(key) < 16 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
