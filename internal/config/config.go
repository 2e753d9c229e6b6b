package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when no --config flag is given.
const DefaultPath = "tasknerd.yaml"

// Config holds all tasknerd configuration.
type Config struct {
	// Timezone is the IANA zone used as the reference for relative dates.
	Timezone string `yaml:"timezone"`

	Resolver        ResolverConfig        `yaml:"resolver"`
	Session         SessionConfig         `yaml:"session"`
	Perception      PerceptionConfig      `yaml:"perception"`
	LLM             LLMConfig             `yaml:"llm"`
	Personalization PersonalizationConfig `yaml:"personalization"`
	Server          ServerConfig          `yaml:"server"`
	Logging         LoggingConfig         `yaml:"logging"`
}

// ResolverConfig configures the hybrid resolver and confidence gate.
type ResolverConfig struct {
	// ConfidenceThreshold is the minimum merged confidence to act without clarifying.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// FallbackThreshold is the rule confidence below which the reasoning service is consulted.
	FallbackThreshold float64 `yaml:"fallback_threshold"`
	FallbackTimeout   string  `yaml:"fallback_timeout"`
	// HistoryTurns is how many recent turns are sent with a fallback request.
	HistoryTurns int `yaml:"history_turns"`
	// DefaultMention is the reminder destination used when nothing else applies.
	DefaultMention string `yaml:"default_mention"`
}

// PerceptionConfig configures normalization, extraction and the rule table.
type PerceptionConfig struct {
	// RulesPath overrides the embedded rule table when set.
	RulesPath string `yaml:"rules_path"`
	// WatchRules reloads RulesPath on change.
	WatchRules bool `yaml:"watch_rules"`
	// DefaultHour fills the clock time when only a date is given.
	DefaultHour int `yaml:"default_hour"`
	// Aliases maps extra mention aliases to their canonical tag.
	Aliases map[string]string `yaml:"aliases"`
}

// PersonalizationConfig configures preference learning.
type PersonalizationConfig struct {
	Enabled           bool    `yaml:"enabled"`
	DatabasePath      string  `yaml:"database_path"` // empty = in-memory
	Alpha             float64 `yaml:"alpha"`
	InitialConfidence float64 `yaml:"initial_confidence"`
	HalfLife          string  `yaml:"half_life"`
	MinInfluence      float64 `yaml:"min_influence"`
	CacheSize         int     `yaml:"cache_size"`
	CacheTTL          string  `yaml:"cache_ttl"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Addr              string `yaml:"addr"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	ReadTimeout       string `yaml:"read_timeout"`
	WriteTimeout      string `yaml:"write_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timezone: "Asia/Tokyo",

		Resolver: ResolverConfig{
			ConfidenceThreshold: 0.8,
			FallbackThreshold:   0.7,
			FallbackTimeout:     "5s",
			HistoryTurns:        6,
			DefaultMention:      "@everyone",
		},

		Session: SessionConfig{
			Backend:   "memory",
			TTL:       "15m",
			Retention: "1h",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "tasknerd:pending:",
			},
		},

		Perception: PerceptionConfig{
			DefaultHour: 12,
		},

		LLM: LLMConfig{
			Provider:          "none",
			Timeout:           "5s",
			RequestsPerSecond: 2,
			Burst:             4,
		},

		Personalization: PersonalizationConfig{
			Enabled:           true,
			DatabasePath:      "data/preferences.db",
			Alpha:             0.3,
			InitialConfidence: 0.5,
			HalfLife:          "720h",
			MinInfluence:      0.55,
			CacheSize:         1024,
			CacheTTL:          "5m",
		},

		Server: ServerConfig{
			Addr:              ":8080",
			RequestsPerMinute: 120,
			ReadTimeout:       "10s",
			WriteTimeout:      "15s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to path atomically.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}

	if addr := os.Getenv("TASKNERD_REDIS_ADDR"); addr != "" {
		c.Session.Backend = "redis"
		c.Session.Redis.Addr = addr
	}
	if path := os.Getenv("TASKNERD_DB"); path != "" {
		c.Personalization.DatabasePath = path
	}
	if tz := os.Getenv("TASKNERD_TIMEZONE"); tz != "" {
		c.Timezone = tz
	}
	if v := os.Getenv("TASKNERD_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Resolver.ConfidenceThreshold = f
		}
	}
}

// Location returns the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetFallbackTimeout returns the reasoning service deadline.
func (c *Config) GetFallbackTimeout() time.Duration {
	return parseDuration(c.Resolver.FallbackTimeout, 5*time.Second)
}

// GetSessionTTL returns how long a pending intent waits for an answer.
func (c *Config) GetSessionTTL() time.Duration {
	return parseDuration(c.Session.TTL, 15*time.Minute)
}

// GetSessionRetention returns how long an expired record is kept so that the
// expiry can still be reported.
func (c *Config) GetSessionRetention() time.Duration {
	return parseDuration(c.Session.Retention, time.Hour)
}

// GetLLMTimeout returns the HTTP timeout for the reasoning service client.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 5*time.Second)
}

// GetHalfLife returns the preference decay half-life.
func (c *Config) GetHalfLife() time.Duration {
	return parseDuration(c.Personalization.HalfLife, 30*24*time.Hour)
}

// GetCacheTTL returns the preference cache entry lifetime.
func (c *Config) GetCacheTTL() time.Duration {
	return parseDuration(c.Personalization.CacheTTL, 5*time.Minute)
}

// GetReadTimeout returns the HTTP server read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 10*time.Second)
}

// GetWriteTimeout returns the HTTP server write timeout.
func (c *Config) GetWriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 15*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ValidProviders lists the supported reasoning service providers.
var ValidProviders = []string{"none", "openai", "gemini"}

// ValidBackends lists the supported session store backends.
var ValidBackends = []string{"memory", "redis"}

// Validate checks the configuration for values the resolver cannot work with.
func (c *Config) Validate() error {
	var errs []error

	if t := c.Resolver.ConfidenceThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("resolver.confidence_threshold must be in (0,1], got %v", t))
	}
	if t := c.Resolver.FallbackThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("resolver.fallback_threshold must be in [0,1], got %v", t))
	}
	if h := c.Perception.DefaultHour; h < 0 || h > 23 {
		errs = append(errs, fmt.Errorf("perception.default_hour must be 0-23, got %d", h))
	}
	if !contains(ValidBackends, c.Session.Backend) {
		errs = append(errs, fmt.Errorf("invalid session backend: %s (valid: %v)", c.Session.Backend, ValidBackends))
	}
	if !contains(ValidProviders, c.LLM.Provider) {
		errs = append(errs, fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders))
	} else if c.LLM.Provider != "none" && c.LLM.APIKey == "" {
		errs = append(errs, fmt.Errorf("LLM API key not configured for %s (set OPENAI_API_KEY or GEMINI_API_KEY)", c.LLM.Provider))
	}
	if a := c.Personalization.Alpha; a <= 0 || a > 1 {
		errs = append(errs, fmt.Errorf("personalization.alpha must be in (0,1], got %v", a))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err))
	}

	return errors.Join(errs...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
