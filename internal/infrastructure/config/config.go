package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Agent     AgentConfig
	Storage   StorageConfig
	Network   NetworkConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	// AdminPrefix namespaces the agent control routes.
	AdminPrefix string   `envconfig:"ADMIN_PREFIX" default:"/_agent"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// AgentConfig holds caching agent configuration.
type AgentConfig struct {
	// Origin is the application origin the agent fronts and caches for.
	Origin          string   `envconfig:"ORIGIN" default:"http://localhost:8080"`
	BuildID         string   `envconfig:"BUILD_ID"`
	VersionPrefix   string   `envconfig:"VERSION_PREFIX" default:"mask-my-text"`
	ProductionHosts []string `envconfig:"PRODUCTION_HOSTS" default:"maskmytext.com,www.maskmytext.com"`
	PathPrefix      string   `envconfig:"PATH_PREFIX" default:"maskmytext.com"`
	// ShellFile optionally replaces the built-in app shell (.yaml or .toml).
	ShellFile       string   `envconfig:"SHELL_FILE"`
	// ShellDir scans a build output directory for the app shell instead.
	ShellDir        string   `envconfig:"SHELL_DIR"`
	ShellPatterns   []string `envconfig:"SHELL_PATTERNS" default:"**/*.html,**/*.js,**/*.json,**/*.css,**/*.wasm,**/*.ico,**/*.png"`
	// ShellDiscover adds the assets referenced by the origin's root document.
	ShellDiscover   bool     `envconfig:"SHELL_DISCOVER" default:"false"`
	CacheThreshold  int      `envconfig:"CACHE_THRESHOLD" default:"100"`
	CacheExtension  []string `envconfig:"CACHE_EXTENSIONS"`
	HealPatterns    []string `envconfig:"HEAL_PATTERNS"`
}

// StorageConfig selects the cache storage backend.
type StorageConfig struct {
	Driver string `envconfig:"STORAGE_DRIVER" default:"memory"`
	Path   string `envconfig:"STORAGE_PATH" default:"/tmp/maskmytext-cache.db"`
}

// NetworkConfig holds upstream fetch configuration.
type NetworkConfig struct {
	// Timeout is the transport-level limit; zero disables it.
	Timeout   time.Duration `envconfig:"NETWORK_TIMEOUT" default:"30s"`
	Retries   int           `envconfig:"NETWORK_RETRIES" default:"1"`
	RateLimit float64       `envconfig:"NETWORK_RPS" default:"0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int           `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int           `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	IdleTTL           time.Duration `envconfig:"RATE_LIMIT_IDLE_TTL" default:"5m"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8000",
			Host:        "0.0.0.0",
			AdminPrefix: "/_agent",
			CORSOrigins: []string{"*"},
		},
		Agent: AgentConfig{
			Origin:          "http://localhost:8080",
			VersionPrefix:   "mask-my-text",
			ProductionHosts: []string{"maskmytext.com", "www.maskmytext.com"},
			PathPrefix:      "maskmytext.com",
			ShellPatterns:   []string{"**/*.html", "**/*.js", "**/*.json", "**/*.css", "**/*.wasm", "**/*.ico", "**/*.png"},
			CacheThreshold:  100,
		},
		Storage: StorageConfig{
			Driver: "memory",
			Path:   "/tmp/maskmytext-cache.db",
		},
		Network: NetworkConfig{
			Timeout: 30 * time.Second,
			Retries: 1,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
			IdleTTL:           5 * time.Minute,
		},
	}
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.Agent.Origin == "" {
		return fmt.Errorf("config: ORIGIN is required")
	}
	if c.Agent.CacheThreshold < 0 {
		return fmt.Errorf("config: CACHE_THRESHOLD must not be negative")
	}
	switch c.Storage.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("config: unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if c.Agent.ShellFile != "" && c.Agent.ShellDir != "" {
		return fmt.Errorf("config: SHELL_FILE and SHELL_DIR are mutually exclusive")
	}
	if c.Network.Retries < 0 {
		return fmt.Errorf("config: NETWORK_RETRIES must not be negative")
	}
	return nil
}
