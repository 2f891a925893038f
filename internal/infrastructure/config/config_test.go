package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "/_agent", cfg.Server.AdminPrefix)
	assert.Equal(t, "http://localhost:8080", cfg.Agent.Origin)
	assert.Equal(t, 100, cfg.Agent.CacheThreshold)
	assert.Equal(t, "maskmytext.com", cfg.Agent.PathPrefix)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 30*time.Second, cfg.Network.Timeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.RateLimit.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":             "9000",
		"ORIGIN":           "https://maskmytext.com",
		"BUILD_ID":         "abc123",
		"CACHE_THRESHOLD":  "3",
		"CACHE_EXTENSIONS": ".png,.js",
		"HEAL_PATTERNS":    "/maskmytext.com/maskmytext.com/**",
		"STORAGE_DRIVER":   "sqlite",
		"STORAGE_PATH":     ":memory:",
		"NETWORK_TIMEOUT":  "5s",
		"NETWORK_RETRIES":  "0",
		"LOG_LEVEL":        "debug",
		"LOG_DEV":          "true",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "https://maskmytext.com", cfg.Agent.Origin)
	assert.Equal(t, "abc123", cfg.Agent.BuildID)
	assert.Equal(t, 3, cfg.Agent.CacheThreshold)
	assert.Equal(t, []string{".png", ".js"}, cfg.Agent.CacheExtension)
	assert.Equal(t, []string{"/maskmytext.com/maskmytext.com/**"}, cfg.Agent.HealPatterns)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 5*time.Second, cfg.Network.Timeout)
	assert.Equal(t, 0, cfg.Network.Retries)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty origin", func(c *Config) { c.Agent.Origin = "" }},
		{"negative threshold", func(c *Config) { c.Agent.CacheThreshold = -1 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "redis" }},
		{"negative retries", func(c *Config) { c.Network.Retries = -2 }},
		{"shell file and dir", func(c *Config) {
			c.Agent.ShellFile = "shell.yaml"
			c.Agent.ShellDir = "dist"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "redis")

	_, err := Load()
	assert.Error(t, err)
}
