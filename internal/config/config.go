// Package config provides configuration management for statline.
// It loads settings from environment variables with the STATLINE_ prefix
// and provides sensible defaults for all configuration options.
//
// Per-domain settings (store location, backend URL, routing keywords) live
// in a separate YAML domains file; see LoadDomainsFile.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the statline application.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Logging  LoggingConfig
	Security SecurityConfig
	Registry RegistryConfig
	Backend  BackendConfig
	Cache    CacheConfig
	Pipeline PipelineConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 6464)
	Host string // Server host (default: 127.0.0.1)
}

// StorageConfig contains entity store and schema cache locations.
type StorageConfig struct {
	DataPath         string // Directory for SQLite files (default: ./data)
	DomainsFile      string // Path to the domains YAML file (default: config/domains.yaml)
	WatchDomainsFile bool   // Reload domains when the file changes (default: true)
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string // debug, info, warn, error (default: info)
	Format string // text or json (default: text)
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode   string // Security mode: development, production (default: development)
	APIToken       string // API authentication token
	RateLimitRPS   int    // Requests per second per client (default: 10)
	RateLimitBurst int    // Burst size per client (default: 20)
}

// RegistryConfig controls tool schema refresh behavior.
type RegistryConfig struct {
	RefreshInterval time.Duration // Freshness window and periodic refresh (default: 5m)
	FailureBackoff  time.Duration // Minimum gap between failed refresh attempts (default: 30s)
}

// BackendConfig holds defaults applied to every domain backend.
type BackendConfig struct {
	Timeout time.Duration // Per-call timeout (default: 5s)
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	Capacity int // Maximum number of entries (default: 2048)
}

// PipelineConfig controls per-request execution.
type PipelineConfig struct {
	Concurrency int // Maximum concurrent tool calls within a phase (default: 4)
}

// LoadConfig loads configuration from environment variables with sensible defaults.
// All environment variables use the STATLINE_ prefix.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	return cfg, nil
}

// IsProduction reports whether the server runs in production security mode.
func (c *Config) IsProduction() bool {
	return c.Security.SecurityMode == "production"
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("STATLINE_PORT", 6464),
			Host: getEnv("STATLINE_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			DataPath:         getEnv("STATLINE_DATA_PATH", "./data"),
			DomainsFile:      getEnv("STATLINE_DOMAINS_FILE", "config/domains.yaml"),
			WatchDomainsFile: getEnvBool("STATLINE_WATCH_DOMAINS_FILE", true),
		},
		Logging: LoggingConfig{
			Level:  getEnv("STATLINE_LOG_LEVEL", "info"),
			Format: getEnv("STATLINE_LOG_FORMAT", "text"),
		},
		Security: SecurityConfig{
			SecurityMode:   getEnv("STATLINE_SECURITY_MODE", "development"),
			APIToken:       getEnv("STATLINE_API_TOKEN", ""),
			RateLimitRPS:   getEnvInt("STATLINE_RATE_LIMIT_RPS", 10),
			RateLimitBurst: getEnvInt("STATLINE_RATE_LIMIT_BURST", 20),
		},
		Registry: RegistryConfig{
			RefreshInterval: getEnvDuration("STATLINE_REGISTRY_REFRESH_INTERVAL", 5*time.Minute),
			FailureBackoff:  getEnvDuration("STATLINE_REGISTRY_FAILURE_BACKOFF", 30*time.Second),
		},
		Backend: BackendConfig{
			Timeout: getEnvDuration("STATLINE_BACKEND_TIMEOUT", 5*time.Second),
		},
		Cache: CacheConfig{
			Capacity: getEnvInt("STATLINE_CACHE_CAPACITY", 2048),
		},
		Pipeline: PipelineConfig{
			Concurrency: getEnvInt("STATLINE_PIPELINE_CONCURRENCY", 4),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a time.Duration environment variable ("90s", "5m")
// or returns a default value. Unparseable or non-positive values fall back
// to the default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
