package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variable overrides.
// MCPEVAL_SAMPLING_TIMEOUT_SECONDS maps to sampling_timeout_seconds.
const EnvPrefix = "MCPEVAL_"

// Config holds application configuration.
type Config struct {
	// SamplingTimeoutSeconds bounds the sampling request issued while
	// generating the confirmation email. Timeouts are scored as errors.
	SamplingTimeoutSeconds int `json:"sampling_timeout_seconds"`

	// SamplingMaxTokens is the maxTokens value sent with the sampling request.
	SamplingMaxTokens int `json:"sampling_max_tokens"`

	// HTTPAddr is the listen address for the streamable HTTP MCP transport.
	HTTPAddr string `json:"http_addr"`

	// WebAddr is the listen address for the leaderboard UI and /metrics.
	WebAddr string `json:"web_addr"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`

	// CatalogPath optionally points at a YAML catalog that replaces the
	// built-in restaurant list.
	CatalogPath string `json:"catalog_path,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names that are never exposed,
	// whatever state the session is in. Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SamplingTimeoutSeconds: 120,
		SamplingMaxTokens:      500,
		HTTPAddr:               "127.0.0.1:8080",
		WebAddr:                "127.0.0.1:8081",
		LogLevel:               "info",
	}
}

// SamplingTimeout returns SamplingTimeoutSeconds as a duration.
func (c *Config) SamplingTimeout() time.Duration {
	return time.Duration(c.SamplingTimeoutSeconds) * time.Second
}

// Load loads configuration from baseDir/config.json, then applies
// MCPEVAL_* environment overrides.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.mcpeval.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}

	overlay, err := loadEnv()
	if err != nil {
		return nil, err
	}

	return Merge(cfg, overlay), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File doesn't exist, return zero config
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// loadEnv builds an overlay config from MCPEVAL_* environment variables.
// Keys map to the JSON field names: MCPEVAL_LOG_LEVEL -> log_level.
// Comma-separated values are accepted for list fields.
func loadEnv() (*Config, error) {
	k := koanf.New(".")

	provider := env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		name := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		if name == "disabled_tools" {
			return name, strings.Split(value, ",")
		}
		return name, value
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.SamplingTimeoutSeconds = overlay.SamplingTimeoutSeconds
	if result.SamplingTimeoutSeconds == 0 {
		result.SamplingTimeoutSeconds = base.SamplingTimeoutSeconds
	}

	result.SamplingMaxTokens = overlay.SamplingMaxTokens
	if result.SamplingMaxTokens == 0 {
		result.SamplingMaxTokens = base.SamplingMaxTokens
	}

	result.HTTPAddr = firstNonEmpty(overlay.HTTPAddr, base.HTTPAddr)
	result.WebAddr = firstNonEmpty(overlay.WebAddr, base.WebAddr)
	result.LogLevel = firstNonEmpty(overlay.LogLevel, base.LogLevel)
	result.CatalogPath = firstNonEmpty(overlay.CatalogPath, base.CatalogPath)

	result.DBMaxOpenConns = overlay.DBMaxOpenConns
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}

	result.DBMaxIdleConns = overlay.DBMaxIdleConns
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
