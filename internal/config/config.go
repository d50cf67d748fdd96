// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the gateway.
type Config struct {
	Env            string                    `koanf:"env"`
	Server         ServerConfig              `koanf:"server"`
	Cache          CacheConfig               `koanf:"cache"`
	DurableCache   DurableCacheConfig        `koanf:"durable_cache"`
	Classification ClassificationConfig      `koanf:"classification"`
	Providers      map[string]ProviderConfig `koanf:"providers"`
}

// ServerConfig holds HTTP server and streaming-lifecycle timing settings.
type ServerConfig struct {
	Port              int           `koanf:"port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	InactivityTimeout time.Duration `koanf:"inactivity_timeout"`
}

// CacheConfig controls the in-memory response cache (C2).
type CacheConfig struct {
	Enabled       bool          `koanf:"enabled"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// DurableCacheConfig controls the Redis-backed durable tier of the two-tier
// cache (C8).
type DurableCacheConfig struct {
	Enabled   bool          `koanf:"enabled"`
	TTL       time.Duration `koanf:"ttl"`
	RedisAddr string        `koanf:"redis_addr"`
}

// ClassificationConfig controls the external classification RPC client (C7).
type ClassificationConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
}

// ProviderConfig holds the settings for a single LLM provider.
type ProviderConfig struct {
	APIKey       string            `koanf:"api_key"`
	BaseURL      string            `koanf:"base_url"`
	APIVersion   string            `koanf:"api_version"`
	DefaultModel string            `koanf:"default_model"`
	Models       []string          `koanf:"models"`
	ExtraHeaders map[string]string `koanf:"extra_headers"`
}

// defaultValues are applied before the file/env layers so a minimal
// deployment doesn't have to restate every timing knob.
var defaultValues = map[string]any{
	"env":                       "development",
	"server.port":               8080,
	"server.read_timeout":       "30s",
	"server.write_timeout":      "120s",
	"server.heartbeat_interval": "15s",
	"server.inactivity_timeout": "120s",
	"cache.enabled":             true,
	"cache.sweep_interval":      "5m",
	"durable_cache.enabled":     false,
	"durable_cache.ttl":         "1h",
	"durable_cache.redis_addr":  "localhost:6379",
	"classification.enabled":    false,
	"classification.host":       "localhost",
	"classification.port":       50051,
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config. path may be empty
// to run on defaults plus environment variables alone.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	// This is the equivalent of require('dotenv').config() in Node.
	_ = godotenv.Load()

	// Create a new koanf instance. The "." delimiter tells koanf how to
	// separate nested keys internally (e.g., "server.port").
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultValues, "."), nil); err != nil {
		return nil, fmt.Errorf("applying config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Layer environment variables on top. Any env var starting with
	// "GATEWAY_" can override a config value. The callback transforms
	// the env var name into a koanf key path:
	//   GATEWAY_SERVER_PORT       -> server.port
	//   GATEWAY_DURABLE_CACHE_TTL -> durable_cache.ttl
	if err := k.Load(env.Provider("GATEWAY_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "GATEWAY_"))
		// Only the underscore after the section name becomes a dot, so
		// section and field names that contain "_" survive intact.
		for _, section := range []string{"durable_cache", "classification", "server", "cache"} {
			if strings.HasPrefix(key, section+"_") {
				return section + "." + key[len(section)+1:]
			}
		}
		return key
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	// Per-provider settings are addressed directly (not through the
	// GATEWAY_ prefix), matching how each vendor's own SDK names its env
	// var: OPENAI_API_KEY, ANTHROPIC_API_KEY, and so on.
	if overrides := providerEnvOverrides(); len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("applying provider env overrides: %w", err)
		}
	}

	// Unmarshal the loaded key-value pairs into our Config struct.
	// The "" means start from the root. &cfg passes a pointer so koanf
	// can write into the struct (like passing by reference in Node).
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR_NAME} placeholders in provider API keys.
	// koanf doesn't do this automatically, so we handle it ourselves
	// using os.Getenv to look up the actual environment variable value.
	for name, p := range cfg.Providers {
		p.APIKey = expandEnvPlaceholder(p.APIKey)
		cfg.Providers[name] = p // write back into the map
	}

	return &cfg, nil
}

// expandEnvPlaceholder resolves a "${VAR_NAME}" string to the named
// environment variable's value, leaving any other string untouched.
func expandEnvPlaceholder(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

// providerEnvVars lists the providers whose API credentials can be set via
// their own vendor-conventional env var name instead of a config file.
var providerEnvVars = []string{"openai", "anthropic", "google", "openrouter"}

// providerEnvOverrides builds a flat key->value map of every un-prefixed
// env var that's actually set (vendor-conventional provider settings, PORT,
// the cache and durable-cache switches, and the classification settings),
// suitable for layering onto koanf with confmap.Provider.
func providerEnvOverrides() map[string]any {
	overrides := map[string]any{}
	set := func(key, value string) {
		if value != "" {
			overrides[key] = value
		}
	}

	for _, name := range providerEnvVars {
		prefix := strings.ToUpper(name) + "_"
		set("providers."+name+".api_key", os.Getenv(prefix+"API_KEY"))
		set("providers."+name+".base_url", os.Getenv(prefix+"BASE_URL"))
		set("providers."+name+".default_model", os.Getenv(prefix+"DEFAULT_MODEL"))
	}
	set("providers.google.api_version", os.Getenv("GEMINI_API_VERSION"))
	set("classification.host", os.Getenv("CLASSIFICATION_SERVER_HOST"))
	set("classification.port", os.Getenv("CLASSIFICATION_SERVER_PORT"))
	if v := os.Getenv("USE_CLASSIFICATION_SERVICE"); v != "" {
		overrides["classification.enabled"] = v == "true" || v == "1"
	}
	set("server.port", os.Getenv("PORT"))
	if v := os.Getenv("CACHE_ENABLED"); v != "" {
		overrides["cache.enabled"] = v != "false"
	}
	if v := os.Getenv("CACHE_SWEEP_INTERVAL_MS"); v != "" {
		overrides["cache.sweep_interval"] = v + "ms"
	}
	if v := os.Getenv("DURABLE_CACHE_ENABLED"); v != "" {
		overrides["durable_cache.enabled"] = v == "true" || v == "1"
	}
	if v := os.Getenv("DURABLE_CACHE_TTL"); v != "" {
		overrides["durable_cache.ttl"] = v + "s"
	}
	set("durable_cache.redis_addr", os.Getenv("DURABLE_CACHE_REDIS_ADDR"))
	return overrides
}
