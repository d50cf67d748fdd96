package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.HeartbeatInterval)
	assert.Equal(t, 120*time.Second, cfg.Server.InactivityTimeout)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Cache.SweepInterval)
	assert.False(t, cfg.DurableCache.Enabled)
	assert.Equal(t, "localhost:6379", cfg.DurableCache.RedisAddr)
	assert.False(t, cfg.Classification.Enabled)
	assert.Equal(t, 50051, cfg.Classification.Port)
}

func TestLoad_FileAndPlaceholderExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  port: 9090
  read_timeout: 10s
  write_timeout: 60s

providers:
  google:
    api_key: ${TEST_API_KEY}
    base_url: https://example.com/v1
    models:
      - model-a
      - model-b
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// t.Setenv auto-restores the original value when the test finishes.
	t.Setenv("TEST_API_KEY", "my-secret-key")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)

	google, ok := cfg.Providers["google"]
	assert.True(t, ok, "google provider should exist")
	assert.Equal(t, "my-secret-key", google.APIKey)
	assert.Equal(t, "https://example.com/v1", google.BaseURL)
	assert.Equal(t, []string{"model-a", "model-b"}, google.Models)
}

func TestLoad_GatewayEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  port: 8080
  read_timeout: 30s
  write_timeout: 120s
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// This should override server.port from 8080 to 3000.
	t.Setenv("GATEWAY_SERVER_PORT", "3000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoad_ProviderVendorEnvVars(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-123")
	t.Setenv("OPENAI_BASE_URL", "https://api.openai.com/v1")
	t.Setenv("GEMINI_API_VERSION", "v1beta")
	t.Setenv("USE_CLASSIFICATION_SERVICE", "true")
	t.Setenv("CLASSIFICATION_SERVER_HOST", "classifier.internal")
	t.Setenv("CLASSIFICATION_SERVER_PORT", "50052")

	cfg, err := Load("")
	require.NoError(t, err)

	openai, ok := cfg.Providers["openai"]
	assert.True(t, ok)
	assert.Equal(t, "sk-test-123", openai.APIKey)
	assert.Equal(t, "https://api.openai.com/v1", openai.BaseURL)

	google := cfg.Providers["google"]
	assert.Equal(t, "v1beta", google.APIVersion)

	assert.True(t, cfg.Classification.Enabled)
	assert.Equal(t, "classifier.internal", cfg.Classification.Host)
	assert.Equal(t, 50052, cfg.Classification.Port)
}
