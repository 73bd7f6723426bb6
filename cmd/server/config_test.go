// config_test.go - Tests for configuration loading.
package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.APIServerAddress)
	assert.Equal(t, "app-assets", cfg.StorageBucket)
	assert.Empty(t, cfg.SupabaseURL)
	assert.False(t, cfg.BackendConfigured())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"api_listener": ":9090",
		"supabase_url": "https://proj.supabase.co",
		"supabase_anon_key": "file-key",
		"sync_webhook_url": "https://hooks.test/sync"
	}`), 0644))
	t.Setenv("NEXUS_STORE_CONFIG_PATH", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.APIServerAddress)
	assert.Equal(t, "https://hooks.test/sync", cfg.SyncWebhookURL)
	assert.Equal(t, path, cfg.ConfigFileUsed)
	assert.True(t, cfg.BackendConfigured())

	// Defaults survive for fields the file omits.
	assert.Equal(t, "app-assets", cfg.StorageBucket)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"supabase_url": "https://from-file"}`), 0644))
	t.Setenv("NEXUS_STORE_CONFIG_PATH", path)
	t.Setenv("SUPABASE_URL", "https://from-env")
	t.Setenv("SUPABASE_ANON_KEY", "env-key")
	t.Setenv("NEXUS_STORE_SHUTDOWN_DELAY", "11")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://from-env", cfg.SupabaseURL)
	assert.Equal(t, "env-key", cfg.SupabaseAnonKey)
	assert.Equal(t, 11, cfg.ShutdownDelay)
}

func TestMissingConfigFileUsesDefaults(t *testing.T) {
	t.Setenv("NEXUS_STORE_CONFIG_PATH", filepath.Join(t.TempDir(), "does-not-exist.json"))
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("NEXUS_STORE_API_ADDRESS", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.ConfigFileUsed)
	assert.Equal(t, ":8080", cfg.APIServerAddress)
}

func TestMalformedConfigFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0644))
	t.Setenv("NEXUS_STORE_CONFIG_PATH", path)

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageBucket = ""
	assert.Error(t, validateConfig(cfg))

	cfg = DefaultConfig()
	cfg.SessionSecret = ""
	assert.Error(t, validateConfig(cfg))

	cfg = DefaultConfig()
	cfg.ShutdownDelay = -1
	assert.Error(t, validateConfig(cfg))

	assert.NoError(t, validateConfig(DefaultConfig()))
}
