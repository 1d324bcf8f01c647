package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "https://api.serverdeck.app", cfg.API.BaseURL)
	assert.Equal(t, "serverdeck.db", cfg.Store.Path)
	assert.Equal(t, 25, cfg.Refresh.PageSize)
	assert.Equal(t, "rank", cfg.Refresh.Sort)
	assert.Equal(t, 5*time.Minute, cfg.Refresh.MinInterval)
	assert.Equal(t, 10, cfg.Refresh.MaxPages)
	assert.Equal(t, 3, cfg.Refresh.RetryThreshold)
	assert.Equal(t, time.Minute, cfg.Sync.ReminderPoll)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	data := []byte(`
api:
  base_url: https://staging.serverdeck.app
  key: test-key
refresh:
  page_size: 50
  min_interval: 10m
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "https://staging.serverdeck.app", cfg.API.BaseURL)
	assert.Equal(t, "test-key", cfg.API.Key)
	assert.Equal(t, 50, cfg.Refresh.PageSize)
	assert.Equal(t, 10*time.Minute, cfg.Refresh.MinInterval)
	// Untouched settings keep their defaults.
	assert.Equal(t, 10, cfg.Refresh.MaxPages)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SERVERDECK_API_KEY", "from-env")
	t.Setenv("SERVERDECK_REFRESH_MAX_PAGES", "4")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.API.Key)
	assert.Equal(t, 4, cfg.Refresh.MaxPages)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	data := []byte("refresh:\n  page_size: 0\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page_size")
}
