package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultAPIBaseURL, cfg.API.BaseURL)
	assert.Equal(t, 30, cfg.API.TimeoutSec)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 300, cfg.Sync.WatchIntervalSec)
	assert.True(t, cfg.Credentials.Keyring)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
vault:
  path: /tmp/vault-from-file
sync:
  max_concurrent_downloads: 4
  watch_interval_sec: -1
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("ROBINSYNC_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/vault-from-file", cfg.Vault.Path)
	assert.Equal(t, 4, cfg.Sync.MaxConcurrentDownloads)
	assert.Equal(t, 300, cfg.Sync.WatchIntervalSec, "non-positive interval falls back")
	assert.Equal(t, "warn", cfg.Log.Level, "environment wins over the file")
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vault: [unclosed"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := defaultAppConfig()
	cfg.Vault.Path = "/srv/notes"
	cfg.Sync.DownloadsPerSecond = 2.5
	cfg.Credentials.Keyring = false
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/notes", loaded.Vault.Path)
	assert.Equal(t, 2.5, loaded.Sync.DownloadsPerSecond)
	assert.False(t, loaded.Credentials.Keyring)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "vault"), expandHome("~/vault"))
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
	assert.Equal(t, "~user/x", expandHome("~user/x"))
}
