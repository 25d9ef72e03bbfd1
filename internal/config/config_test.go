package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyEnvOverrides()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "local", cfg.Server.Mode)
	assert.False(t, cfg.Server.ServerMode())
	assert.Equal(t, "FITSCACHE", cfg.Cache.Dir)
	assert.Equal(t, "splatalogue_v3.db", cfg.Catalog.Path)
	assert.Equal(t, 10, cfg.Eviction.SessionTimeoutSec, "developer mode uses the short window")
	assert.Equal(t, 600, cfg.Eviction.OrphanSweepSec)
	assert.Equal(t, 24*60*60, cfg.Eviction.DummyTimeoutSec)
	assert.Equal(t, 500, cfg.Ingest.LongPollTimeoutMs)
}

func TestServerModeLengthensSessionTimeout(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Mode = "server"
	cfg.applyDefaults()

	assert.True(t, cfg.Server.ServerMode())
	assert.Equal(t, 60, cfg.Eviction.SessionTimeoutSec)
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
  mode: server
cache:
  dir: /var/cache/fits
eviction:
  orphan_sweep_sec: 120
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	cfg.applyDefaults()
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "/var/cache/fits", cfg.Cache.Dir)
	assert.Equal(t, 120, cfg.Eviction.OrphanSweepSec)
	assert.Equal(t, 60, cfg.Eviction.SessionTimeoutSec)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("FITSCACHE_DIR", "/tmp/fitscache")
	t.Setenv("SESSION_TIMEOUT_SEC", "42")

	cfg := &Config{}
	cfg.applyEnvOverrides()

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "/tmp/fitscache", cfg.Cache.Dir)
	assert.Equal(t, 42, cfg.Eviction.SessionTimeoutSec)
}
