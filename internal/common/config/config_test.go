package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ACPLB_IDLE_TIMEOUT_MS", "")
	t.Setenv("ACPLB_POLLING_INTERVAL_MS", "")
	t.Setenv("CODEX_CMD", "")
	t.Setenv("ACPLB_NOTIFY_KIND", "")
	t.Setenv("ACPLB_NOTIFY_INJECT", "")
	t.Setenv("ACPLB_NETWORK_ACCESS", "")

	cfg := Load()
	assert.Equal(t, defaultIdleTimeoutMs, cfg.IdleTimeoutMs)
	assert.Equal(t, defaultPollingIntervalMs, cfg.PollingIntervalMs)
	assert.Equal(t, defaultCodexCmd, cfg.CodexCmd)
	assert.Equal(t, defaultNotifyKind, cfg.NotifyKind)
	assert.Equal(t, defaultNotifyInject, cfg.NotifyInject)
	assert.Nil(t, cfg.NetworkAccessOverride)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ACPLB_IDLE_TIMEOUT_MS", "5000")
	t.Setenv("ACPLB_POLLING_INTERVAL_MS", "250")
	t.Setenv("ACPLB_NOTIFY_KIND", "FIFO")
	t.Setenv("ACPLB_NETWORK_ACCESS", "true")

	cfg := Load()
	assert.Equal(t, 5000, cfg.IdleTimeoutMs)
	assert.Equal(t, 250, cfg.PollingIntervalMs)
	assert.Equal(t, "fifo", cfg.NotifyKind)
	if assert.NotNil(t, cfg.NetworkAccessOverride) {
		assert.True(t, *cfg.NetworkAccessOverride)
	}
}

func TestLoadInvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("ACPLB_IDLE_TIMEOUT_MS", "not-a-number")
	cfg := Load()
	assert.Equal(t, defaultIdleTimeoutMs, cfg.IdleTimeoutMs)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "acplb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("idleTimeoutMs: 9000\ncodexCmd: my-codex\nnotifyKind: fifo\n"), 0644))

	t.Setenv("ACPLB_CONFIG_FILE", path)
	t.Setenv("ACPLB_IDLE_TIMEOUT_MS", "")
	t.Setenv("CODEX_CMD", "")
	t.Setenv("ACPLB_NOTIFY_KIND", "")

	cfg := Load()
	assert.Equal(t, 9000, cfg.IdleTimeoutMs)
	assert.Equal(t, "my-codex", cfg.CodexCmd)
	assert.Equal(t, "fifo", cfg.NotifyKind)
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "acplb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("idleTimeoutMs: 9000\n"), 0644))

	t.Setenv("ACPLB_CONFIG_FILE", path)
	t.Setenv("ACPLB_IDLE_TIMEOUT_MS", "42")

	cfg := Load()
	assert.Equal(t, 42, cfg.IdleTimeoutMs)
}

func TestLoadMissingFileIsSilent(t *testing.T) {
	t.Setenv("ACPLB_CONFIG_FILE", filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	cfg := Load()
	assert.Equal(t, defaultIdleTimeoutMs, cfg.IdleTimeoutMs)
}
