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
	t.Setenv("KKT_CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sql", cfg.StorageMode)
	assert.Equal(t, 10*time.Second, cfg.OFD.Timeout)
	assert.Equal(t, 60*time.Second, cfg.OFD.ReconnectInterval)
	assert.Equal(t, 72*time.Hour, cfg.Limits.AutonomousMax)
	assert.Equal(t, 24*time.Hour, cfg.Limits.ShiftMax)
}

func TestLoadClampsOfdTimings(t *testing.T) {
	t.Setenv("KKT_CONFIG_FILE", "")
	t.Setenv("OFD_TIMEOUT", "1s")
	t.Setenv("OFD_RECONNECT_INTERVAL", "10s")
	t.Setenv("OFD_RETRY_ATTEMPTS", "0")
	t.Setenv("WORKER_BATCH", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, MinOfdTimeout, cfg.OFD.Timeout)
	assert.Equal(t, MinReconnectInterval, cfg.OFD.ReconnectInterval)
	assert.Equal(t, 1, cfg.OFD.RetryAttempts)
	assert.Equal(t, 50, cfg.Worker.Batch)
}

func TestYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kkt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ofd:
  addr: ofd.example:9000
  timeout: 20s
limits:
  shift_max: 12h
worker:
  batch: 5
`), 0o600))
	t.Setenv("KKT_CONFIG_FILE", path)
	t.Setenv("OFD_RETRY_ATTEMPTS", "4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ofd.example:9000", cfg.OFD.Addr)
	assert.Equal(t, 20*time.Second, cfg.OFD.Timeout)
	assert.Equal(t, 4, cfg.OFD.RetryAttempts, "keys absent from the file keep env values")
	assert.Equal(t, 12*time.Hour, cfg.Limits.ShiftMax)
	assert.Equal(t, 72*time.Hour, cfg.Limits.AutonomousMax)
	assert.Equal(t, 5, cfg.Worker.Batch)
}

func TestYAMLOverlayErrors(t *testing.T) {
	t.Setenv("KKT_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("ofd: [unterminated"), 0o600))
	t.Setenv("KKT_CONFIG_FILE", bad)
	_, err = Load()
	assert.Error(t, err)
}
