package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 60*time.Second, cfg.PongWait())
	assert.Equal(t, 8, cfg.CodeAttempts)
	assert.Equal(t, "kick", cfg.Backpressure)
	assert.Equal(t, 50, cfg.SignalRate.Limit)
	assert.Equal(t, time.Second, cfg.SignalRate.Interval)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers[0].URLs)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	yaml := `
mode: debug
port: 9000
ping_period: 10s
backpressure: drop
signal_rate:
  limit: 5
ice_servers:
  - urls: ["stun:example.org:3478"]
  - urls: ["turn:example.org:3478"]
    username: u
    credential: p
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.PingPeriod)
	assert.Equal(t, "drop", cfg.Backpressure)
	assert.Equal(t, 5, cfg.SignalRate.Limit)
	assert.Equal(t, time.Second, cfg.SignalRate.Interval)
	require.Len(t, cfg.ICEServers, 2)
	assert.Equal(t, "u", cfg.ICEServers[1].Username)
}

func TestLoadFileEnvOverride(t *testing.T) {
	t.Setenv("CAST_PORT", "7070")
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
}

func TestLoadFileRejectsBadPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 70000\n"), 0o600))
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFileRejectsBadBackpressure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backpressure: ignore\n"), 0o600))
	_, err := LoadFile(path)
	assert.Error(t, err)
}
