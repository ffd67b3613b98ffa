package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientDefaults(t *testing.T) {
	c, err := ParseClient("client", []string{"--code", "ab12cd"})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", c.Server)
	assert.Equal(t, "ab12cd", c.Code)
	assert.Equal(t, "viewer", c.Role)
	assert.Equal(t, "screen", c.Media)
	assert.Equal(t, 10, c.ReconnectAttempts)
	assert.Equal(t, time.Second, c.ReconnectBackoff)
	assert.False(t, c.Close)
}

func TestParseClientFlags(t *testing.T) {
	c, err := ParseClient("client", []string{
		"-s", "https://cast.example.org",
		"--create", "stream",
		"-r", "Broadcaster",
		"--camera", "front=front.ivf,back=back.ivf",
		"--media", "both",
		"--reconnect-attempts", "-1",
		"--reconnect-backoff", "250ms",
		"--close",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://cast.example.org", c.Server)
	assert.Equal(t, "stream", c.Create)
	assert.Equal(t, "broadcaster", c.Role)
	assert.Equal(t, map[string]string{"front": "front.ivf", "back": "back.ivf"}, c.Cameras)
	assert.Equal(t, "both", c.Media)
	assert.Equal(t, -1, c.ReconnectAttempts)
	assert.Equal(t, 250*time.Millisecond, c.ReconnectBackoff)
	assert.True(t, c.Close)
}

func TestParseClientEnv(t *testing.T) {
	t.Setenv("CAST_SERVER", "http://cast.internal:9000")
	t.Setenv("CAST_RECONNECT_ATTEMPTS", "3")

	c, err := ParseClient("client", []string{"--code", "X"})
	require.NoError(t, err)
	assert.Equal(t, "http://cast.internal:9000", c.Server)
	assert.Equal(t, 3, c.ReconnectAttempts)

	c, err = ParseClient("client", []string{"--code", "X", "--server", "http://flag:1"})
	require.NoError(t, err)
	assert.Equal(t, "http://flag:1", c.Server)
}

func TestParseClientRejects(t *testing.T) {
	for name, args := range map[string][]string{
		"no session":   {},
		"both":         {"--code", "X", "--create", "text"},
		"bad media":    {"--code", "X", "--media", "window"},
		"bad backoff":  {"--code", "X", "--reconnect-backoff", "0s"},
		"unknown flag": {"--code", "X", "--nope"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseClient("client", args)
			assert.Error(t, err)
		})
	}
}
