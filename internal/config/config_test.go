package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":4010", cfg.ListenAddr)
	assert.False(t, cfg.BroadcastEcho)
	assert.Equal(t, 32, cfg.SendBuffer)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RELAY_LISTEN_ADDR", ":9000")
	t.Setenv("RELAY_BROADCAST_ECHO", "true")
	t.Setenv("RELAY_WRITE_TIMEOUT", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.True(t, cfg.BroadcastEcho)
	assert.Equal(t, 2*time.Second, cfg.WriteTimeout)
}
