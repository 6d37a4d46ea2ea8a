package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.Server.Host)
	require.Equal(t, 9876, cfg.Server.Port)
	require.Equal(t, 10, cfg.Server.MaxConnections)
	require.True(t, cfg.Server.RejectWhenFull)
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	t.Setenv("STT_SERVER_PORT", "9999")
	t.Setenv("STT_SERVER_MAX_CONNECTIONS", "25")
	t.Setenv("STT_SERVER_REJECT_WHEN_FULL", "false")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, 25, cfg.Server.MaxConnections)
	require.False(t, cfg.Server.RejectWhenFull)
}
