package main

import (
	"log/slog"
	"testing"
	"time"

	"sttmesh/client/internal/audio"
	"sttmesh/client/internal/config"

	"github.com/stretchr/testify/require"
)

func TestParseDurationOrFallsBackOnInvalid(t *testing.T) {
	require.Equal(t, 5*time.Second, parseDurationOr("not-a-duration", 5*time.Second))
	require.Equal(t, 2*time.Second, parseDurationOr("2s", time.Second))
	require.Equal(t, time.Second, parseDurationOr("0s", time.Second))
}

func TestBuildListenerFallsBackToTerminalOnUnknownHotkey(t *testing.T) {
	a := &clientApp{
		cfg: config.Config{
			PTT: config.PTTConfig{
				Hotkey:                 []string{"NOT_A_REAL_KEY_NAME"},
				TerminalHotkey:         " ",
				DeviceScanIntervalSecs: 2,
			},
		},
		log: slog.Default(),
	}

	l, degraded := a.buildListener()
	require.True(t, degraded)
	require.NotNil(t, l)
}

func TestBeeperGatedByClickSoundConfig(t *testing.T) {
	engine := audio.NewEngine(100, slog.Default())

	on := &clientApp{cfg: config.Config{PTT: config.PTTConfig{ClickSound: true}}}
	require.NotNil(t, on.beeper(engine))

	off := &clientApp{cfg: config.Config{PTT: config.PTTConfig{ClickSound: false}}}
	require.Nil(t, off.beeper(engine))
}
