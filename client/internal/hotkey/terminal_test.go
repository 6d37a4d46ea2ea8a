package hotkey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewTerminalListenerAppliesDefaultTimings(t *testing.T) {
	l := NewTerminalListener(' ', 0, 0, nil)
	require.Equal(t, 600*time.Millisecond, l.firstRepeat)
	require.Equal(t, 150*time.Millisecond, l.repeatWindow)
}

func TestEndHoldFiresDeactivateExactlyOnceWhenHeld(t *testing.T) {
	l := NewTerminalListener(' ', 0, 0, nil)
	var deactivated int
	l.SetOnDeactivate(func() { deactivated++ })

	l.held = true
	l.endHold()
	require.Equal(t, 1, deactivated)

	// Calling again with held already false must not re-fire: Start's
	// exit paths call endHold unconditionally on every branch.
	l.endHold()
	require.Equal(t, 1, deactivated)
}

func TestEndHoldNoOpWhenNeverHeld(t *testing.T) {
	l := NewTerminalListener(' ', 0, 0, nil)
	var deactivated int
	l.SetOnDeactivate(func() { deactivated++ })

	l.endHold()
	require.Equal(t, 0, deactivated)
}
