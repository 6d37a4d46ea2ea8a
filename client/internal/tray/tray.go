// Package tray drives the optional system-tray indicator showing the
// client's four-state status: disconnected, ready, recording, degraded
// (no evdev input device visible, or terminal-hotkey fallback engaged).
package tray

import (
	"runtime"
	"sync/atomic"

	"github.com/getlantern/systray"
)

// State is one of the tray's four visual states.
type State int32

const (
	StateDisconnected State = iota
	StateReady
	StateRecording
	StateDegraded
)

var stateLabels = map[State]string{
	StateDisconnected: "Disconnected",
	StateReady:        "Ready",
	StateRecording:    "Recording",
	StateDegraded:     "Degraded",
}

// Tray owns the systray title, tooltip and menu. systray.Run must own the
// calling OS thread for its whole lifetime, so Run locks the calling
// goroutine to its OS thread before handing control to systray.Run.
type Tray struct {
	state   atomic.Int32
	quitCh  chan struct{}
	onQuit  func()
	quitMI  *systray.MenuItem
}

// New builds a Tray. onQuit is invoked when the user picks "Quit" from
// the tray menu.
func New(onQuit func()) *Tray {
	return &Tray{quitCh: make(chan struct{}), onQuit: onQuit}
}

// Run blocks until Stop is called or the user quits from the menu. Call
// it from its own goroutine; it locks the OS thread it runs on for the
// duration, as systray requires.
func (t *Tray) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	systray.Run(t.onReady, t.onExit)
}

// Stop requests the tray loop to exit.
func (t *Tray) Stop() {
	systray.Quit()
}

// SetState updates the tray title and tooltip to reflect s. Safe to call from
// any goroutine.
func (t *Tray) SetState(s State) {
	t.state.Store(int32(s))
	systray.SetTitle(stateLabels[s])
	systray.SetTooltip("sttmesh: " + stateLabels[s])
}

func (t *Tray) onReady() {
	systray.SetTitle(stateLabels[StateDisconnected])
	systray.SetTooltip("sttmesh client")
	t.quitMI = systray.AddMenuItem("Quit", "Exit sttmesh")
	go func() {
		<-t.quitMI.ClickedCh
		if t.onQuit != nil {
			t.onQuit()
		}
		systray.Quit()
	}()
}

func (t *Tray) onExit() {
	close(t.quitCh)
}

// Done returns a channel closed once the tray loop has fully exited.
func (t *Tray) Done() <-chan struct{} {
	return t.quitCh
}
