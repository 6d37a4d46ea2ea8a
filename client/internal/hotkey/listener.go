// Package hotkey defines the pluggable hotkey-source contract (§4.2) and
// its two implementations: a global evdev listener and a raw-terminal
// fallback. Both satisfy Listener so the PTT controller never needs to
// know which one it is driving.
package hotkey

import "context"

// Listener is the small capability boundary both hotkey sources satisfy.
// Start runs until ctx is canceled or Stop is called; Stop is idempotent
// and safe to call from another goroutine.
type Listener interface {
	SetOnActivate(fn func())
	SetOnDeactivate(fn func())
	SetOnDeviceCountChanged(fn func(count int))
	Start(ctx context.Context) error
	Stop()
}

// callbacks holds the three optional hooks shared by both listener
// implementations, each guarded by its own mutex-free atomic-pointer-free
// setter — callers are expected to wire these once, before Start, exactly
// as the reference design's SetOnXxx idiom does elsewhere in this
// codebase.
type callbacks struct {
	onActivate           func()
	onDeactivate         func()
	onDeviceCountChanged func(count int)
}

func (c *callbacks) SetOnActivate(fn func())              { c.onActivate = fn }
func (c *callbacks) SetOnDeactivate(fn func())            { c.onDeactivate = fn }
func (c *callbacks) SetOnDeviceCountChanged(fn func(int)) { c.onDeviceCountChanged = fn }

// fireActivate invokes onActivate guarded against panics, per §4.2's
// "exceptions raised inside a callback must not terminate the listener".
func (c *callbacks) fireActivate() {
	if c.onActivate == nil {
		return
	}
	defer recoverAndIgnore()
	c.onActivate()
}

func (c *callbacks) fireDeactivate() {
	if c.onDeactivate == nil {
		return
	}
	defer recoverAndIgnore()
	c.onDeactivate()
}

func (c *callbacks) fireDeviceCountChanged(n int) {
	if c.onDeviceCountChanged == nil {
		return
	}
	defer recoverAndIgnore()
	c.onDeviceCountChanged(n)
}

func recoverAndIgnore() {
	_ = recover()
}
