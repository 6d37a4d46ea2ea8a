package hotkey

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/term"
)

// TerminalListener is the raw-terminal fallback hotkey source. The client
// selects it only when the evdev listener cannot be constructed; having no
// readable evdev device does not select it (the evdev listener keeps
// scanning instead). A single configured character toggles recording;
// releasing it cannot be
// observed directly from a terminal, so release is inferred from a
// pause in repeat events, per the two-phase window below.
type TerminalListener struct {
	callbacks

	key           byte
	firstRepeat   time.Duration
	repeatWindow  time.Duration
	log           *slog.Logger

	mu       sync.Mutex
	t        *term.Term
	held     bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewTerminalListener builds a fallback listener watching for the given
// single character. firstRepeat/repeatWindow default to 600ms/150ms when
// zero, matching the two-phase release detection described in §4.2.
func NewTerminalListener(key byte, firstRepeat, repeatWindow time.Duration, log *slog.Logger) *TerminalListener {
	if firstRepeat <= 0 {
		firstRepeat = 600 * time.Millisecond
	}
	if repeatWindow <= 0 {
		repeatWindow = 150 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &TerminalListener{
		key:          key,
		firstRepeat:  firstRepeat,
		repeatWindow: repeatWindow,
		log:          log,
		stopCh:       make(chan struct{}),
	}
}

// Start puts stdin into raw mode and reads single bytes until ctx is
// canceled, 'q' or ESC is seen, or Stop is called. Terminal attributes
// are always restored before return, on every exit path.
func (l *TerminalListener) Start(ctx context.Context) error {
	t, err := term.Open("/dev/tty")
	if err != nil {
		return fmt.Errorf("hotkey: open terminal: %w", err)
	}
	if err := t.SetRaw(); err != nil {
		t.Close()
		return fmt.Errorf("hotkey: set raw mode: %w", err)
	}
	l.mu.Lock()
	l.t = t
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		t := l.t
		l.t = nil
		l.mu.Unlock()
		if t != nil {
			t.Restore()
			t.Close()
		}
	}()

	l.printNormal("terminal hotkey mode: hold '%c' to talk, 'q' or ESC to quit\n", l.key)

	events := make(chan byte, 16)
	readErrCh := make(chan error, 1)
	go func() {
		r := bufio.NewReader(t)
		buf := make([]byte, 1)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				select {
				case events <- buf[0]:
				case <-ctx.Done():
					return
				case <-l.stopCh:
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					readErrCh <- err
				}
				close(events)
				return
			}
		}
	}()

	releaseTimer := time.NewTimer(time.Hour)
	releaseTimer.Stop()
	defer releaseTimer.Stop()
	firstRepeatSeen := false

	for {
		select {
		case <-ctx.Done():
			l.endHold()
			return nil
		case <-l.stopCh:
			l.endHold()
			return nil
		case err := <-readErrCh:
			l.endHold()
			return fmt.Errorf("hotkey: terminal read: %w", err)
		case b, ok := <-events:
			if !ok {
				l.endHold()
				return nil
			}
			switch {
			case b == 'q' || b == 0x1b: // ESC
				l.endHold()
				return nil
			case b == l.key:
				if !l.held {
					l.held = true
					firstRepeatSeen = false
					l.fireActivate()
				}
				if !firstRepeatSeen {
					firstRepeatSeen = true
					releaseTimer.Reset(l.firstRepeat)
				} else {
					releaseTimer.Reset(l.repeatWindow)
				}
			}
		case <-releaseTimer.C:
			l.endHold()
		}
	}
}

func (l *TerminalListener) endHold() {
	if l.held {
		l.held = false
		l.fireDeactivate()
	}
}

// Stop is idempotent and safe from another goroutine.
func (l *TerminalListener) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// printNormal writes to the real terminal device with the terminal's
// original attributes briefly restored, so newlines get the usual \r
// translation that raw mode lacks, then switches back to raw mode.
func (l *TerminalListener) printNormal(format string, args ...interface{}) {
	l.mu.Lock()
	t := l.t
	l.mu.Unlock()
	if t == nil {
		return
	}
	t.Restore()
	fmt.Fprintf(t, format, args...)
	t.SetRaw()
}

var _ Listener = (*TerminalListener)(nil)
