// Package daemon holds the client's process-orchestration concerns that
// don't belong to any single leaf component: discovering and replacing an
// older running instance at startup, and the connect-retry policy that
// drives the tray's connected/disconnected state.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// killGracePeriod is how long Takeover waits after SIGTERM before probing
// liveness and escalating to SIGKILL.
const killGracePeriod = 300 * time.Millisecond

// Takeover finds other running processes named processName, excluding the
// current process and its parent (the parent is typically a launching
// wrapper, e.g. a desktop-entry shim, not a peer to replace), and
// terminates each: SIGTERM first, then SIGKILL if it survives the grace
// period. A process list or signal failure is logged and does not abort
// startup — a hung predecessor should never block a new instance (§9
// "Takeover vs. file locks").
func Takeover(ctx context.Context, processName string, selfPID, parentPID int32, log *slog.Logger) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		log.Warn("takeover: list processes failed", "err", err)
		return
	}

	for _, p := range procs {
		if p.Pid == selfPID || p.Pid == parentPID {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || name != processName {
			continue
		}
		killPeer(ctx, p, log)
	}
}

func killPeer(ctx context.Context, p *process.Process, log *slog.Logger) {
	log.Info("takeover: terminating old instance", "pid", p.Pid)
	if err := p.SendSignalWithContext(ctx, syscall.SIGTERM); err != nil {
		log.Warn("takeover: sigterm failed", "pid", p.Pid, "err", err)
		return
	}

	time.Sleep(killGracePeriod)

	alive, err := p.IsRunningWithContext(ctx)
	if err != nil || !alive {
		return
	}
	if err := p.SendSignalWithContext(ctx, syscall.SIGKILL); err != nil {
		log.Warn("takeover: sigkill failed", "pid", p.Pid, "err", err)
	}
}

// RetryPolicy drives the client's connect-retry loop: a bounded
// exponential backoff for one-shot/PTT-foreground startup, or an
// unbounded fixed delay for --daemon mode (§4.6).
type RetryPolicy struct {
	// MaxAttempts is the number of dial attempts before giving up. Zero
	// or negative means unbounded (daemon mode).
	MaxAttempts int
	// InitialDelay is the backoff starting point; it doubles on every
	// failed attempt up to a 30s ceiling, unless FixedDelay is set.
	InitialDelay time.Duration
	// FixedDelay, when non-zero, replaces exponential backoff with a
	// constant delay between attempts (daemon mode's "fixed 5s delay").
	FixedDelay time.Duration
}

// ErrExhausted is returned by Run when MaxAttempts is reached without a
// successful dial.
var ErrExhausted = fmt.Errorf("daemon: connect attempts exhausted")

// Run calls dial until it succeeds, ctx is canceled, or MaxAttempts is
// reached. onAttempt, if non-nil, is invoked before each attempt
// (attempt is 1-based) so callers can drive tray/log state.
func (p RetryPolicy) Run(ctx context.Context, dial func(ctx context.Context) error, onAttempt func(attempt int)) error {
	delay := p.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}
	const maxBackoff = 30 * time.Second

	for attempt := 1; ; attempt++ {
		if onAttempt != nil {
			onAttempt(attempt)
		}
		if err := dial(ctx); err == nil {
			return nil
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return ErrExhausted
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := delay
		if p.FixedDelay > 0 {
			wait = p.FixedDelay
		}
		// A little jitter avoids every client in a fleet retrying in lockstep.
		wait += time.Duration(rand.Int63n(int64(wait/10 + 1)))

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}

		if p.FixedDelay == 0 {
			delay *= 2
			if delay > maxBackoff {
				delay = maxBackoff
			}
		}
	}
}

// HasDisplay reports whether a graphical session is present, per §4.6's
// "--daemon requires a display; absent display => exit 0 silently".
func HasDisplay(getenv func(string) string) bool {
	return getenv("DISPLAY") != "" || getenv("WAYLAND_DISPLAY") != ""
}
