package hotkey

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	evdev "github.com/holoplot/go-evdev"
	udev "github.com/jochenvg/go-udev"
)

// deviceState tracks one accepted input device's pressed-key set. The
// device set is keyed by device path, never flattened into a single
// global set (§9 "Per-device key tracking, not a global set") so a
// disconnect can only ever clear that device's own contribution.
type deviceState struct {
	name    string
	pressed map[evdev.KeyEventCode]struct{}
	cancel  context.CancelFunc
}

// EvdevListener is the global kernel-input hotkey source. It scans for
// keyboard-capable devices, deduplicates them by name, and unions their
// per-device pressed-key sets against the configured hotkey.
type EvdevListener struct {
	callbacks

	hotkeyNames  []string
	hotkeyCodes  map[evdev.KeyEventCode]struct{}
	scanInterval time.Duration
	log          *slog.Logger

	mu      sync.Mutex
	devices map[string]*deviceState // keyed by device path
	active  bool

	udevMonitor *udev.Monitor
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewEvdevListener resolves hotkeyNames (e.g. "LEFTCTRL", "LEFTMETA") to
// evdev key codes. Resolution failure is fatal to PTT mode, per §7.
func NewEvdevListener(hotkeyNames []string, scanInterval time.Duration, log *slog.Logger) (*EvdevListener, error) {
	if log == nil {
		log = slog.Default()
	}
	codes := make(map[evdev.KeyEventCode]struct{}, len(hotkeyNames))
	for _, name := range hotkeyNames {
		code, ok := evdev.KEYFromString["KEY_"+name]
		if !ok {
			return nil, fmt.Errorf("hotkey: unknown key name %q", name)
		}
		codes[code] = struct{}{}
	}
	return &EvdevListener{
		hotkeyNames:  hotkeyNames,
		hotkeyCodes:  codes,
		scanInterval: scanInterval,
		log:          log,
		devices:      make(map[string]*deviceState),
		stopCh:       make(chan struct{}),
	}, nil
}

// Start scans for devices on scanInterval, wired to a udev hot-plug
// monitor when available for lower-latency detection, until ctx is
// canceled or Stop is called.
func (l *EvdevListener) Start(ctx context.Context) error {
	wake := make(chan struct{}, 1)
	if mon, err := startUdevMonitor(wake); err == nil {
		l.udevMonitor = mon
	} else {
		l.log.Debug("udev monitor unavailable, relying on scan ticker", "err", err)
	}

	ticker := time.NewTicker(l.scanInterval)
	defer ticker.Stop()

	l.scan()
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return nil
		case <-l.stopCh:
			return nil
		case <-ticker.C:
			l.scan()
		case <-wake:
			l.scan()
		}
	}
}

// Stop is idempotent and safe from another goroutine.
func (l *EvdevListener) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		if l.udevMonitor != nil {
			l.udevMonitor.Close()
		}
		l.mu.Lock()
		for _, d := range l.devices {
			d.cancel()
		}
		l.devices = make(map[string]*deviceState)
		l.mu.Unlock()
	})
}

// scan probes for new devices and reaps ones no longer present. Starting
// with zero accessible devices is permitted: the scanner simply keeps
// waiting for reconnect.
func (l *EvdevListener) scan() {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		l.log.Debug("evdev: list devices failed", "err", err)
		return
	}

	seen := make(map[string]struct{}, len(paths))
	byName := make(map[string]bool)

	for _, p := range paths {
		seen[p.Path] = struct{}{}

		l.mu.Lock()
		_, known := l.devices[p.Path]
		l.mu.Unlock()
		if known {
			byName[p.Name] = true
			continue
		}
		if byName[p.Name] {
			continue // dedup by device name
		}

		dev, err := evdev.Open(p.Path)
		if err != nil {
			continue
		}
		if !dev.CapableOfEventType(evdev.EV_KEY) || !dev.HasKeyEvent(evdev.KEY_A) || !dev.HasKeyEvent(evdev.KEY_ENTER) {
			dev.Close()
			continue
		}
		byName[p.Name] = true
		l.addDevice(p.Path, p.Name, dev)
	}

	l.reapMissing(seen)
}

func (l *EvdevListener) addDevice(path, name string, dev *evdev.InputDevice) {
	ctx, cancel := context.WithCancel(context.Background())
	ds := &deviceState{name: name, pressed: make(map[evdev.KeyEventCode]struct{}), cancel: cancel}

	l.mu.Lock()
	l.devices[path] = ds
	count := len(l.devices)
	l.mu.Unlock()
	l.fireDeviceCountChanged(count)

	go l.readLoop(ctx, path, dev)
}

func (l *EvdevListener) readLoop(ctx context.Context, path string, dev *evdev.InputDevice) {
	defer dev.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ev, err := dev.ReadOne()
		if err != nil {
			// Device disappearance is normal: it is not an error condition
			// from the listener's perspective, just a trigger to retire it.
			l.removeDevice(path)
			return
		}
		if ev.Type != evdev.EV_KEY {
			continue
		}
		l.handleKeyEvent(path, evdev.KeyEventCode(ev.Code), ev.Value)
	}
}

func (l *EvdevListener) handleKeyEvent(path string, code evdev.KeyEventCode, value int32) {
	l.mu.Lock()
	ds, ok := l.devices[path]
	if !ok {
		l.mu.Unlock()
		return
	}
	switch value {
	case 1: // press
		ds.pressed[code] = struct{}{}
	case 0: // release
		delete(ds.pressed, code)
	default: // repeat (2) — ignore, suppressing spurious re-activation
		l.mu.Unlock()
		return
	}
	wasActive := l.active
	nowActive := l.unionSatisfiesHotkeyLocked()
	l.active = nowActive
	l.mu.Unlock()

	if !wasActive && nowActive {
		l.fireActivate()
	} else if wasActive && !nowActive {
		l.fireDeactivate()
	}
}

// removeDevice drops a device's pressed-key contribution and, if that
// changes the union's activation state, synthesizes a single
// on_deactivate before notifying the device-count callback — the ordering
// §5 requires.
func (l *EvdevListener) removeDevice(path string) {
	l.mu.Lock()
	_, ok := l.devices[path]
	if !ok {
		l.mu.Unlock()
		return
	}
	delete(l.devices, path)
	wasActive := l.active
	nowActive := l.unionSatisfiesHotkeyLocked()
	l.active = nowActive
	count := len(l.devices)
	l.mu.Unlock()

	if wasActive && !nowActive {
		l.fireDeactivate()
	}
	l.fireDeviceCountChanged(count)
}

func (l *EvdevListener) reapMissing(seen map[string]struct{}) {
	l.mu.Lock()
	var stale []string
	for path := range l.devices {
		if _, ok := seen[path]; !ok {
			stale = append(stale, path)
		}
	}
	l.mu.Unlock()
	for _, path := range stale {
		l.removeDevice(path)
	}
}

// unionSatisfiesHotkeyLocked reports whether the union of all devices'
// pressed-key sets contains every configured hotkey code. Caller must
// hold l.mu.
func (l *EvdevListener) unionSatisfiesHotkeyLocked() bool {
	for code := range l.hotkeyCodes {
		found := false
		for _, d := range l.devices {
			if _, ok := d.pressed[code]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

var _ Listener = (*EvdevListener)(nil)

// startUdevMonitor subscribes to "input" subsystem uevents and pushes to
// wake on every add/remove, as a latency optimization over the scan
// ticker. Returns an error when udev/netlink is unavailable (e.g. no
// CAP_NET_ADMIN or a minimal container) — the ticker alone remains
// correct in that case.
func startUdevMonitor(wake chan<- struct{}) (*udev.Monitor, error) {
	u := udev.Udev{}
	mon := u.NewMonitorFromNetlink("udev")
	if mon == nil {
		return nil, fmt.Errorf("hotkey: udev netlink monitor unavailable")
	}
	if err := mon.FilterAddMatchSubsystem("input"); err != nil {
		return nil, fmt.Errorf("hotkey: udev filter: %w", err)
	}
	ch, _, err := mon.DeviceChan(context.Background())
	if err != nil {
		return nil, fmt.Errorf("hotkey: udev device channel: %w", err)
	}
	go func() {
		for range ch {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()
	return mon, nil
}
