// Command stt-client captures microphone audio while a hotkey is held,
// streams it to a transcription server, and delivers the returned text
// to stdout, the focused window, or the clipboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"sttmesh/client/internal/audio"
	"sttmesh/client/internal/config"
	"sttmesh/client/internal/daemon"
	"sttmesh/client/internal/hotkey"
	"sttmesh/client/internal/logging"
	"sttmesh/client/internal/output"
	"sttmesh/client/internal/ptt"
	"sttmesh/client/internal/tray"
	"sttmesh/client/internal/wsclient"
)

const processName = "stt-client"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	fs := flag.NewFlagSet(processName, flag.ContinueOnError)
	serverURL := fs.String("server", cfg.Client.ServerURL, "transcription server websocket URL")
	outputMode := fs.String("output", cfg.Client.Output, "output sink: stdout, type, clipboard")
	pttMode := fs.Bool("ptt", false, "run in continuous push-to-talk mode")
	daemonMode := fs.Bool("daemon", false, "daemon mode: require a display and retry the server connection indefinitely")
	trayMode := fs.Bool("tray", false, "show a system tray indicator (requires --ptt)")
	testMode := fs.Bool("test", false, "run a one-shot silence round trip against the server and exit")
	verbose := fs.Bool("v", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *trayMode && !*pttMode {
		fmt.Fprintln(os.Stderr, "--tray requires --ptt")
		return 1
	}
	if *daemonMode && !daemon.HasDisplay(os.Getenv) {
		// No desktop session to serve; exiting quietly lets a login-time
		// autostart entry fail without surfacing an error to the user.
		return 0
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	log, err := logging.New(cfg.Log.Dir, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exitCode := 0
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", "signal", sig.String())
		if sig == os.Interrupt {
			exitCode = 130
		}
		cancel()
	}()

	app := &clientApp{
		cfg:        cfg,
		log:        log,
		serverURL:  *serverURL,
		outputMode: *outputMode,
		cancel:     cancel,
	}

	switch {
	case *testMode:
		return app.runSelfTest(ctx)
	case *pttMode:
		app.runPTT(ctx, *daemonMode, *trayMode)
		return exitCode
	default:
		return app.runOneShot(ctx)
	}
}

// clientApp wires the leaf components together. It deliberately holds no
// back-pointers into the pieces it owns (§9 "Cyclic owner/callback
// references"): callbacks are handed to the controller as plain function
// values when it is wired up.
type clientApp struct {
	cfg        config.Config
	log        *slog.Logger
	serverURL  string
	outputMode string
	cancel     context.CancelFunc
}

func (a *clientApp) durations() (connectTimeout, readyTimeout, finalTimeout time.Duration) {
	connectTimeout = parseDurationOr(a.cfg.Client.ConnectTimeout, 10*time.Second)
	readyTimeout = parseDurationOr(a.cfg.Client.ReadyTimeout, 10*time.Second)
	finalTimeout = parseDurationOr(a.cfg.Client.FinalTimeout, 30*time.Second)
	return
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func (a *clientApp) newSession() ptt.Session {
	_, readyTimeout, finalTimeout := a.durations()
	return wsclient.New(wsclient.DialWebsocket, a.serverURL, a.cfg.Audio.SampleRate, "en", readyTimeout, finalTimeout)
}

// beeper gates the controller's audio feedback tones on the
// STT_PTT_CLICK_SOUND config flag (§6 "click-sound on" default):
// ptt.Controller.playTone is already a silent no-op when its Beeper is
// nil, so disabling the setting is just a matter of never handing the
// engine over as one.
func (a *clientApp) beeper(engine *audio.Engine) ptt.Beeper {
	if !a.cfg.PTT.ClickSound {
		return nil
	}
	return engine
}

// captureFn opens engine for the duration of one recording and feeds
// frames to onFrame until ctx is canceled, matching §4.4's "open the
// capture stream" / "close the capture stream" per-recording lifecycle.
// Capture runs on its own goroutine pushing into a bounded FrameQueue so a
// slow network send never blocks (or loses) the next microphone frame;
// overflow instead drops the newest frame (§5 "Bounded resources").
func captureFn(engine *audio.Engine, queueDepth int, log *slog.Logger) func(ctx context.Context, onFrame func([]int16) error) error {
	return func(ctx context.Context, onFrame func([]int16) error) error {
		if err := engine.Start(); err != nil {
			return fmt.Errorf("client: start capture: %w", err)
		}
		defer engine.Stop()

		queue := audio.NewFrameQueue(queueDepth, log)
		captureDone := make(chan struct{})
		go func() {
			defer close(captureDone)
			defer queue.Close()
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				frame, err := engine.CaptureFrame()
				if err != nil {
					return
				}
				queue.Push(frame)
			}
		}()

		for frame := range queue.Frames() {
			if err := onFrame(frame); err != nil {
				<-captureDone
				return err
			}
		}
		<-captureDone
		return nil
	}
}

// runOneShot connects, records until Enter is pressed on stdin,
// transcribes once, dispatches the result, and exits (§4.6 "One-shot").
func (a *clientApp) runOneShot(ctx context.Context) int {
	connectTimeout, _, _ := a.durations()
	retry := daemon.RetryPolicy{MaxAttempts: a.cfg.Client.ReconnectAttempts, InitialDelay: parseDurationOr(a.cfg.Client.ReconnectDelay, time.Second)}

	engine := audio.NewEngine(a.cfg.Audio.ChunkMS, a.log)
	controller := ptt.New(a.newSession, a.beeper(engine), time.Duration(a.cfg.PTT.MaxDurationSeconds)*time.Second,
		time.Duration(a.cfg.PTT.ProcessingTimeoutSecs)*time.Second, a.log)

	done := make(chan struct{})
	controller.OnTranscript = func(text string) {
		output.Dispatch(a.outputMode, text, a.log)
		close(done)
	}
	controller.OnError = func(err error) {
		a.log.Error("transcription failed", "err", err)
		close(done)
	}

	err := retry.Run(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return probeDial(attemptCtx, a.serverURL)
	}, nil)
	if err != nil {
		a.log.Error("connect failed", "err", err)
		return 1
	}

	fmt.Println("recording... press Enter to stop")
	controller.StartRecording(captureFn(engine, a.cfg.Client.AudioQueueDepth, a.log))

	stdinDone := make(chan struct{})
	go func() {
		var buf [1]byte
		os.Stdin.Read(buf[:])
		close(stdinDone)
	}()

	select {
	case <-stdinDone:
	case <-ctx.Done():
	}
	controller.StopRecording(ctx)

	select {
	case <-done:
	case <-ctx.Done():
	}
	return 0
}

// runPTT drives the continuous push-to-talk daemon: takeover of any
// earlier instance, hotkey-driven recording cycles, tray synchronization,
// and (in --daemon mode) indefinite reconnection.
func (a *clientApp) runPTT(ctx context.Context, daemonFlag, trayFlag bool) {
	daemon.Takeover(ctx, processName, int32(os.Getpid()), int32(os.Getppid()), a.log)

	engine := audio.NewEngine(a.cfg.Audio.ChunkMS, a.log)
	controller := ptt.New(a.newSession, a.beeper(engine), time.Duration(a.cfg.PTT.MaxDurationSeconds)*time.Second,
		time.Duration(a.cfg.PTT.ProcessingTimeoutSecs)*time.Second, a.log)

	var trayIndicator *tray.Tray
	if trayFlag {
		trayIndicator = tray.New(a.cancel)
		go trayIndicator.Run()
	}
	var trayMu sync.Mutex
	trayState := tray.StateDisconnected
	setTray := func(s tray.State) {
		trayMu.Lock()
		trayState = s
		trayMu.Unlock()
		if trayIndicator != nil {
			trayIndicator.SetState(s)
		}
	}
	setTray(tray.StateDisconnected)

	listener, degraded := a.buildListener()
	if degraded {
		setTray(tray.StateDegraded)
	}

	controller.OnTranscript = func(text string) {
		output.Dispatch(a.outputMode, text, a.log)
		setTray(tray.StateReady)
	}
	controller.OnError = func(err error) {
		a.log.Error("transcription failed", "err", err)
		setTray(tray.StateReady)
	}
	controller.OnStateChange = func(s ptt.State) {
		if s == ptt.StateRecording {
			setTray(tray.StateRecording)
		}
	}

	listener.SetOnActivate(func() { controller.StartRecording(captureFn(engine, a.cfg.Client.AudioQueueDepth, a.log)) })
	listener.SetOnDeactivate(func() { go controller.StopRecording(context.Background()) })
	listener.SetOnDeviceCountChanged(func(count int) {
		trayMu.Lock()
		cur := trayState
		trayMu.Unlock()
		if count == 0 && cur == tray.StateReady {
			setTray(tray.StateDegraded)
		} else if count > 0 && cur == tray.StateDegraded {
			setTray(tray.StateReady)
		}
	})

	connectTimeout, _, _ := a.durations()
	retry := daemon.RetryPolicy{InitialDelay: parseDurationOr(a.cfg.Client.ReconnectDelay, time.Second)}
	if daemonFlag {
		retry.FixedDelay = parseDurationOr(a.cfg.Client.DaemonDelay, 5*time.Second)
	} else {
		retry.MaxAttempts = a.cfg.Client.ReconnectAttempts
	}
	go func() {
		err := retry.Run(ctx, func(cctx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(cctx, connectTimeout)
			defer cancel()
			return probeDial(attemptCtx, a.serverURL)
		}, nil)
		if err == nil {
			setTray(tray.StateReady)
		} else if ctx.Err() == nil {
			a.log.Error("connect exhausted", "err", err)
		}
	}()

	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		if err := listener.Start(ctx); err != nil {
			a.log.Error("hotkey listener stopped", "err", err)
		}
	}()

	<-ctx.Done()
	listener.Stop()
	<-listenerDone
	if trayIndicator != nil {
		trayIndicator.Stop()
		<-trayIndicator.Done()
	}
}

// buildListener prefers the global evdev listener; a key-name resolution
// failure there is fatal only to evdev (§7 "unknown key name | evdev
// startup | fatal to PTT mode"), so it falls back to the terminal
// listener rather than aborting the process, and reports degraded=true
// so the tray reflects the downgrade.
func (a *clientApp) buildListener() (hotkey.Listener, bool) {
	scanInterval := time.Duration(a.cfg.PTT.DeviceScanIntervalSecs) * time.Second
	l, err := hotkey.NewEvdevListener(a.cfg.PTT.Hotkey, scanInterval, a.log)
	if err == nil {
		return l, false
	}
	a.log.Warn("evdev hotkey listener unavailable, falling back to terminal", "err", err)

	key := byte(' ')
	if len(a.cfg.PTT.TerminalHotkey) > 0 {
		key = a.cfg.PTT.TerminalHotkey[0]
	}
	return hotkey.NewTerminalListener(key, 0, 0, a.log), true
}

// runSelfTest exercises the silence round trip (§8 scenario 1) against a
// live server and reports success/failure without touching the hotkey or
// audio subsystems.
func (a *clientApp) runSelfTest(ctx context.Context) int {
	_, readyTimeout, finalTimeout := a.durations()
	sess := wsclient.New(wsclient.DialWebsocket, a.serverURL, a.cfg.Audio.SampleRate, "en", readyTimeout, finalTimeout)
	if err := sess.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "test: connect failed: %v\n", err)
		return 1
	}
	text, err := sess.Finish(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "test: round trip failed: %v\n", err)
		return 1
	}
	fmt.Printf("test: ok, server returned %q for silence\n", text)
	return 0
}

// probeDial performs a minimal connect to confirm server reachability,
// independent of any recording session, to drive the tray's
// disconnected/ready transition per §4.6 "Tray synchronization".
func probeDial(ctx context.Context, serverURL string) error {
	conn, err := wsclient.DialWebsocket(ctx, serverURL)
	if err != nil {
		return err
	}
	return conn.Close()
}
