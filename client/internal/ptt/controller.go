// Package ptt implements the push-to-talk state machine: IDLE ->
// RECORDING -> PROCESSING -> IDLE, with auto-submit at the configured
// duration limit and a watchdog that recovers from a stuck transcription.
package ptt

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is one of the three push-to-talk states.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	default:
		return "idle"
	}
}

// Session is the narrow capability the controller needs from the
// streaming transport: start a new utterance, feed it captured frames,
// and finalize it for a transcript.
type Session interface {
	Start(ctx context.Context) error
	SendFrame(pcm []int16) error
	Finish(ctx context.Context) (text string, err error)
	Abort()
}

// Beeper plays the short audio feedback tones. Matches audio.Engine's
// Beep method so a fake can be substituted in tests.
type Beeper interface {
	Beep(freqHz float64, durationMS int) error
}

const (
	startToneHz  = 880
	stopToneHz   = 440
	toneDuration = 80 // ms
)

// Controller drives the state machine. A single Controller instance is
// meant to live for the whole process lifetime; StartRecording and
// StopRecording are typically called from hotkey callbacks and must be
// safe under concurrent invocation.
type Controller struct {
	newSession func() Session
	beeper     Beeper
	log        *slog.Logger

	maxDuration        time.Duration
	processingTimeout  time.Duration

	mu        sync.Mutex
	state     State
	session   Session
	cancel    context.CancelFunc
	recordWG  sync.WaitGroup
	startedAt time.Time

	// startDone is the wait-then-stop signal named by SPEC_FULL.md §5:
	// non-nil for the duration of one StartRecording call (from the
	// moment state flips to RECORDING until session setup — sess.Start,
	// plus registering the auto-submit/capture goroutines — has fully
	// completed or failed). A StopRecording racing in from another
	// device's hotkey goroutine blocks on this channel before touching
	// c.session/c.cancel, so capture-close can never run before
	// capture-open finishes, however many physical keyboards are firing
	// activate/deactivate concurrently (§8 scenario 6).
	startDone chan struct{}

	// OnTranscript is invoked with the final text once a recording
	// completes successfully. OnError is invoked on any failure. Both
	// run on the goroutine that finished the recording, never
	// concurrently with each other for the same recording.
	OnTranscript func(text string)
	OnError      func(err error)
	OnStateChange func(State)
}

// New builds a Controller. newSession is called once per recording to
// obtain a fresh streaming session (so a prior session's half-sent
// frames can never bleed into the next recording).
func New(newSession func() Session, beeper Beeper, maxDuration, processingTimeout time.Duration, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	if maxDuration <= 0 {
		maxDuration = 30 * time.Second
	}
	if processingTimeout <= 0 {
		processingTimeout = 60 * time.Second
	}
	return &Controller{
		newSession:        newSession,
		beeper:            beeper,
		log:               log,
		maxDuration:       maxDuration,
		processingTimeout: processingTimeout,
		state:             StateIdle,
	}
}

// State returns the current state. Safe for concurrent use.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.state = s
	if c.OnStateChange != nil {
		cb := c.OnStateChange
		go func() { defer recoverAndLog(c.log); cb(s) }()
	}
}

// StartRecording transitions IDLE -> RECORDING. It is a no-op if a
// recording or transcription is already in progress, matching the
// "hotkey presses during PROCESSING are ignored" rule.
func (c *Controller) StartRecording(capture func(ctx context.Context, onFrame func([]int16) error) error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	sess := c.newSession()
	ctx, cancel := context.WithCancel(context.Background())
	startDone := make(chan struct{})
	c.session = sess
	c.cancel = cancel
	c.startedAt = time.Now()
	c.startDone = startDone
	c.setState(StateRecording)
	c.mu.Unlock()

	c.playTone(startToneHz)

	// sess.Start dials the server and can block for several seconds
	// (up to the ready-timeout); a concurrent StopRecording (e.g. from a
	// second physical keyboard releasing the hotkey union) must await
	// startDone's close below before it may act, rather than racing this
	// call with cancel()/sess.Finish() on the same session.
	if err := sess.Start(ctx); err != nil {
		c.log.Error("ptt: session start failed", "err", err)
		c.finishWithError(err)
		c.closeStartDone(startDone)
		return
	}

	c.recordWG.Add(1)
	go func() {
		defer c.recordWG.Done()
		c.runAutoSubmit(ctx)
	}()

	c.recordWG.Add(1)
	go func() {
		defer c.recordWG.Done()
		err := capture(ctx, func(pcm []int16) error {
			return sess.SendFrame(pcm)
		})
		if err != nil && ctx.Err() == nil {
			c.log.Error("ptt: capture failed", "err", err)
		}
	}()

	// Setup (including the two recordWG members above) is complete: a
	// waiting StopRecording may now proceed.
	c.closeStartDone(startDone)
}

// closeStartDone closes done and clears c.startDone if it is still the
// current one, per the wait-then-stop handshake described on the
// startDone field. Safe to call even if a concurrent StopRecording is
// blocked reading from done.
func (c *Controller) closeStartDone(done chan struct{}) {
	c.mu.Lock()
	if c.startDone == done {
		c.startDone = nil
	}
	c.mu.Unlock()
	close(done)
}

// runAutoSubmit fires StopRecording once maxDuration elapses, unless the
// recording already ended for another reason.
func (c *Controller) runAutoSubmit(ctx context.Context) {
	timer := time.NewTimer(c.maxDuration)
	defer timer.Stop()
	select {
	case <-timer.C:
		c.log.Debug("ptt: auto-submit at duration limit")
		// Run on a new goroutine: this goroutine is one of the two
		// recordWG members StopRecording waits on, so calling it
		// in-line here would deadlock waiting on itself.
		go c.StopRecording(context.Background())
	case <-ctx.Done():
	}
}

// StopRecording transitions RECORDING -> PROCESSING, waits for the
// in-flight transcription (bounded by processingTimeout), then returns
// to IDLE. It is a no-op outside the RECORDING state, and it always
// waits for a start that is still in flight before acting, so a
// StopRecording called immediately after StartRecording can never race
// ahead of session setup.
func (c *Controller) StopRecording(parent context.Context) {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	startDone := c.startDone
	c.mu.Unlock()

	// Wait-then-stop: if a StartRecording that put us into RECORDING is
	// still mid-setup (sess.Start still dialing), block here until it
	// finishes or fails before reading c.session/c.cancel below.
	if startDone != nil {
		<-startDone
	}

	c.mu.Lock()
	if c.state != StateRecording {
		// StartRecording's setup failed while we were waiting and already
		// reverted to IDLE via finishWithError; nothing left to stop.
		c.mu.Unlock()
		return
	}
	sess := c.session
	cancel := c.cancel
	c.setState(StateProcessing)
	c.mu.Unlock()

	c.playTone(stopToneHz)

	// Stop feeding capture frames; the session itself is finalized below.
	cancel()
	c.recordWG.Wait()

	watchdogCtx, watchdogCancel := context.WithTimeout(parent, c.processingTimeout)
	defer watchdogCancel()

	text, err := sess.Finish(watchdogCtx)
	if err != nil {
		c.log.Error("ptt: transcription failed", "err", err)
		c.finishWithError(err)
		return
	}

	c.mu.Lock()
	c.session = nil
	c.cancel = nil
	c.setState(StateIdle)
	c.mu.Unlock()

	if c.OnTranscript != nil {
		c.OnTranscript(text)
	}
}

// finishWithError aborts the session and returns to IDLE, reporting the
// failure via OnError rather than OnTranscript.
func (c *Controller) finishWithError(err error) {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.cancel = nil
	c.setState(StateIdle)
	c.mu.Unlock()

	if sess != nil {
		sess.Abort()
	}
	if c.OnError != nil {
		c.OnError(err)
	}
}

func (c *Controller) playTone(freqHz float64) {
	if c.beeper == nil {
		return
	}
	go func() {
		defer recoverAndLog(c.log)
		if err := c.beeper.Beep(freqHz, toneDuration); err != nil {
			c.log.Debug("ptt: feedback tone failed", "err", err)
		}
	}()
}

func recoverAndLog(log *slog.Logger) {
	if r := recover(); r != nil {
		log.Error("ptt: recovered panic", "panic", r)
	}
}
