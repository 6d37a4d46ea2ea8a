package ptt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	startErr  error
	finishErr error
	text      string

	mu       sync.Mutex
	frames   [][]int16
	aborted  atomic.Bool
	finished atomic.Bool
}

func (f *fakeSession) Start(ctx context.Context) error { return f.startErr }

func (f *fakeSession) SendFrame(pcm []int16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, pcm)
	return nil
}

func (f *fakeSession) Finish(ctx context.Context) (string, error) {
	f.finished.Store(true)
	if f.finishErr != nil {
		return "", f.finishErr
	}
	return f.text, nil
}

func (f *fakeSession) Abort() { f.aborted.Store(true) }

type fakeBeeper struct{ calls atomic.Int32 }

func (b *fakeBeeper) Beep(freqHz float64, durationMS int) error {
	b.calls.Add(1)
	return nil
}

// blockingCapture feeds nothing and blocks until ctx is canceled, matching
// a real capture loop's behavior between StartRecording and StopRecording.
func blockingCapture(ctx context.Context, onFrame func([]int16) error) error {
	<-ctx.Done()
	return nil
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.State() == want
	}, time.Second, time.Millisecond)
}

func TestControllerHappyPathCycle(t *testing.T) {
	sess := &fakeSession{text: "hello"}
	beeper := &fakeBeeper{}
	c := New(func() Session { return sess }, beeper, 30*time.Second, 2*time.Second, nil)

	var transcript string
	done := make(chan struct{})
	c.OnTranscript = func(text string) {
		transcript = text
		close(done)
	}

	require.Equal(t, StateIdle, c.State())
	c.StartRecording(blockingCapture)
	waitForState(t, c, StateRecording)

	c.StopRecording(context.Background())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transcript")
	}
	require.Equal(t, "hello", transcript)
	require.Equal(t, StateIdle, c.State())
	require.Eventually(t, func() bool {
		return beeper.calls.Load() == 2 // start click + stop click
	}, time.Second, time.Millisecond)
}

func TestStartRecordingIgnoredWhenNotIdle(t *testing.T) {
	sess := &fakeSession{}
	c := New(func() Session { return sess }, nil, 30*time.Second, 2*time.Second, nil)

	c.StartRecording(blockingCapture)
	waitForState(t, c, StateRecording)

	// A second StartRecording while already recording must be a no-op:
	// newSession must not be invoked again.
	calls := 0
	c.newSession = func() Session { calls++; return sess }
	c.StartRecording(blockingCapture)
	require.Equal(t, 0, calls)

	c.StopRecording(context.Background())
}

func TestSessionStartFailureRevertsToIdle(t *testing.T) {
	sess := &fakeSession{startErr: errors.New("connect refused")}
	c := New(func() Session { return sess }, nil, 30*time.Second, 2*time.Second, nil)

	var gotErr error
	done := make(chan struct{})
	c.OnError = func(err error) {
		gotErr = err
		close(done)
	}

	c.StartRecording(blockingCapture)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error")
	}
	require.Error(t, gotErr)
	require.Equal(t, StateIdle, c.State())
	require.True(t, sess.aborted.Load())
}

func TestAutoSubmitFiresExactlyOnceAtDurationLimit(t *testing.T) {
	sess := &fakeSession{text: "auto"}
	c := New(func() Session { return sess }, nil, 20*time.Millisecond, 2*time.Second, nil)

	var transcriptCount atomic.Int32
	done := make(chan struct{}, 1)
	c.OnTranscript = func(text string) {
		transcriptCount.Add(1)
		select {
		case done <- struct{}{}:
		default:
		}
	}

	c.StartRecording(blockingCapture)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for auto-submit")
	}
	require.Equal(t, int32(1), transcriptCount.Load())
	waitForState(t, c, StateIdle)

	// A genuine release arriving after the auto-submit already completed
	// must be silently consumed, never firing a second transcript.
	c.StopRecording(context.Background())
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), transcriptCount.Load())
}

func TestFinishTimeoutForcesIdleViaWatchdog(t *testing.T) {
	sess := &fakeSession{}
	// finishErr is unset, but Finish blocks past the processing timeout
	// by means of a context-aware fake below.
	blockingSess := &blockingFinishSession{fakeSession: sess}
	c := New(func() Session { return blockingSess }, nil, 30*time.Second, 20*time.Millisecond, nil)

	var gotErr error
	done := make(chan struct{})
	c.OnError = func(err error) {
		gotErr = err
		close(done)
	}

	c.StartRecording(blockingCapture)
	waitForState(t, c, StateRecording)
	c.StopRecording(context.Background())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for watchdog to force idle")
	}
	require.Error(t, gotErr)
	require.Equal(t, StateIdle, c.State())
}

type blockingFinishSession struct {
	*fakeSession
}

func (b *blockingFinishSession) Finish(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// slowStartSession blocks in Start until release is closed, standing in
// for a real dial that takes a while (the scenario this case is guarding
// against: a second device's release event arriving mid-dial).
type slowStartSession struct {
	*fakeSession
	release chan struct{}
}

func (s *slowStartSession) Start(ctx context.Context) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.fakeSession.startErr
}

// TestStopRecordingAwaitsInFlightStart exercises §5's wait-then-stop
// ordering guarantee: a deactivate arriving on one device's goroutine
// while another device's activate is still blocked inside
// StartRecording -> Session.Start must block until that start finishes,
// rather than racing cancel()/Finish() against the still-running Start
// (§8 scenario 6's multi-keyboard KVM case).
func TestStopRecordingAwaitsInFlightStart(t *testing.T) {
	release := make(chan struct{})
	sess := &slowStartSession{fakeSession: &fakeSession{text: "hi"}, release: release}
	c := New(func() Session { return sess }, nil, 30*time.Second, 2*time.Second, nil)

	var transcriptCount atomic.Int32
	var errCount atomic.Int32
	done := make(chan struct{})
	c.OnTranscript = func(text string) {
		transcriptCount.Add(1)
		close(done)
	}
	c.OnError = func(err error) {
		errCount.Add(1)
		close(done)
	}

	// Simulate device A's read-goroutine: StartRecording blocks inside
	// sess.Start (held open by `release`).
	startReturned := make(chan struct{})
	go func() {
		c.StartRecording(blockingCapture)
		close(startReturned)
	}()

	// Give StartRecording a moment to flip state to RECORDING and enter
	// sess.Start before device B's release fires.
	waitForState(t, c, StateRecording)

	// Simulate device B's read-goroutine: a release event fires while
	// device A's activate is still mid-dial.
	stopReturned := make(chan struct{})
	go func() {
		c.StopRecording(context.Background())
		close(stopReturned)
	}()

	// StopRecording must not have raced ahead of the in-flight Start: it
	// should still be blocked, and StartRecording should not have
	// returned yet either, until release unblocks the dial.
	select {
	case <-stopReturned:
		t.Fatal("StopRecording returned before the in-flight StartRecording finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-startReturned:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for StartRecording to return")
	}
	select {
	case <-stopReturned:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for StopRecording to return")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a terminal callback")
	}

	// Exactly one outcome, never both: the session must be stopped
	// cleanly exactly once, not torn down mid-Start and then finished
	// again.
	require.Equal(t, int32(1), transcriptCount.Load()+errCount.Load())
	waitForState(t, c, StateIdle)
}
