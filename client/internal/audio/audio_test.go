package audio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeStream is a paStream test double that hands back a fixed pattern
// on Read and records whatever is written, avoiding any real PortAudio
// device dependency in unit tests.
type fakeStream struct {
	buf     []int16
	writes  [][]int16
	readErr error
}

func (f *fakeStream) Start() error { return nil }
func (f *fakeStream) Stop() error  { return nil }
func (f *fakeStream) Close() error { return nil }
func (f *fakeStream) Read() error {
	if f.readErr != nil {
		return f.readErr
	}
	for i := range f.buf {
		f.buf[i] = int16(i)
	}
	return nil
}
func (f *fakeStream) Write() error {
	cp := make([]int16, len(f.buf))
	copy(cp, f.buf)
	f.writes = append(f.writes, cp)
	return nil
}

func TestCaptureFrameCopiesBuffer(t *testing.T) {
	buf := make([]int16, 4)
	fs := &fakeStream{buf: buf}
	e := &Engine{captureStream: fs, captureBuf: buf}
	e.running.Store(true)

	frame, err := e.CaptureFrame()
	require.NoError(t, err)
	require.Equal(t, []int16{0, 1, 2, 3}, frame)

	// Mutating the engine's internal buffer must not affect the frame
	// already returned to the caller.
	buf[0] = 99
	require.Equal(t, int16(0), frame[0])
}

func TestCaptureFrameNotStarted(t *testing.T) {
	e := &Engine{}
	_, err := e.CaptureFrame()
	require.Error(t, err)
}

func TestBeepWritesExpectedFrameCount(t *testing.T) {
	dst := make([]int16, 160) // 10ms @ 16kHz
	fs := &fakeStream{buf: dst}
	e := &Engine{playbackStream: fs, playbackBuf: dst}

	err := e.Beep(880, 80)
	require.NoError(t, err)
	require.NotEmpty(t, fs.writes)

	// Total samples written must equal tone+padding, rounded up to the
	// frame size.
	toneSamples := SampleRate * 80 / 1000
	padSamples := SampleRate * 20 / 1000
	want := toneSamples + 2*padSamples
	gotFrames := len(fs.writes)
	require.Equal(t, (want+len(dst)-1)/len(dst), gotFrames)
}
