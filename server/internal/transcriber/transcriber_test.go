package transcriber

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	text       string
	confidence float64
	lastPCM    []float32
	err        error
}

func (f *fakeEngine) Infer(_ context.Context, pcm []float32, _ int) (string, float64, error) {
	f.lastPCM = pcm
	if f.err != nil {
		return "", 0, f.err
	}
	return f.text, f.confidence, nil
}

func TestTranscribeEmptyIsSilence(t *testing.T) {
	fe := &fakeEngine{text: "should not be seen", confidence: 1.0}
	tr := New(fe)

	text, confidence, err := tr.Transcribe(context.Background(), nil, 16000, 1)
	require.NoError(t, err)
	require.Equal(t, "", text)
	require.Equal(t, 0.0, confidence)
	require.Nil(t, fe.lastPCM)
}

func TestTranscribeHappyPath(t *testing.T) {
	fe := &fakeEngine{text: "hello world", confidence: 1.0}
	tr := New(fe)

	samples := make([]int16, 16000)
	text, confidence, err := tr.Transcribe(context.Background(), samples, 16000, 1)
	require.NoError(t, err)
	require.Equal(t, "hello world", text)
	require.Equal(t, 1.0, confidence)
	require.Len(t, fe.lastPCM, 16000)
}

func TestTranscribeRejectsTooLong(t *testing.T) {
	fe := &fakeEngine{}
	tr := New(fe)

	samples := make([]int16, 16000*31)
	_, _, err := tr.Transcribe(context.Background(), samples, 16000, 1)
	require.ErrorIs(t, err, ErrAudioTooLong)
	require.Nil(t, fe.lastPCM)
}

func TestTranscribeCollapsesStereoToMono(t *testing.T) {
	fe := &fakeEngine{text: "ok", confidence: 1.0}
	tr := New(fe)

	// Two frames, two channels: (L,R) pairs of (32767, -32767) -> average 0.
	samples := []int16{32767, -32767, 100, 100}
	_, _, err := tr.Transcribe(context.Background(), samples, 16000, 2)
	require.NoError(t, err)
	require.Len(t, fe.lastPCM, 2)
	require.InDelta(t, 0.0, fe.lastPCM[0], 1e-4)
	require.InDelta(t, float32(100)/32767.0, fe.lastPCM[1], 1e-4)
}

func TestTranscribeWrapsEngineError(t *testing.T) {
	fe := &fakeEngine{err: errors.New("model crashed")}
	tr := New(fe)

	_, _, err := tr.Transcribe(context.Background(), make([]int16, 100), 16000, 1)
	require.Error(t, err)
}
