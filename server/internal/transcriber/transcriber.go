// Package transcriber is a thin synchronous façade over the ONNX inference
// runtime. It owns exactly the concerns the session manager should not have
// to: int16->float32 normalization, multichannel-to-mono collapsing, and
// the 30-second duration ceiling as a parallel safeguard to the session
// buffer cap. The model itself — and its GPU initialization — is an
// external collaborator reached through the Engine interface.
package transcriber

import (
	"context"
	"errors"
	"fmt"
)

// MaxDurationSeconds is the hard ceiling on audio handed to the model,
// mirroring the session buffer cap in package session.
const MaxDurationSeconds = 30

// ErrAudioTooLong is returned when the sample count implies more than
// MaxDurationSeconds of audio at the given sample rate.
var ErrAudioTooLong = errors.New("transcriber: audio exceeds 30s ceiling")

// Engine is the inference backend contract. A real implementation wraps
// github.com/yalue/onnxruntime_go around a loaded Parakeet-family model; a
// stub implementation lets tests substitute a fixed return value, matching
// the test-double pattern used throughout the reference codebase for
// hardware-backed collaborators.
type Engine interface {
	// Infer runs inference over mono float32 PCM at sampleRate and returns
	// the recognized text. confidence is currently always 1.0 (see the
	// design notes on the open confidence question) but is returned by the
	// Engine so a future model can report a real score without changing
	// this interface.
	Infer(ctx context.Context, pcm []float32, sampleRate int) (text string, confidence float64, err error)
}

// Transcriber validates and normalizes audio before handing it to an
// Engine. It is safe for concurrent use only insofar as the Engine is;
// callers dispatch calls to a worker pool (see package manager) so this
// never runs on the connection-handling goroutine.
type Transcriber struct {
	engine Engine
}

// New wraps engine in a validating façade.
func New(engine Engine) *Transcriber {
	return &Transcriber{engine: engine}
}

// Transcribe normalizes samples (int16 PCM, possibly interleaved across
// channels) to mono float32 and runs inference. An empty samples slice is
// not an error: it returns empty text and zero confidence, matching the
// "silence round-trip" scenario.
func (t *Transcriber) Transcribe(ctx context.Context, samples []int16, sampleRate, channels int) (text string, confidence float64, err error) {
	if len(samples) == 0 {
		return "", 0, nil
	}
	if channels < 1 {
		channels = 1
	}

	frames := len(samples) / channels
	if sampleRate > 0 && frames > sampleRate*MaxDurationSeconds {
		return "", 0, ErrAudioTooLong
	}

	pcm := normalizeToMono(samples, channels)

	text, confidence, err = t.engine.Infer(ctx, pcm, sampleRate)
	if err != nil {
		return "", 0, fmt.Errorf("transcriber: infer: %w", err)
	}
	return text, confidence, nil
}

// normalizeToMono converts interleaved int16 PCM to mono float32 in
// [-1, 1], averaging channels where channels > 1.
func normalizeToMono(samples []int16, channels int) []float32 {
	frames := len(samples) / channels
	out := make([]float32, frames)
	const scale = 1.0 / 32767.0
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(samples[i*channels+c]) * scale
		}
		out[i] = sum / float32(channels)
	}
	return out
}
