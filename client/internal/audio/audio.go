// Package audio wraps PortAudio capture/playback for the push-to-talk
// pipeline: mono 16kHz capture frames feed the streaming session, and a
// small tone generator gives the user audible start/stop feedback.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

const (
	// SampleRate matches the transcription engine's expected input rate.
	SampleRate = 16000
	channels   = 1
)

// paStream abstracts a PortAudio stream for testing, mirroring the
// capture/playback-stream split used elsewhere in this codebase.
type paStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
	Write() error
}

// Engine owns the capture and playback streams. Capture is pull-based
// (CaptureFrame blocks reading one frame at a time); playback is used
// only for short feedback tones, never for decoded speech.
type Engine struct {
	mu sync.Mutex

	inputDeviceID  int
	outputDeviceID int

	captureStream  paStream
	captureBuf     []int16
	playbackStream paStream
	playbackBuf    []int16
	frameSamples   int

	running atomic.Bool
	log     *slog.Logger
}

// NewEngine returns an Engine with default (system-default) devices.
// chunkMS controls the capture frame size (e.g. 100ms -> 1600 samples).
func NewEngine(chunkMS int, log *slog.Logger) *Engine {
	if chunkMS <= 0 {
		chunkMS = 100
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		inputDeviceID:  -1,
		outputDeviceID: -1,
		frameSamples:   SampleRate * chunkMS / 1000,
		log:            log,
	}
}

// SetInputDevice sets the capture device by PortAudio index.
func (e *Engine) SetInputDevice(id int) {
	e.mu.Lock()
	e.inputDeviceID = id
	e.mu.Unlock()
}

// SetOutputDevice sets the playback device by PortAudio index.
func (e *Engine) SetOutputDevice(id int) {
	e.mu.Lock()
	e.outputDeviceID = id
	e.mu.Unlock()
}

// Start opens the capture and playback streams. Callers needing only
// capture (e.g. headless daemon with output muted) may still call this;
// the playback stream is only written to by Beep.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running.Load() {
		return nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("audio: list devices: %w", err)
	}

	inputDev, err := resolveDevice(devices, e.inputDeviceID, portaudio.DefaultInputDevice)
	if err != nil {
		return fmt.Errorf("audio: resolve input device: %w", err)
	}
	outputDev, err := resolveDevice(devices, e.outputDeviceID, portaudio.DefaultOutputDevice)
	if err != nil {
		return fmt.Errorf("audio: resolve output device: %w", err)
	}

	captureBuf := make([]int16, e.frameSamples)
	captureParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inputDev,
			Channels: channels,
			Latency:  inputDev.DefaultLowInputLatency,
		},
		SampleRate:      SampleRate,
		FramesPerBuffer: e.frameSamples,
	}
	captureStream, err := portaudio.OpenStream(captureParams, captureBuf)
	if err != nil {
		return fmt.Errorf("audio: open capture stream: %w", err)
	}

	playbackBuf := make([]int16, e.frameSamples)
	playbackParams := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   outputDev,
			Channels: channels,
			Latency:  outputDev.DefaultLowOutputLatency,
		},
		SampleRate:      SampleRate,
		FramesPerBuffer: e.frameSamples,
	}
	playbackStream, err := portaudio.OpenStream(playbackParams, playbackBuf)
	if err != nil {
		captureStream.Close()
		return fmt.Errorf("audio: open playback stream: %w", err)
	}

	if err := captureStream.Start(); err != nil {
		captureStream.Close()
		playbackStream.Close()
		return fmt.Errorf("audio: start capture: %w", err)
	}
	if err := playbackStream.Start(); err != nil {
		captureStream.Stop()
		captureStream.Close()
		playbackStream.Close()
		return fmt.Errorf("audio: start playback: %w", err)
	}

	e.captureStream = captureStream
	e.captureBuf = captureBuf
	e.playbackStream = playbackStream
	e.playbackBuf = playbackBuf
	e.running.Store(true)
	e.log.Debug("audio engine started", "input", inputDev.Name, "output", outputDev.Name)
	return nil
}

func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}

// Stop closes both streams. Safe to call more than once.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.captureStream != nil {
		e.captureStream.Stop()
		e.captureStream.Close()
		e.captureStream = nil
	}
	if e.playbackStream != nil {
		e.playbackStream.Stop()
		e.playbackStream.Close()
		e.playbackStream = nil
	}
}

// CaptureFrame blocks until one frame (frameSamples samples) of mono
// PCM is available, and returns a copy of it.
func (e *Engine) CaptureFrame() ([]int16, error) {
	e.mu.Lock()
	stream := e.captureStream
	src := e.captureBuf
	e.mu.Unlock()
	if stream == nil {
		return nil, fmt.Errorf("audio: capture stream not started")
	}
	if err := stream.Read(); err != nil {
		return nil, fmt.Errorf("audio: capture read: %w", err)
	}
	out := make([]int16, len(src))
	copy(out, src)
	return out, nil
}

// Beep plays a short tone with an exponential-decay envelope and a
// brief cosine fade in/out, used for the recording-start ("click") and
// recording-stop ("unclick") feedback sounds. durationMS is the tone
// length excluding the fixed 20ms lead/trail padding.
func (e *Engine) Beep(freqHz float64, durationMS int) error {
	e.mu.Lock()
	stream := e.playbackStream
	dst := e.playbackBuf
	e.mu.Unlock()

	pcm := generateTone(freqHz, durationMS)

	// No PortAudio playback stream available: fall back to shelling out
	// to paplay, writing raw s16le to its stdin, per §4.3's "if the audio
	// library lacks a usable output backend" note.
	if stream == nil {
		return playViaPaplay(pcm)
	}

	for off := 0; off < len(pcm); off += len(dst) {
		end := off + len(dst)
		if end > len(pcm) {
			end = len(pcm)
		}
		n := copy(dst, pcm[off:end])
		for i := n; i < len(dst); i++ {
			dst[i] = 0
		}
		if err := stream.Write(); err != nil {
			return fmt.Errorf("audio: playback write: %w", err)
		}
	}
	return nil
}

// generateTone renders an exponential-decay sine tone with a cosine
// fade-in/out, padded with 20ms of silence, matching §4.3's feedback-tone
// spec exactly regardless of which playback backend renders it.
func generateTone(freqHz float64, durationMS int) []int16 {
	const padMS = 20
	const fadeMS = 5
	toneSamples := SampleRate * durationMS / 1000
	padSamples := SampleRate * padMS / 1000
	fadeSamples := SampleRate * fadeMS / 1000
	total := toneSamples + 2*padSamples

	pcm := make([]int16, total)
	for i := 0; i < toneSamples; i++ {
		t := float64(i) / float64(SampleRate)
		envelope := math.Exp(-4.0 * t / (float64(durationMS) / 1000.0))
		sample := math.Sin(2*math.Pi*freqHz*t) * envelope

		if i < fadeSamples {
			sample *= 0.5 * (1 - math.Cos(math.Pi*float64(i)/float64(fadeSamples)))
		} else if i >= toneSamples-fadeSamples {
			rem := toneSamples - i
			sample *= 0.5 * (1 - math.Cos(math.Pi*float64(rem)/float64(fadeSamples)))
		}
		pcm[padSamples+i] = int16(sample * 0.3 * 32767)
	}
	return pcm
}

// playViaPaplay shells out to paplay, streaming raw signed 16-bit little-
// endian mono PCM at SampleRate on its stdin. Any failure (binary
// missing, process error) is returned to the caller, who per §4.3 only
// logs it at debug and never lets it affect the state machine.
func playViaPaplay(pcm []int16) error {
	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	cmd := exec.Command("paplay", "--raw", "--format=s16le", "--rate", fmt.Sprintf("%d", SampleRate), "--channels", "1")
	cmd.Stdin = bytes.NewReader(buf)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("audio: paplay fallback: %w", err)
	}
	return nil
}
