// Package session holds per-connection state for a single client-server
// pairing: the declared sample rate, the accumulated audio buffer, and the
// hard 30-second cap on that buffer. It knows nothing about the websocket
// transport or the transcriber; both are wired in by the caller.
package session

import (
	"errors"
	"sync"
)

// MaxSamples is the hard cap on buffered samples: 30 s at 16 kHz mono.
// Exceeding it is a buffer-full condition, never a silent truncation.
const MaxSamples = 16000 * 30

// ErrBufferFull is returned by Append when adding samples would exceed
// MaxSamples. The session is left unmodified; the caller drops the frame
// and keeps the connection open.
var ErrBufferFull = errors.New("session: buffer full")

// ErrNotConfigured is returned by Append when called before Configure.
var ErrNotConfigured = errors.New("session: not configured")

// Session is the per-connection state owned by that connection's handler
// goroutine for the session's lifetime. Every method other than ID (whose
// value never changes) takes the internal mutex, so the methods are also
// safe to call from other goroutines.
type Session struct {
	mu sync.Mutex

	id         string
	configured bool
	sampleRate int
	language   string
	samples    []int16
}

// New returns an unconfigured session with the given opaque id.
func New(id string) *Session {
	return &Session{id: id}
}

// ID returns the session's opaque identifier, assigned at admission.
func (s *Session) ID() string { return s.id }

// Configure marks the session configured with the given sample rate and
// language. Repeated calls update SampleRate/Language and are idempotent
// after the first (§8 round-trip property).
func (s *Session) Configure(sampleRate int, language string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampleRate = sampleRate
	s.language = language
	s.configured = true
}

// Configured reports whether a config message has been applied.
func (s *Session) Configured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured
}

// SampleRate returns the configured sample rate, or 0 if unconfigured.
func (s *Session) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleRate
}

// Append adds little-endian 16-bit PCM samples (already decoded from a
// binary frame) to the buffer. It returns ErrNotConfigured if Configure
// has not been called, or ErrBufferFull if the cap would be exceeded; in
// either case the buffer is left unchanged and the frame is not partially
// appended.
func (s *Session) Append(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.configured {
		return ErrNotConfigured
	}
	if len(s.samples)+len(samples) > MaxSamples {
		return ErrBufferFull
	}
	s.samples = append(s.samples, samples...)
	return nil
}

// Drain returns the accumulated samples and clears the buffer, as done on
// "end". The session remains configured; only the buffer is reset.
func (s *Session) Drain() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.samples
	s.samples = nil
	return out
}

// Len reports the number of buffered samples.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}
