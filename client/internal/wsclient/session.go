// Package wsclient drives one server-side transcription session over a
// websocket connection: connect, send config, stream PCM frames, send
// end, and wait for the single final (or error) reply. It implements
// ptt.Session.
package wsclient

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"sttmesh/client/internal/protocol"

	"github.com/gorilla/websocket"
)

// ErrAborted is returned by Finish when Abort was called before the
// server's final reply arrived.
var ErrAborted = errors.New("wsclient: session aborted")

// Conn is the subset of *websocket.Conn this package depends on, so
// tests can substitute an in-memory fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Dialer opens a new Conn to the configured server URL. Production code
// uses websocket.DefaultDialer.Dial; tests substitute an in-memory pair.
type Dialer func(ctx context.Context, url string) (Conn, error)

// Session is a single recording's streaming session: one per
// StartRecording call.
type Session struct {
	dial       Dialer
	serverURL  string
	sampleRate int
	language   string

	readyTimeout time.Duration
	finalTimeout time.Duration

	mu       sync.Mutex
	conn     Conn
	recvDone chan struct{}
	result   chan recvResult
	aborted  bool
}

type recvResult struct {
	text       string
	confidence float64
	err        error
}

// New builds a Session bound to one server connection attempt.
func New(dial Dialer, serverURL string, sampleRate int, language string, readyTimeout, finalTimeout time.Duration) *Session {
	return &Session{
		dial:         dial,
		serverURL:    serverURL,
		sampleRate:   sampleRate,
		language:     language,
		readyTimeout: readyTimeout,
		finalTimeout: finalTimeout,
		result:       make(chan recvResult, 1),
		recvDone:     make(chan struct{}),
	}
}

// Start connects, waits for the server's "ready" message, sends config,
// and launches the single receive goroutine that will eventually
// deliver the "final" or "error" reply consumed by Finish. There is
// deliberately only one reader of the connection for the session's
// whole life: a single receive path with typed dispatch, so a
// mid-recording server error and the end-of-utterance reply can never
// race each other onto two different goroutines.
func (s *Session) Start(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.readyTimeout)
	defer cancel()
	conn, err := s.dial(dialCtx, s.serverURL)
	if err != nil {
		return fmt.Errorf("wsclient: connect: %w", err)
	}

	var kind int
	var data []byte
	readDone := make(chan struct{})
	go func() {
		kind, data, err = conn.ReadMessage()
		close(readDone)
	}()
	select {
	case <-readDone:
	case <-time.After(s.readyTimeout):
		conn.Close()
		return fmt.Errorf("wsclient: timed out waiting for ready")
	}
	if err != nil {
		conn.Close()
		return fmt.Errorf("wsclient: waiting for ready: %w", err)
	}
	if kind != websocket.TextMessage {
		conn.Close()
		return fmt.Errorf("wsclient: expected ready, got binary frame")
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		conn.Close()
		return fmt.Errorf("wsclient: decode ready: %w", err)
	}
	if msg.Type != protocol.TypeReady {
		conn.Close()
		return fmt.Errorf("wsclient: expected ready, got %q", msg.Type)
	}

	if err := s.send(conn, protocol.Config(s.sampleRate, s.language)); err != nil {
		conn.Close()
		return fmt.Errorf("wsclient: send config: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.receiveLoop(conn)
	return nil
}

func (s *Session) receiveLoop(conn Conn) {
	defer close(s.recvDone)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			s.result <- recvResult{err: fmt.Errorf("wsclient: read: %w", err)}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			s.result <- recvResult{err: fmt.Errorf("wsclient: decode: %w", err)}
			return
		}
		switch msg.Type {
		case protocol.TypeFinal:
			s.result <- recvResult{text: msg.Text, confidence: msg.Confidence}
			return
		case protocol.TypeError:
			s.result <- recvResult{err: fmt.Errorf("wsclient: server error %s: %s", msg.Code, msg.Message)}
			return
		default:
			// Ignore anything else (e.g. a stray ready/config echo).
		}
	}
}

// SendFrame sends one PCM chunk as a binary frame.
func (s *Session) SendFrame(pcm []int16) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("wsclient: session not started")
	}
	return conn.WriteMessage(websocket.BinaryMessage, encodePCM(pcm))
}

// Finish sends "end" and blocks for the final transcript or a server
// error, bounded by finalTimeout (the caller additionally bounds this
// with its own processing-timeout watchdog).
func (s *Session) Finish(ctx context.Context) (string, error) {
	s.mu.Lock()
	conn := s.conn
	aborted := s.aborted
	s.mu.Unlock()
	if aborted {
		return "", ErrAborted
	}
	if conn == nil {
		return "", fmt.Errorf("wsclient: session not started")
	}

	if err := s.send(conn, protocol.End()); err != nil {
		return "", fmt.Errorf("wsclient: send end: %w", err)
	}

	timeout := time.NewTimer(s.finalTimeout)
	defer timeout.Stop()

	select {
	case res := <-s.result:
		conn.Close()
		if res.err != nil {
			return "", res.err
		}
		return res.text, nil
	case <-timeout.C:
		conn.Close()
		return "", fmt.Errorf("wsclient: timed out waiting for final transcript")
	case <-ctx.Done():
		conn.Close()
		return "", fmt.Errorf("wsclient: %w", ctx.Err())
	}
}

// Abort closes the connection immediately and makes a later Finish return
// ErrAborted. The controller calls it when a recording fails (session
// start or transcription error) and the session is discarded.
func (s *Session) Abort() {
	s.mu.Lock()
	s.aborted = true
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *Session) send(conn Conn, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func encodePCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// DialWebsocket is the production Dialer backed by gorilla/websocket.
func DialWebsocket(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
