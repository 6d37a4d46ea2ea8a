// Package manager is the server-side session table: admission, the
// per-connection frame-handling loop, and dispatch of transcription work
// to a bounded worker pool so the I/O reactor (the HTTP/websocket accept
// loop) never blocks on GPU inference.
package manager

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"sttmesh/server/internal/protocol"
	"sttmesh/server/internal/session"
	"sttmesh/server/internal/transcriber"

	"github.com/gorilla/websocket"
)

// ErrServerFull names the reject-when-full admission outcome. HandleConn
// reports that case to the client as an error/SERVER_FULL message; no
// function in this package returns ErrServerFull.
var ErrServerFull = errors.New("manager: server full")

// MaxFrameBytes is the wire cap on any single frame (text or binary).
const MaxFrameBytes = 10 << 20 // 10 MiB

// Conn is the subset of *websocket.Conn the manager depends on, so tests
// can substitute an in-memory fake without a real TCP round trip.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Manager is the process-wide singleton holding the admission semaphore,
// the live session table, and the transcriber worker pool. Mutated only
// through its exported methods, each of which is safe for concurrent use.
type Manager struct {
	transcriber    *transcriber.Transcriber
	permits        chan struct{}
	rejectWhenFull bool

	mu       sync.Mutex
	sessions map[string]*session.Session

	work         chan transcribeJob
	wg           sync.WaitGroup
	shutdownOnce sync.Once

	// admittedTotal/rejectedTotal are cumulative counters surfaced by
	// Healthz; unlike SessionCount/PermitsInUse (live table/semaphore
	// state) these only ever grow, for operators watching admission
	// pressure over the life of the process.
	admittedTotal atomic.Int64
	rejectedTotal atomic.Int64

	log *slog.Logger
}

type transcribeJob struct {
	samples    []int16
	sampleRate int
	reply      chan transcribeResult
}

type transcribeResult struct {
	text       string
	confidence float64
	err        error
}

// New builds a Manager with maxConnections admission permits, reject-
// when-full semantics per rejectWhenFull, and a worker pool of
// workerPoolSize goroutines servicing the transcriber.
func New(tr *transcriber.Transcriber, maxConnections int, rejectWhenFull bool, workerPoolSize int, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		transcriber:    tr,
		permits:        make(chan struct{}, maxConnections),
		rejectWhenFull: rejectWhenFull,
		sessions:       make(map[string]*session.Session),
		work:           make(chan transcribeJob),
		log:            log,
	}
	for i := 0; i < workerPoolSize; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for job := range m.work {
		text, confidence, err := m.transcriber.Transcribe(context.Background(), job.samples, job.sampleRate, 1)
		job.reply <- transcribeResult{text: text, confidence: confidence, err: err}
	}
}

// Shutdown stops accepting new transcription work and waits for in-flight
// jobs to finish. Safe to call once; subsequent calls are no-ops since the
// worker channel is only closed the first time.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() { close(m.work) })
	m.wg.Wait()
}

// SessionCount reports the number of live sessions, for metrics logging.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// PermitsInUse reports how many admission permits are currently held.
func (m *Manager) PermitsInUse() int {
	return len(m.permits)
}

// Health is the JSON body served at /healthz: live state (session count,
// permits in use) alongside the cumulative admission counters.
type Health struct {
	Status        string `json:"status"`
	Sessions      int    `json:"sessions"`
	PermitsInUse  int    `json:"permits_in_use"`
	PermitsTotal  int    `json:"permits_total"`
	AdmittedTotal int64  `json:"admitted_total"`
	RejectedTotal int64  `json:"rejected_total"`
}

// Healthz reports the liveness snapshot backing the /healthz route.
func (m *Manager) Healthz() Health {
	return Health{
		Status:        "ok",
		Sessions:      m.SessionCount(),
		PermitsInUse:  m.PermitsInUse(),
		PermitsTotal:  cap(m.permits),
		AdmittedTotal: m.admittedTotal.Load(),
		RejectedTotal: m.rejectedTotal.Load(),
	}
}

// HandleConn drives one connection end to end: admission, the ready
// handshake, the frame loop, and teardown. It never returns an error to
// the caller — all failure modes are either a wire-level error message or
// a closed connection, per §7's "I/O errors inside a session never crash
// the server" rule.
func (m *Manager) HandleConn(ctx context.Context, conn Conn, remoteAddr string) {
	conn.SetReadLimit(MaxFrameBytes)

	select {
	case m.permits <- struct{}{}:
		m.admittedTotal.Add(1)
	default:
		if m.rejectWhenFull {
			m.rejectedTotal.Add(1)
			m.log.Warn("admission rejected: server full", "remote", remoteAddr)
			writeJSON(conn, protocol.Err(protocol.CodeServerFull, "server is at capacity"))
			conn.Close()
			return
		}
		// Queue: block for a permit without rejecting.
		m.permits <- struct{}{}
		m.admittedTotal.Add(1)
	}
	defer func() { <-m.permits }()

	id := newSessionID()
	sess := session.New(id)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
	}()

	m.log.Info("session admitted", "session_id", id, "remote", remoteAddr)

	if err := writeJSON(conn, protocol.Ready(id)); err != nil {
		m.log.Debug("write ready failed", "session_id", id, "err", err)
		conn.Close()
		return
	}

	m.frameLoop(ctx, conn, sess)
	conn.Close()
	m.log.Info("session closed", "session_id", id)
}

func (m *Manager) frameLoop(ctx context.Context, conn Conn, sess *session.Session) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			m.handleBinary(conn, sess, data)
		case websocket.TextMessage:
			if done := m.handleText(ctx, conn, sess, data); done {
				continue
			}
		default:
			// Ping/pong/close control frames are handled by gorilla's
			// Conn internally; anything else is ignored.
		}
	}
}

func (m *Manager) handleBinary(conn Conn, sess *session.Session, data []byte) {
	if !sess.Configured() {
		writeJSON(conn, protocol.Err(protocol.CodeNotConfigured, "send config before audio"))
		return
	}
	samples := decodePCM(data)
	if err := sess.Append(samples); err != nil {
		writeJSON(conn, protocol.Err(protocol.CodeBufferFull, "session buffer is full"))
		return
	}
}

// handleText decodes and dispatches one text frame. It always returns
// true; a failed write of a reply is not reported to the caller.
func (m *Manager) handleText(ctx context.Context, conn Conn, sess *session.Session, data []byte) bool {
	msg, err := protocol.Decode(data)
	if err != nil {
		writeJSON(conn, protocol.Err(protocol.CodeParseError, "malformed control message"))
		return true
	}

	switch msg.Type {
	case protocol.TypeConfig:
		sess.Configure(msg.SampleRate, msg.Language)
	case protocol.TypeKeepalive:
		// No-op.
	case protocol.TypeEnd:
		m.handleEnd(ctx, conn, sess)
	default:
		writeJSON(conn, protocol.Err(protocol.CodeParseError, fmt.Sprintf("unknown message type %q", msg.Type)))
	}
	return true
}

func (m *Manager) handleEnd(ctx context.Context, conn Conn, sess *session.Session) {
	samples := sess.Drain()
	sampleRate := sess.SampleRate()
	if sampleRate == 0 {
		sampleRate = 16000
	}

	reply := make(chan transcribeResult, 1)
	select {
	case m.work <- transcribeJob{samples: samples, sampleRate: sampleRate, reply: reply}:
	case <-ctx.Done():
		return
	}

	select {
	case res := <-reply:
		if res.err != nil {
			m.log.Error("transcription failed", "session_id", sess.ID(), "err", res.err)
			writeJSON(conn, protocol.Err(protocol.CodeTranscriptionError, res.err.Error()))
			return
		}
		writeJSON(conn, protocol.Final(res.text, res.confidence))
	case <-ctx.Done():
	}
}

func writeJSON(conn Conn, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("manager: encode: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func decodePCM(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
	}
	return out
}

func newSessionID() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}
