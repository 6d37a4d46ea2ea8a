package wsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"sttmesh/client/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory Conn test double driven by a scripted queue
// of server-to-client frames, with outbound frames recorded for
// assertions.
type fakeConn struct {
	mu      sync.Mutex
	inbound []fakeFrame
	idx     int
	out     []fakeFrame
	closed  bool
	block   chan struct{}
}

type fakeFrame struct {
	kind int
	data []byte
}

func newFakeConn(inbound ...fakeFrame) *fakeConn {
	return &fakeConn{inbound: inbound, block: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	if f.idx < len(f.inbound) {
		fr := f.inbound[f.idx]
		f.idx++
		f.mu.Unlock()
		return fr.kind, fr.data, nil
	}
	f.mu.Unlock()
	<-f.block
	return 0, nil, errFakeClosed
}

var errFakeClosed = &fakeCloseErr{}

type fakeCloseErr struct{}

func (*fakeCloseErr) Error() string { return "fake conn closed" }

func (f *fakeConn) WriteMessage(kind int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.out = append(f.out, fakeFrame{kind: kind, data: cp})
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.block)
	}
	return nil
}

func textFrame(t *testing.T, msg protocol.Message) fakeFrame {
	t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	return fakeFrame{kind: websocket.TextMessage, data: data}
}

func TestHappyPathRoundTrip(t *testing.T) {
	fc := newFakeConn(
		textFrame(t, protocol.Message{Type: protocol.TypeReady, SessionID: "abc"}),
		textFrame(t, protocol.Message{Type: protocol.TypeFinal, Text: "hello world", Confidence: 0.9}),
	)
	dial := func(ctx context.Context, url string) (Conn, error) { return fc, nil }

	sess := New(dial, "ws://example", 16000, "en", time.Second, time.Second)
	require.NoError(t, sess.Start(context.Background()))

	require.NoError(t, sess.SendFrame([]int16{1, 2, 3}))

	text, err := sess.Finish(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hello world", text)

	// config, audio frame, end: three outbound frames.
	require.Len(t, fc.out, 3)
}

func TestServerErrorSurfacesFromFinish(t *testing.T) {
	fc := newFakeConn(
		textFrame(t, protocol.Message{Type: protocol.TypeReady}),
		textFrame(t, protocol.Message{Type: protocol.TypeError, Code: protocol.CodeTranscriptionError, Message: "boom"}),
	)
	dial := func(ctx context.Context, url string) (Conn, error) { return fc, nil }

	sess := New(dial, "ws://example", 16000, "en", time.Second, time.Second)
	require.NoError(t, sess.Start(context.Background()))

	_, err := sess.Finish(context.Background())
	require.Error(t, err)
}

func TestAbortMarksAborted(t *testing.T) {
	fc := newFakeConn(textFrame(t, protocol.Message{Type: protocol.TypeReady}))
	dial := func(ctx context.Context, url string) (Conn, error) { return fc, nil }

	sess := New(dial, "ws://example", 16000, "en", time.Second, time.Second)
	require.NoError(t, sess.Start(context.Background()))
	sess.Abort()

	_, err := sess.Finish(context.Background())
	require.ErrorIs(t, err, ErrAborted)
}
