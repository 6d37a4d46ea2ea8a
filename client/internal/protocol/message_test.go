package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []Message{
		Config(16000, "en"),
		End(),
		Keepalive(),
		{Type: TypeReady, SessionID: "sess-1"},
		{Type: TypeFinal, Text: "hello", Confidence: 1.0},
		{Type: TypeError, Code: CodeBufferFull, Message: "full"},
	}
	for _, want := range cases {
		data, err := Encode(want)
		require.NoError(t, err)
		got, err := Decode(data)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestKeepaliveIsNoOp(t *testing.T) {
	require.Equal(t, Message{Type: TypeKeepalive}, Keepalive())
}
