// Package protocol defines the JSON control envelope exchanged over the
// websocket session, alongside the raw binary PCM frames it is multiplexed
// with. A session carries exactly these two frame kinds: text frames decode
// to Message, binary frames are opaque little-endian PCM and never touch
// this package.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message type discriminators. Client-to-server: Config, End, Keepalive.
// Server-to-client: Ready, Final, Error.
const (
	TypeConfig    = "config"
	TypeEnd       = "end"
	TypeKeepalive = "keepalive"
	TypeReady     = "ready"
	TypeFinal     = "final"
	TypeError     = "error"
)

// Error codes carried in an error message's Code field (see Err). These are advisory or
// terminal depending on the code; see the session manager for disposition.
const (
	CodeServerFull         = "SERVER_FULL"
	CodeNotConfigured      = "NOT_CONFIGURED"
	CodeBufferFull         = "BUFFER_FULL"
	CodeParseError         = "PARSE_ERROR"
	CodeTranscriptionError = "TRANSCRIPTION_ERROR"
)

// Message is the JSON control envelope. Unknown fields are ignored on
// decode (forward compatibility); an unknown Type is a parse error to the
// receiver, not to this package, which only concerns itself with framing.
type Message struct {
	Type string `json:"type"`

	// Config fields (client -> server).
	SampleRate int    `json:"sample_rate,omitempty"`
	Language   string `json:"language,omitempty"`

	// Ready fields (server -> client).
	SessionID string `json:"session_id,omitempty"`

	// Final fields (server -> client).
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// Error fields (server -> client).
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Config builds a client "config" message.
func Config(sampleRate int, language string) Message {
	return Message{Type: TypeConfig, SampleRate: sampleRate, Language: language}
}

// End builds a client "end" message.
func End() Message { return Message{Type: TypeEnd} }

// Keepalive builds a client "keepalive" message.
func Keepalive() Message { return Message{Type: TypeKeepalive} }

// Ready builds a server "ready" message.
func Ready(sessionID string) Message {
	return Message{Type: TypeReady, SessionID: sessionID}
}

// Final builds a server "final" message.
func Final(text string, confidence float64) Message {
	return Message{Type: TypeFinal, Text: text, Confidence: confidence}
}

// Err builds a server "error" message.
func Err(code, message string) Message {
	return Message{Type: TypeError, Code: code, Message: message}
}

// Encode marshals msg to its wire JSON form.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses a text frame into a Message. It does not validate Type
// against the known set — callers dispatch on Type and treat anything
// unrecognized as their own parse error, per §4.1's "unknown type" rule.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("protocol: decode: %w", err)
	}
	return msg, nil
}
