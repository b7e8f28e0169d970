// Package protocol implements the single-byte-tagged binary message format
// spoken over the chat websocket.
//
// Every message is [kind: 1 byte][payload]. A zero-length message carries no
// kind and is ignored by receivers.
package protocol

import (
	"fmt"
	"strings"
)

// Kind identifies the payload of a message.
type Kind byte

const (
	KindHandshake Kind = 0
	KindAudio     Kind = 1
	KindText      Kind = 2
	KindControl   Kind = 3
	KindMetadata  Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindAudio:
		return "audio"
	case KindText:
		return "text"
	case KindControl:
		return "control"
	case KindMetadata:
		return "metadata"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

// Known reports whether k is one of the kinds defined by the protocol.
// Unknown kinds must be tolerated so newer servers can add message types.
func (k Kind) Known() bool {
	return k <= KindMetadata
}

// ControlCode is the single byte carried by a control message.
type ControlCode byte

const (
	ControlStart   ControlCode = 0
	ControlEndTurn ControlCode = 1
	ControlPause   ControlCode = 2
	ControlRestart ControlCode = 3
)

func (c ControlCode) String() string {
	switch c {
	case ControlStart:
		return "start"
	case ControlEndTurn:
		return "end_turn"
	case ControlPause:
		return "pause"
	case ControlRestart:
		return "restart"
	default:
		return fmt.Sprintf("control(%d)", byte(c))
	}
}

// Message is a decoded protocol message.
type Message struct {
	Kind    Kind
	Payload []byte
}

// Encode returns the wire form of m.
func Encode(m Message) []byte {
	b := make([]byte, 1+len(m.Payload))
	b[0] = byte(m.Kind)
	copy(b[1:], m.Payload)
	return b
}

// Decode splits a wire message into its kind and payload. The payload aliases b.
// It returns false for an empty message.
func Decode(b []byte) (Message, bool) {
	if len(b) == 0 {
		return Message{}, false
	}
	return Message{Kind: Kind(b[0]), Payload: b[1:]}, true
}

// Audio frames container bytes as an audio message.
func Audio(container []byte) []byte {
	return Encode(Message{Kind: KindAudio, Payload: container})
}

// Text frames a UTF-8 string as a text message.
func Text(s string) []byte {
	return Encode(Message{Kind: KindText, Payload: []byte(s)})
}

// Control returns the two-byte control message for code.
func Control(code ControlCode) []byte {
	return []byte{byte(KindControl), byte(code)}
}

// Handshake returns the empty-payload handshake message.
func Handshake() []byte {
	return []byte{byte(KindHandshake)}
}

// TextPayload interprets a text payload as UTF-8, replacing invalid
// sequences with U+FFFD.
func TextPayload(p []byte) string {
	return strings.ToValidUTF8(string(p), "�")
}
