// Package protocol implements the Grid Clash binary wire format: a fixed
// 24-byte big-endian header followed by an lz4-compressed msgpack payload.
//
// Decoding is pure and total. Any malformed input (truncated header, bad
// tag, length mismatch, decompression or msgpack failure) yields nil, never
// a panic, so callers can feed raw UDP traffic straight into Decode and drop
// whatever comes back nil.
package protocol

import (
	"fmt"
	"time"
)

// Protocol constants. The 4-byte tag rejects foreign traffic on the port.
const (
	Version    = 1
	HeaderSize = 24 // tag(4) + version(1) + type(1) + snapshot(4) + seq(4) + ts(8) + len(2)

	// MaxPayloadSize bounds the compressed payload; the length field is
	// 16-bit but datagrams should stay well under typical MTU ceilings.
	MaxPayloadSize = 60 * 1024

	// maxDecompressedSize caps decompression output so a hostile datagram
	// cannot balloon into unbounded memory.
	maxDecompressedSize = 1 << 20
)

// Tag identifies Grid Clash traffic.
var Tag = [4]byte{'G', 'R', 'I', 'D'}

// MsgType identifies the message variant carried by a datagram.
type MsgType byte

// Message types. 0x08 is reserved: the wire protocol assigned it to a NACK
// that is never sent.
const (
	MsgWelcome         MsgType = 0x01
	MsgGameState       MsgType = 0x02
	MsgAcquireRequest  MsgType = 0x03
	MsgAcquireResponse MsgType = 0x04
	MsgGameOver        MsgType = 0x05
	MsgPlayerMove      MsgType = 0x06
	MsgAck             MsgType = 0x07
	MsgHeartbeat       MsgType = 0x09
	MsgConnectRequest  MsgType = 0x0A
)

// String returns the wire name of the message type.
func (t MsgType) String() string {
	switch t {
	case MsgWelcome:
		return "WELCOME"
	case MsgGameState:
		return "GAME_STATE"
	case MsgAcquireRequest:
		return "ACQUIRE_REQUEST"
	case MsgAcquireResponse:
		return "ACQUIRE_RESPONSE"
	case MsgGameOver:
		return "GAME_OVER"
	case MsgPlayerMove:
		return "PLAYER_MOVE"
	case MsgAck:
		return "ACK"
	case MsgHeartbeat:
		return "HEARTBEAT"
	case MsgConnectRequest:
		return "CONNECT_REQUEST"
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(t))
}

// Message is the decoded view of a datagram. Payload holds the typed payload
// struct for known message types (see payloads.go); for unknown types it is
// nil and RawPayload carries the decompressed bytes for the caller to
// interpret. Decoded messages are read-only views.
type Message struct {
	Type       MsgType
	Version    byte
	SnapshotID uint32
	Seq        uint32
	ServerTsMs uint64
	Payload    any
	RawPayload []byte
}

// ConnectToken is the legacy plain-text bootstrap datagram accepted as an
// alternate admission trigger alongside MsgConnectRequest.
const ConnectToken = "CONNECT"

// NowMs is the wall-clock timestamp stamped into every header. Receivers
// subtract it from their own clock for a rough one-way latency estimate;
// the result is clock-offset-sensitive, so consumers clamp it.
func NowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}
