package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// Encode serializes a typed payload into a complete datagram: header plus
// lz4-compressed msgpack body. A nil payload produces a zero-length body
// (Heartbeat, ConnectRequest). The header timestamp is taken at encode time;
// the message is immutable once encoded.
func Encode(t MsgType, snapshotID, seq uint32, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		raw, err := msgpack.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = compress(raw)
		if len(body) > MaxPayloadSize {
			return nil, errors.New("protocol: payload exceeds size limit")
		}
	}

	out := make([]byte, HeaderSize+len(body))
	copy(out[0:4], Tag[:])
	out[4] = Version
	out[5] = byte(t)
	binary.BigEndian.PutUint32(out[6:10], snapshotID)
	binary.BigEndian.PutUint32(out[10:14], seq)
	binary.BigEndian.PutUint64(out[14:22], NowMs())
	binary.BigEndian.PutUint16(out[22:24], uint16(len(body)))
	copy(out[HeaderSize:], body)

	return out, nil
}

// Decode parses a datagram. It returns nil for any malformed input:
// truncated header, foreign tag, payload length mismatch, decompression
// failure, msgpack failure, or a known type missing required fields.
// Unknown message types decode the header and expose the decompressed
// payload bytes in RawPayload for the caller to interpret.
func Decode(data []byte) *Message {
	if len(data) < HeaderSize {
		return nil
	}
	if !bytes.Equal(data[0:4], Tag[:]) {
		return nil
	}

	msg := &Message{
		Version:    data[4],
		Type:       MsgType(data[5]),
		SnapshotID: binary.BigEndian.Uint32(data[6:10]),
		Seq:        binary.BigEndian.Uint32(data[10:14]),
		ServerTsMs: binary.BigEndian.Uint64(data[14:22]),
	}

	payloadLen := int(binary.BigEndian.Uint16(data[22:24]))
	if len(data) < HeaderSize+payloadLen {
		return nil
	}

	var raw []byte
	if payloadLen > 0 {
		var err error
		raw, err = decompress(data[HeaderSize : HeaderSize+payloadLen])
		if err != nil {
			return nil
		}
	}

	payload, known := newPayload(msg.Type)
	if !known {
		msg.RawPayload = raw
		return msg
	}

	if len(raw) > 0 {
		if err := msgpack.Unmarshal(raw, payload); err != nil {
			return nil
		}
	} else if !allowsEmptyBody(msg.Type) {
		return nil
	}
	if !validatePayload(msg.Type, payload) {
		return nil
	}

	msg.Payload = payload
	return msg
}

// newPayload returns a zero value of the typed payload for t.
func newPayload(t MsgType) (any, bool) {
	switch t {
	case MsgWelcome:
		return &Welcome{}, true
	case MsgGameState:
		return &GameState{}, true
	case MsgAcquireRequest:
		return &AcquireRequest{}, true
	case MsgAcquireResponse:
		return &AcquireResponse{}, true
	case MsgGameOver:
		return &GameOver{}, true
	case MsgPlayerMove:
		return &PlayerMove{}, true
	case MsgAck:
		return &Ack{}, true
	case MsgHeartbeat:
		return &Heartbeat{}, true
	case MsgConnectRequest:
		return &ConnectRequest{}, true
	}
	return nil, false
}

func allowsEmptyBody(t MsgType) bool {
	return t == MsgHeartbeat || t == MsgConnectRequest
}

func compress(src []byte) []byte {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	zw := lz4.NewWriter(buf)
	zw.Write(src)
	zw.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

func decompress(src []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	zr := lz4.NewReader(bytes.NewReader(src))
	if _, err := io.Copy(buf, io.LimitReader(zr, maxDecompressedSize)); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
