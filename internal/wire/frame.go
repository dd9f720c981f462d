// Package wire implements the binary and JSON envelope formats exchanged
// between a gateway daemon, the hub, and attached browsers. The binary
// terminal frame layout is bit-exact across all three parties:
//
//	[kind:1=0x01][session_id_len:1][session_id:N UTF-8][seq:8 big-endian][payload:M]
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FrameKind identifies the payload carried by a binary frame. Only terminal
// output is defined today; the byte is reserved so the wire format can grow
// without breaking existing decoders.
type FrameKind byte

const (
	// FrameKindTerminal marks a frame carrying raw PTY output bytes.
	FrameKindTerminal FrameKind = 0x01
)

const frameHeaderMinLen = 1 + 1 + 0 + 8 // kind + len + (session id) + seq

// ErrFrameTooShort is returned by Decode when b does not contain a complete
// header.
var ErrFrameTooShort = errors.New("wire: frame too short")

// ErrSessionIDTooLong is returned by Encode when the session id does not fit
// in the one-byte length prefix.
var ErrSessionIDTooLong = errors.New("wire: session id exceeds 255 bytes")

// Frame is the decoded form of a binary terminal frame.
type Frame struct {
	Kind      FrameKind
	SessionID string
	Seq       uint64
	Payload   []byte
}

// EncodeTerminalFrame packs PTY output into the wire binary frame format.
func EncodeTerminalFrame(sessionID string, seq uint64, payload []byte) ([]byte, error) {
	idBytes := []byte(sessionID)
	if len(idBytes) > 255 {
		return nil, ErrSessionIDTooLong
	}
	buf := make([]byte, 1+1+len(idBytes)+8+len(payload))
	offset := 0
	buf[offset] = byte(FrameKindTerminal)
	offset++
	buf[offset] = byte(len(idBytes))
	offset++
	copy(buf[offset:], idBytes)
	offset += len(idBytes)
	binary.BigEndian.PutUint64(buf[offset:offset+8], seq)
	offset += 8
	copy(buf[offset:], payload)
	return buf, nil
}

// DecodeFrame parses a binary frame previously produced by
// EncodeTerminalFrame. The returned Frame.Payload aliases b; callers that
// retain it beyond the current read must copy it.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < frameHeaderMinLen {
		return Frame{}, ErrFrameTooShort
	}
	kind := FrameKind(b[0])
	idLen := int(b[1])
	if len(b) < 2+idLen+8 {
		return Frame{}, fmt.Errorf("wire: %w: need %d bytes, have %d", ErrFrameTooShort, 2+idLen+8, len(b))
	}
	sessionID := string(b[2 : 2+idLen])
	seqOffset := 2 + idLen
	seq := binary.BigEndian.Uint64(b[seqOffset : seqOffset+8])
	payload := b[seqOffset+8:]
	return Frame{Kind: kind, SessionID: sessionID, Seq: seq, Payload: payload}, nil
}
