package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	payload := []byte("hello terminal\r\n")
	buf, err := EncodeTerminalFrame("sess-123", 42, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	f, err := DecodeFrame(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Kind != FrameKindTerminal {
		t.Errorf("kind = %v, want %v", f.Kind, FrameKindTerminal)
	}
	if f.SessionID != "sess-123" {
		t.Errorf("session id = %q, want %q", f.SessionID, "sess-123")
	}
	if f.Seq != 42 {
		t.Errorf("seq = %d, want 42", f.Seq)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Errorf("payload = %q, want %q", f.Payload, payload)
	}
}

func TestEncodeFrameEmptyPayload(t *testing.T) {
	buf, err := EncodeTerminalFrame("s", 0, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f, err := DecodeFrame(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(f.Payload) != 0 {
		t.Errorf("payload = %v, want empty", f.Payload)
	}
}

func TestEncodeFrameSessionIDTooLong(t *testing.T) {
	longID := bytes.Repeat([]byte("a"), 256)
	_, err := EncodeTerminalFrame(string(longID), 0, nil)
	if err != ErrSessionIDTooLong {
		t.Fatalf("err = %v, want %v", err, ErrSessionIDTooLong)
	}
}

func TestDecodeFrameTooShort(t *testing.T) {
	cases := [][]byte{
		nil,
		{0x01},
		{0x01, 0x03, 'a', 'b'}, // claims 3-byte id but only 2 present, and no seq
	}
	for _, c := range cases {
		if _, err := DecodeFrame(c); err == nil {
			t.Errorf("DecodeFrame(%v) = nil error, want error", c)
		}
	}
}

func TestDecodeFrameExactHeaderBoundary(t *testing.T) {
	// kind + len(0) + seq(8) + no payload, no session id.
	buf := make([]byte, 1+1+0+8)
	buf[0] = byte(FrameKindTerminal)
	buf[1] = 0
	buf[9] = 1 // seq = 1
	f, err := DecodeFrame(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.SessionID != "" {
		t.Errorf("session id = %q, want empty", f.SessionID)
	}
	if f.Seq != 1 {
		t.Errorf("seq = %d, want 1", f.Seq)
	}
}

func TestDecodeFrameMatchesExternalEncoder(t *testing.T) {
	// Exercises the exact byte layout independently of EncodeTerminalFrame,
	// mirroring how a gateway daemon packs frames by hand.
	sessionID := "abc"
	seq := uint64(0x0102030405060708)
	payload := []byte{0xFF, 0x00, 0x10}

	buf := make([]byte, 1+1+len(sessionID)+8+len(payload))
	buf[0] = 0x01
	buf[1] = byte(len(sessionID))
	copy(buf[2:], sessionID)
	offset := 2 + len(sessionID)
	for i := 7; i >= 0; i-- {
		buf[offset+i] = byte(seq)
		seq >>= 8
	}
	copy(buf[offset+8:], payload)

	f, err := DecodeFrame(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.SessionID != sessionID {
		t.Errorf("session id = %q, want %q", f.SessionID, sessionID)
	}
	if f.Seq != 0x0102030405060708 {
		t.Errorf("seq = %x, want %x", f.Seq, uint64(0x0102030405060708))
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Errorf("payload = %v, want %v", f.Payload, payload)
	}
}
