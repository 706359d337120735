package proto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	msg := NewMessage("req-1", Status{})
	var buf bytes.Buffer
	if err := WriteFrame(&buf, msg); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	decoded, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if decoded.Version != ProtocolVersion {
		t.Fatalf("expected version %d, got %d", ProtocolVersion, decoded.Version)
	}
	if decoded.ID != "req-1" {
		t.Fatalf("expected id req-1, got %s", decoded.ID)
	}
}

func TestFrameAckRoundTrip(t *testing.T) {
	msg := NewAck("req-42")
	var buf bytes.Buffer
	if err := WriteFrame(&buf, msg); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	decoded, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	ack, ok := decoded.Kind.(Ack)
	if !ok {
		t.Fatalf("expected Ack kind, got %T", decoded.Kind)
	}
	if ack.RequestID != "req-42" {
		t.Fatalf("expected request id req-42, got %s", ack.RequestID)
	}
}

func TestFrameConnectionClosed(t *testing.T) {
	buf := bytes.NewReader(nil)
	_, err := ReadFrame(buf)
	if err != ErrConnectionClosed {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestFrameTooLargeOnWrite(t *testing.T) {
	msg := NewMessage("req-big", Query{Query: QueryRequest{Kind: SearchQuery{Text: strings.Repeat("a", MaxFrameSize), Limit: 1}}})
	var buf bytes.Buffer
	err := WriteFrame(&buf, msg)
	var tooLarge *FrameTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected FrameTooLargeError, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected nothing written for an oversized frame, got %d bytes", buf.Len())
	}
}

func TestFrameTooLargeOnRead(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	lenBuf[0] = 0xff
	lenBuf[1] = 0xff
	lenBuf[2] = 0xff
	lenBuf[3] = 0xff
	buf.Write(lenBuf[:])
	_, err := ReadFrame(&buf)
	var tooLarge *FrameTooLargeError
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected FrameTooLargeError, got %v", err)
	}
}
