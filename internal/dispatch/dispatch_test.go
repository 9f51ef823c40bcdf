package dispatch

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, "ping", []byte("hello")); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	op, payload, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if op != "ping" {
		t.Fatalf("expected op %q, got %q", "ping", op)
	}
	if string(payload) != "hello" {
		t.Fatalf("expected payload %q, got %q", "hello", payload)
	}
}

func TestFrameRoundTripEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, "status", nil); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	op, payload, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if op != "status" || len(payload) != 0 {
		t.Fatalf("unexpected decode: op=%q payload=%q", op, payload)
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	big := make([]byte, maxMessageSize+1)
	if err := writeFrame(&buf, "op", big); err == nil {
		t.Fatal("expected error for oversized payload")
	}
}
