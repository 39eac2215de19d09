package peer

import (
	"bytes"
	"strings"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"amount":2500}`)

	if err := writeFrame(&buf, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	got, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %q", got)
	}
}

func TestFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, make([]byte, maxFrameSize+1)); err == nil {
		t.Fatal("expected oversize write to fail")
	}

	// Header claiming an absurd length must be rejected before allocation.
	buf.Reset()
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := readFrame(&buf); err == nil {
		t.Fatal("expected oversize read to fail")
	}
}

func TestFrameTruncated(t *testing.T) {
	if _, err := readFrame(strings.NewReader("\x00")); err == nil {
		t.Fatal("expected truncated header to fail")
	}
	// Header promises 10 bytes, stream has 3.
	if _, err := readFrame(strings.NewReader("\x00\x00\x00\x0aabc")); err == nil {
		t.Fatal("expected truncated payload to fail")
	}
}
