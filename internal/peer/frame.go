// Package peer implements the device-to-device transaction exchange: a
// HANDSHAKE/ACK greeting followed by a single framed JSON transaction record,
// carried over any bidirectional byte stream. Frames are length-prefixed
// (4-byte big-endian) so one logical message never depends on read
// boundaries.
package peer

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	handshakeMsg = "HANDSHAKE"
	ackMsg       = "ACK"

	// maxFrameSize bounds a single frame; a transaction record is tiny, so
	// anything near this limit is a broken or hostile peer.
	maxFrameSize = 64 * 1024
)

func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(payload))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("frame header write: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("frame payload write: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("frame header read: %w", err)
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("frame payload read: %w", err)
	}
	return payload, nil
}
