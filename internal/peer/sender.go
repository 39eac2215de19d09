package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"walletd/internal/model"
)

// ErrHandshakeRejected means the peer answered the handshake with something
// other than ACK. The transaction stays pending locally; nothing was sent.
var ErrHandshakeRejected = errors.New("peer rejected handshake")

// Sender pushes one transaction record to a listening peer. No retries: on
// any failure the record remains pending in the local ledger and the user or
// the reconciliation path decides what happens next.
type Sender struct {
	timeout time.Duration
}

func NewSender(timeout time.Duration) *Sender {
	return &Sender{timeout: timeout}
}

// Send runs the sender side of the exchange: connect, HANDSHAKE, wait for
// ACK, write the record as one frame, close.
func (s *Sender) Send(ctx context.Context, addr string, rec model.Transaction) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("refusing to send invalid record: %w", err)
	}

	d := net.Dialer{Timeout: s.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("peer dial failed: %w", err)
	}
	defer conn.Close()

	if s.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.timeout))
	}

	if err := writeFrame(conn, []byte(handshakeMsg)); err != nil {
		return fmt.Errorf("handshake send failed: %w", err)
	}

	reply, err := readFrame(conn)
	if err != nil {
		return fmt.Errorf("handshake reply read failed: %w", err)
	}
	if string(reply) != ackMsg {
		return ErrHandshakeRejected
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("record encode failed: %w", err)
	}
	if err := writeFrame(conn, payload); err != nil {
		return fmt.Errorf("record send failed: %w", err)
	}

	return nil
}
