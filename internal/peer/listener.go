package peer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"time"

	"walletd/internal/model"
)

// Applier is the receiving side's entry into the wallet: it records a
// peer-delivered transaction in the local ledger and queues it for
// reconciliation.
type Applier interface {
	ReceivePeer(ctx context.Context, rec model.Transaction) error
}

// Listener serves incoming peer sessions one at a time. A bad session is
// dropped and logged; the loop keeps accepting until Stop closes the
// listening socket.
type Listener struct {
	addr    string
	applier Applier
	timeout time.Duration
	log     *slog.Logger

	ln net.Listener
}

func NewListener(addr string, applier Applier, timeout time.Duration, log *slog.Logger) *Listener {
	return &Listener{addr: addr, applier: applier, timeout: timeout, log: log}
}

// Start blocks accepting sessions until the context is cancelled or Stop is
// called.
func (l *Listener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.ln = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	l.log.Info("peer listener accepting", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		// Sessions are handled one at a time; concurrent peer exchanges are
		// out of scope for a device-local daemon.
		l.handle(ctx, conn)
	}
}

func (l *Listener) Stop(ctx context.Context) error {
	if l.ln != nil {
		return l.ln.Close()
	}
	return nil
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if l.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(l.timeout))
	}

	greeting, err := readFrame(conn)
	if err != nil {
		l.log.Warn("peer session dropped before handshake", "error", err)
		return
	}
	if string(greeting) != handshakeMsg {
		l.log.Warn("peer sent unexpected greeting, dropping session")
		return
	}

	if err := writeFrame(conn, []byte(ackMsg)); err != nil {
		l.log.Warn("peer ack write failed", "error", err)
		return
	}

	payload, err := readFrame(conn)
	if err != nil {
		l.log.Warn("peer payload read failed", "error", err)
		return
	}

	var rec model.Transaction
	if err := json.Unmarshal(payload, &rec); err != nil {
		l.log.Warn("peer payload decode failed", "error", err)
		return
	}
	if err := rec.Validate(); err != nil {
		l.log.Warn("peer payload rejected", "error", err)
		return
	}

	if err := l.applier.ReceivePeer(ctx, rec); err != nil {
		l.log.Error("peer transaction apply failed",
			"transaction_id", rec.ID,
			"error", err,
		)
		return
	}

	l.log.Info("peer transaction applied",
		"transaction_id", rec.ID,
		"amount", rec.Amount,
		"counterparty", rec.Counterparty,
	)
}
