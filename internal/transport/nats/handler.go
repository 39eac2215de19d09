package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"walletd/internal/model"
	"walletd/internal/wallet"
)

// Handler subscribes to wallet command subjects and delegates to the wallet
// service, so other on-device processes can drive the wallet without going
// through HTTP.
type Handler struct {
	svc  wallet.Service
	nc   *nats.Conn
	log  *slog.Logger
	subs []*nats.Subscription
}

func NewHandler(svc wallet.Service, nc *nats.Conn, log *slog.Logger) *Handler {
	return &Handler{svc: svc, nc: nc, log: log}
}

// Start subscribes to command subjects and blocks until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	s1, err := h.nc.QueueSubscribe(model.SubjectAddFunds, "wallet_commands", func(m *nats.Msg) {
		var req model.AddFundsRequest
		if err := json.Unmarshal(m.Data, &req); err != nil {
			h.log.Error("nats: failed to unmarshal add-funds command", "error", err)
			return
		}
		if _, err := h.svc.AddFunds(ctx, req.Owner, req.Amount); err != nil {
			h.log.Error("nats: add funds failed", "error", err, "owner", req.Owner)
		}
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s1)

	s2, err := h.nc.QueueSubscribe(model.SubjectTransfer, "wallet_commands", func(m *nats.Msg) {
		var req model.TransferRequest
		if err := json.Unmarshal(m.Data, &req); err != nil {
			h.log.Error("nats: failed to unmarshal transfer command", "error", err)
			return
		}
		if _, err := h.svc.Transfer(ctx, req.Sender, req.Receiver, req.Amount); err != nil {
			h.log.Error("nats: transfer failed", "error", err, "sender", req.Sender)
		}
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s2)

	h.log.Info("NATS command handler is running")

	<-ctx.Done()
	h.log.Info("NATS command handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}
