package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"walletd/internal/model"
)

// Runner wires the reconciler to its triggers: connectivity transitions and
// reconcile requests on the bus, plus a periodic tick as a safety net.
type Runner struct {
	rec  *Reconciler
	nc   *nats.Conn
	log  *slog.Logger
	subs []*nats.Subscription
}

func NewRunner(rec *Reconciler, nc *nats.Conn, log *slog.Logger) *Runner {
	return &Runner{rec: rec, nc: nc, log: log}
}

// Start subscribes to the trigger subjects and blocks until ctx is cancelled.
// A queue group ensures that with several daemon instances only one receives
// each trigger.
func (w *Runner) Start(ctx context.Context) error {
	s1, err := w.nc.QueueSubscribe(model.SubjectConnectivity, "walletd_reconcilers", func(m *nats.Msg) {
		var ev model.ConnectivityEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			w.log.Error("worker: failed to unmarshal connectivity event", "error", err)
			return
		}
		if !ev.Online {
			return
		}
		w.rec.runLocked(ctx, "connectivity restored")
	})
	if err != nil {
		return fmt.Errorf("worker: failed to subscribe to connectivity events: %w", err)
	}
	w.subs = append(w.subs, s1)

	s2, err := w.nc.QueueSubscribe(model.SubjectReconcile, "walletd_reconcilers", func(m *nats.Msg) {
		var req model.ReconcileRequest
		if err := json.Unmarshal(m.Data, &req); err != nil {
			w.log.Error("worker: failed to unmarshal reconcile request", "error", err)
			return
		}
		w.rec.runLocked(ctx, req.Reason)
	})
	if err != nil {
		return fmt.Errorf("worker: failed to subscribe to reconcile requests: %w", err)
	}
	w.subs = append(w.subs, s2)

	w.log.Info("Reconciliation worker is running")

	ticker := time.NewTicker(w.rec.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker received shutdown signal, draining subscriptions...")
			for _, s := range w.subs {
				_ = s.Drain()
			}
			return nil
		case <-ticker.C:
			w.rec.runLocked(ctx, "periodic")
		}
	}
}

func (w *Runner) Stop(ctx context.Context) error {
	for _, s := range w.subs {
		_ = s.Unsubscribe()
	}
	return nil
}
