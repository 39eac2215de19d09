// Package worker drains the pending-update queue and the pending transaction
// backlog against the authoritative remote store. Runs are triggered by
// connectivity transitions, explicit reconcile requests on the bus, and a
// periodic tick; a redis lock keeps at most one run active.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"walletd/internal/model"
	"walletd/internal/remote"
)

// Queue is the pending-update side of the local store.
type Queue interface {
	Drain(ctx context.Context) ([]model.PendingUpdate, error)
	Remove(ctx context.Context, updateID int64) error
}

// Ledger is the transaction side of the local store.
type Ledger interface {
	PendingTransactions(ctx context.Context) ([]model.Transaction, error)
	CompleteTransaction(ctx context.Context, id uuid.UUID) error
	RemapAccount(ctx context.Context, accountID uuid.UUID, remoteID string) error
}

type Connectivity interface {
	Online() bool
}

type Locker interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	MarkSynced(ctx context.Context) error
}

// Outcome summarizes one reconciliation pass. Retry means some work was left
// queued (remote error or a counterparty that has not synced yet) and the run
// should be re-invoked later; it is the expected partial-failure result, not
// a fatal one.
type Outcome struct {
	Updates      int
	Transactions int
	Remaining    int
	Retry        bool
}

type Reconciler struct {
	queue  Queue
	ledger Ledger
	remote remote.Store
	conn   Connectivity
	lock   Locker
	log    *slog.Logger

	interval time.Duration
}

func NewReconciler(q Queue, l Ledger, r remote.Store, conn Connectivity, lock Locker, interval time.Duration, log *slog.Logger) *Reconciler {
	return &Reconciler{queue: q, ledger: l, remote: r, conn: conn, lock: lock, interval: interval, log: log}
}

// RunOnce drains a snapshot of the queue and the pending transaction backlog.
// Every entry is processed independently: a failure leaves that entry queued
// and marks the run for retry, it never aborts the pass.
func (r *Reconciler) RunOnce(ctx context.Context) (Outcome, error) {
	var out Outcome

	updates, err := r.queue.Drain(ctx)
	if err != nil {
		return Outcome{Retry: true}, err
	}

	for _, u := range updates {
		if err := r.applyUpdate(ctx, u); err != nil {
			r.log.Warn("pending update left queued",
				"update_id", u.ID, "owner", u.Owner, "kind", u.Kind, "error", err)
			out.Remaining++
			out.Retry = true
			continue
		}
		if err := r.queue.Remove(ctx, u.ID); err != nil {
			// The remote write is keyed by the update id, so the re-seen
			// entry is skipped on the next pass, not counted again.
			r.log.Error("confirmed update could not be removed", "update_id", u.ID, "error", err)
			out.Remaining++
			out.Retry = true
			continue
		}
		out.Updates++
	}

	pending, err := r.ledger.PendingTransactions(ctx)
	if err != nil {
		return out, err
	}

	for _, t := range pending {
		if err := r.syncTransaction(ctx, t); err != nil {
			r.log.Warn("pending transaction left unconfirmed",
				"transaction_id", t.ID, "owner", t.Owner, "error", err)
			out.Remaining++
			out.Retry = true
			continue
		}
		out.Transactions++
	}

	if !out.Retry {
		if err := r.lock.MarkSynced(ctx); err != nil {
			r.log.Warn("last-sync bookkeeping failed", "error", err)
		}
	}
	return out, nil
}

// applyUpdate replays one queued remote mutation. The target is addressed by
// owner identifier because the local account may have been deleted since the
// update was enqueued; remote state is authoritative either way.
func (r *Reconciler) applyUpdate(ctx context.Context, u model.PendingUpdate) error {
	racc, err := r.remote.FindAccountByOwner(ctx, u.Owner)
	switch {
	case err == nil:
		_, applied, err := r.remote.ApplyUpdate(ctx, racc.ID, u)
		if err != nil {
			return err
		}
		if !applied {
			r.log.Info("pending update already settled remotely, dropping",
				"update_id", u.ID, "owner", u.Owner)
		}
		r.remap(ctx, u.AccountID, racc.ID)
		return nil

	case errors.Is(err, remote.ErrNotFound):
		if _, err := r.remote.FindOwnerIdentity(ctx, u.Owner); err != nil {
			if errors.Is(err, remote.ErrNotFound) {
				// Counterparty has not synced yet; leave queued for a later run.
				return fmt.Errorf("owner %s has no remote identity yet: %w", u.Owner, err)
			}
			return err
		}
		if u.Delta < 0 {
			return fmt.Errorf("cannot open remote account %s with a debit", u.Owner)
		}
		remoteID, err := r.remote.OpenAccountForUpdate(ctx, u)
		if err != nil {
			return err
		}
		r.remap(ctx, u.AccountID, remoteID)
		return nil

	default:
		return err
	}
}

// syncTransaction writes one pending transaction remotely and marks it
// completed locally. The remote write is keyed by the transaction id, so a
// repeat after a partial failure does not double-insert.
func (r *Reconciler) syncTransaction(ctx context.Context, t model.Transaction) error {
	if _, err := r.remote.FindOwnerIdentity(ctx, t.Counterparty); err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return fmt.Errorf("counterparty %s has no remote identity yet: %w", t.Counterparty, err)
		}
		return err
	}
	if err := r.remote.WriteTransaction(ctx, t); err != nil {
		return err
	}
	if err := r.ledger.CompleteTransaction(ctx, t.ID); err != nil {
		return err
	}
	return nil
}

func (r *Reconciler) remap(ctx context.Context, accountID uuid.UUID, remoteID string) {
	// Best effort: the local account may be gone (logout), which is fine.
	if err := r.ledger.RemapAccount(ctx, accountID, remoteID); err != nil {
		r.log.Debug("account remap skipped", "account_id", accountID, "error", err)
	}
}

// runLocked serializes a reconcile pass behind the redis lock and retries
// with backoff while the pass reports partial progress.
func (r *Reconciler) runLocked(ctx context.Context, reason string) {
	if !r.conn.Online() {
		r.log.Debug("reconcile skipped, offline", "reason", reason)
		return
	}

	ok, err := r.lock.TryAcquire(ctx)
	if err != nil {
		r.log.Warn("reconcile lock unavailable", "error", err)
		return
	}
	if !ok {
		r.log.Debug("reconcile already running, skipping trigger", "reason", reason)
		return
	}
	defer func() {
		if err := r.lock.Release(context.Background()); err != nil {
			r.log.Warn("reconcile lock release failed", "error", err)
		}
	}()

	backoff := retry.WithMaxRetries(4, retry.NewFibonacci(2*time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		out, err := r.RunOnce(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}
		r.log.Info("reconcile pass finished",
			"reason", reason,
			"updates", out.Updates,
			"transactions", out.Transactions,
			"remaining", out.Remaining,
		)
		if out.Retry {
			return retry.RetryableError(fmt.Errorf("%d entries left queued", out.Remaining))
		}
		return nil
	})
	if err != nil {
		r.log.Warn("reconcile run gave up until next trigger", "reason", reason, "error", err)
	}
}
