package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"walletd/internal/model"
)

// Queue is the durable staging area decoupling "local effect applied" from
// "remote effect confirmed". Entries are normally written inside
// Store.ApplyTransaction so they share its transaction boundary; Enqueue
// exists for callers that stage a remote mutation with no local ledger
// change.
type Queue struct {
	db *pgxpool.Pool
}

func NewQueue(db *pgxpool.Pool) *Queue {
	return &Queue{db: db}
}

func (q *Queue) Enqueue(ctx context.Context, u model.PendingUpdate) error {
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := q.db.Exec(ctx,
		`INSERT INTO pending_updates (account_id, owner, delta, kind, counterparty, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.AccountID, u.Owner, u.Delta, u.Kind, u.Counterparty, created,
	)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	return nil
}

// Drain snapshots all currently queued updates in FIFO order. Entries
// enqueued after the snapshot are picked up by the next run, never lost and
// never seen twice within one run.
func (q *Queue) Drain(ctx context.Context) ([]model.PendingUpdate, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, account_id, owner, delta, kind, counterparty, created_at
		   FROM pending_updates ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("drain failed: %w", err)
	}
	defer rows.Close()

	var out []model.PendingUpdate
	for rows.Next() {
		var u model.PendingUpdate
		if err := rows.Scan(&u.ID, &u.AccountID, &u.Owner, &u.Delta, &u.Kind, &u.Counterparty, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("pending update scan failed: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Remove deletes one entry once the remote store has acknowledged it.
func (q *Queue) Remove(ctx context.Context, updateID int64) error {
	_, err := q.db.Exec(ctx, `DELETE FROM pending_updates WHERE id = $1`, updateID)
	if err != nil {
		return fmt.Errorf("remove failed: %w", err)
	}
	return nil
}
