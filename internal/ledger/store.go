package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"walletd/internal/model"
)

var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrDuplicateTransaction means the ledger already holds this record for
	// the same account. Peer re-delivery and bus redelivery hit this path; the
	// balance is not touched a second time.
	ErrDuplicateTransaction = errors.New("transaction already applied")
)

// Store is the device's single source of truth for balances and transaction
// history, independent of network state. It also owns the pending-update
// queue rows so a ledger mutation and its queue entry commit together.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Apply describes one atomic ledger mutation: a signed balance delta, the
// transaction record documenting it, and an optional paired pending update.
type Apply struct {
	Owner   string
	Delta   int64
	Record  model.Transaction
	Pending *model.PendingUpdate
}

// ApplyTransaction adjusts the target account's balance by op.Delta and
// inserts op.Record, all in one database transaction. A debit against a
// missing account fails with ErrAccountNotFound; a credit creates the account
// with the delta as opening balance. A debit that would overdraw fails with
// ErrInsufficientFunds before any mutation. The account row is locked for the
// duration so concurrent debits cannot both read a stale balance.
func (s *Store) ApplyTransaction(ctx context.Context, op Apply) (*model.Account, error) {
	if op.Record.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d", op.Record.Amount)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var acc model.Account
	err = tx.QueryRow(ctx,
		`SELECT id, owner, balance, remote_id, needs_sync, created_at, updated_at
		   FROM accounts WHERE owner = $1 FOR UPDATE`,
		op.Owner,
	).Scan(&acc.ID, &acc.Owner, &acc.Balance, &acc.RemoteID, &acc.NeedsSync, &acc.CreatedAt, &acc.UpdatedAt)

	now := time.Now().UTC()

	switch {
	case err == nil:
		if op.Delta < 0 && acc.Balance+op.Delta < 0 {
			return nil, ErrInsufficientFunds
		}
		acc.Balance += op.Delta
		acc.UpdatedAt = now
		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET balance = $1, updated_at = $2, needs_sync = TRUE WHERE id = $3`,
			acc.Balance, now, acc.ID,
		); err != nil {
			return nil, fmt.Errorf("balance update failed: %w", err)
		}
	case errors.Is(err, pgx.ErrNoRows):
		if op.Delta < 0 {
			return nil, ErrAccountNotFound
		}
		acc = model.Account{
			ID:        uuid.New(),
			Owner:     op.Owner,
			Balance:   op.Delta,
			NeedsSync: true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO accounts (id, owner, balance, needs_sync, created_at, updated_at)
			 VALUES ($1, $2, $3, TRUE, $4, $4)`,
			acc.ID, acc.Owner, acc.Balance, now,
		); err != nil {
			return nil, fmt.Errorf("account create failed: %w", err)
		}
	default:
		return nil, fmt.Errorf("account lookup failed: %w", err)
	}

	rec := op.Record
	rec.AccountID = acc.ID
	rec.Owner = acc.Owner
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, account_id, owner, counterparty, amount, direction, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id, account_id) DO NOTHING`,
		rec.ID, rec.AccountID, rec.Owner, rec.Counterparty, rec.Amount, rec.Direction, rec.Status, rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("transaction insert failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already recorded; rolling back leaves the balance untouched.
		return nil, ErrDuplicateTransaction
	}

	if op.Pending != nil {
		u := op.Pending
		if _, err := tx.Exec(ctx,
			`INSERT INTO pending_updates (account_id, owner, delta, kind, counterparty, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			acc.ID, acc.Owner, u.Delta, u.Kind, u.Counterparty, now,
		); err != nil {
			return nil, fmt.Errorf("pending update enqueue failed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return &acc, nil
}

// MirrorRemote upserts the local copy of an account from the authoritative
// balance, used on the online path where the remote store has already applied
// the mutation. The local row is marked clean.
func (s *Store) MirrorRemote(ctx context.Context, owner, remoteID string, balance int64) (*model.Account, error) {
	now := time.Now().UTC()
	var acc model.Account
	err := s.db.QueryRow(ctx,
		`INSERT INTO accounts (id, owner, balance, remote_id, needs_sync, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, FALSE, $5, $5)
		 ON CONFLICT (owner) DO UPDATE
		   SET balance = EXCLUDED.balance,
		       remote_id = EXCLUDED.remote_id,
		       needs_sync = FALSE,
		       updated_at = EXCLUDED.updated_at
		 RETURNING id, owner, balance, remote_id, needs_sync, created_at, updated_at`,
		uuid.New(), owner, balance, remoteID, now,
	).Scan(&acc.ID, &acc.Owner, &acc.Balance, &acc.RemoteID, &acc.NeedsSync, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("account mirror failed: %w", err)
	}
	return &acc, nil
}

// RecordTransaction inserts a transaction record without touching the
// balance, for the online path where the balance already reflects the remote
// result. Re-recording the same id for the same account is a no-op.
func (s *Store) RecordTransaction(ctx context.Context, rec model.Transaction) error {
	acc, err := s.Account(ctx, rec.Owner)
	if err != nil {
		return err
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO transactions (id, account_id, owner, counterparty, amount, direction, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id, account_id) DO NOTHING`,
		rec.ID, acc.ID, rec.Owner, rec.Counterparty, rec.Amount, rec.Direction, rec.Status, created,
	)
	if err != nil {
		return fmt.Errorf("transaction record failed: %w", err)
	}
	return nil
}

// TransactionByID fetches one account's record of a logical transaction.
func (s *Store) TransactionByID(ctx context.Context, id uuid.UUID, owner string) (*model.Transaction, error) {
	var t model.Transaction
	err := s.db.QueryRow(ctx,
		`SELECT id, account_id, owner, counterparty, amount, direction, status, created_at
		   FROM transactions WHERE id = $1 AND owner = $2`,
		id, owner,
	).Scan(&t.ID, &t.AccountID, &t.Owner, &t.Counterparty, &t.Amount, &t.Direction, &t.Status, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrTransactionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("transaction lookup failed: %w", err)
	}
	return &t, nil
}

// Account looks up a wallet by owner identifier.
func (s *Store) Account(ctx context.Context, owner string) (*model.Account, error) {
	var acc model.Account
	err := s.db.QueryRow(ctx,
		`SELECT id, owner, balance, remote_id, needs_sync, created_at, updated_at
		   FROM accounts WHERE owner = $1`,
		owner,
	).Scan(&acc.ID, &acc.Owner, &acc.Balance, &acc.RemoteID, &acc.NeedsSync, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account lookup failed: %w", err)
	}
	return &acc, nil
}

// Transactions returns the account's history, newest first.
func (s *Store) Transactions(ctx context.Context, accountID uuid.UUID) ([]model.Transaction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, account_id, owner, counterparty, amount, direction, status, created_at
		   FROM transactions WHERE account_id = $1 ORDER BY created_at DESC, id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("transaction query failed: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// PendingTransactions returns every local transaction still awaiting remote
// confirmation, oldest first, across all accounts on this device.
func (s *Store) PendingTransactions(ctx context.Context) ([]model.Transaction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, account_id, owner, counterparty, amount, direction, status, created_at
		   FROM transactions WHERE status = $1 ORDER BY created_at, id`,
		model.StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("pending transaction query failed: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// CompleteTransaction marks every local record of the given logical
// transaction as confirmed. Transactions are never rolled back, only
// completed or retried.
func (s *Store) CompleteTransaction(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE transactions SET status = $1 WHERE id = $2`,
		model.StatusCompleted, id,
	)
	if err != nil {
		return fmt.Errorf("transaction completion failed: %w", err)
	}
	return nil
}

// RemapAccount records the server-issued identifier for a locally-created
// account and clears its sync flag.
func (s *Store) RemapAccount(ctx context.Context, accountID uuid.UUID, remoteID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE accounts SET remote_id = $1, needs_sync = FALSE, updated_at = $2 WHERE id = $3`,
		remoteID, time.Now().UTC(), accountID,
	)
	if err != nil {
		return fmt.Errorf("account remap failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// DeleteAccount removes a wallet and its history on logout. Queued pending
// updates are left in place: remote state is authoritative and the worker
// still drains them.
func (s *Store) DeleteAccount(ctx context.Context, owner string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM accounts WHERE owner = $1`, owner)
	if err != nil {
		return fmt.Errorf("account delete failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func scanTransactions(rows pgx.Rows) ([]model.Transaction, error) {
	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Owner, &t.Counterparty, &t.Amount, &t.Direction, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("transaction scan failed: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
