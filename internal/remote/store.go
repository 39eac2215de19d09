// Package remote talks to the authoritative cloud ledger. The hosted backend
// is a managed Postgres, so the concrete client is built on pgx; everything
// above this package sees only the Store interface.
package remote

import (
	"context"
	"errors"

	"walletd/internal/model"
)

var (
	ErrNotFound = errors.New("not found in remote store")
	// ErrInsufficientFunds means a remote debit would overdraw the
	// authoritative balance.
	ErrInsufficientFunds = errors.New("insufficient funds in remote store")
)

// Account is the remote store's view of a wallet. IDs here are server-issued
// and become the canonical identifiers local placeholder accounts are
// remapped to.
type Account struct {
	ID      string
	Owner   string
	Balance int64
}

// Store is the narrow interface the wallet service and the reconciliation
// worker consume. Any error other than ErrNotFound / ErrInsufficientFunds is
// treated as the remote being unavailable and is retried, not failed.
type Store interface {
	// Ping reports whether the remote store is reachable right now.
	Ping(ctx context.Context) error

	FindAccountByOwner(ctx context.Context, owner string) (*Account, error)

	// AdjustBalance applies a signed delta to an existing remote account and
	// returns the new balance. A debit that would overdraw fails with
	// ErrInsufficientFunds; a missing account fails with ErrNotFound.
	AdjustBalance(ctx context.Context, accountID string, delta int64) (int64, error)

	// ApplyUpdate replays one queued delta exactly once. The update is keyed
	// by (source account, update id) in the same remote transaction as the
	// balance change; a re-seen update is skipped and reported with
	// applied=false instead of being counted again.
	ApplyUpdate(ctx context.Context, accountID string, u model.PendingUpdate) (balance int64, applied bool, err error)

	// OpenAccountForUpdate creates the owner's wallet with the update's delta
	// as opening balance, recording the update key like ApplyUpdate does.
	OpenAccountForUpdate(ctx context.Context, u model.PendingUpdate) (accountID string, err error)

	// CreateAccount registers a wallet for the owner with an opening balance
	// and returns the server-issued account id.
	CreateAccount(ctx context.Context, owner string, openingBalance int64) (string, error)

	FindOwnerIdentity(ctx context.Context, owner string) (*model.RemoteIdentity, error)

	// WriteTransaction records one transaction leg. The write is keyed by the
	// transaction id and owner, so repeated reconciliation runs never
	// double-insert.
	WriteTransaction(ctx context.Context, rec model.Transaction) error
}
