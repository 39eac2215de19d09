package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"walletd/internal/model"
)

// PostgresStore implements Store against the hosted Postgres backend.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) FindAccountByOwner(ctx context.Context, owner string) (*Account, error) {
	var acc Account
	err := s.db.QueryRow(ctx,
		`SELECT id, owner, balance FROM wallets WHERE owner = $1`,
		owner,
	).Scan(&acc.ID, &acc.Owner, &acc.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("remote wallet lookup failed: %w", err)
	}
	return &acc, nil
}

func (s *PostgresStore) AdjustBalance(ctx context.Context, accountID string, delta int64) (int64, error) {
	var newBalance int64
	err := s.db.QueryRow(ctx,
		`UPDATE wallets SET balance = balance + $1, updated_at = $2
		  WHERE id = $3 AND balance + $1 >= 0
		  RETURNING balance`,
		delta, time.Now().UTC(), accountID,
	).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the wallet is gone or the debit would overdraw it.
		var exists bool
		if checkErr := s.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM wallets WHERE id = $1)`, accountID,
		).Scan(&exists); checkErr != nil {
			return 0, fmt.Errorf("remote wallet existence check failed: %w", checkErr)
		}
		if !exists {
			return 0, ErrNotFound
		}
		return 0, ErrInsufficientFunds
	}
	if err != nil {
		return 0, fmt.Errorf("remote balance adjust failed: %w", err)
	}
	return newBalance, nil
}

func (s *PostgresStore) ApplyUpdate(ctx context.Context, accountID string, u model.PendingUpdate) (int64, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("remote update apply begin failed: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO applied_updates (source_account, update_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		u.AccountID, u.ID,
	)
	if err != nil {
		return 0, false, fmt.Errorf("remote update key write failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// A previous run settled this update; report the current balance.
		var balance int64
		err := tx.QueryRow(ctx,
			`SELECT balance FROM wallets WHERE id = $1`, accountID,
		).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, ErrNotFound
		}
		if err != nil {
			return 0, false, fmt.Errorf("remote balance read failed: %w", err)
		}
		return balance, false, nil
	}

	var newBalance int64
	err = tx.QueryRow(ctx,
		`UPDATE wallets SET balance = balance + $1, updated_at = $2
		  WHERE id = $3 AND balance + $1 >= 0
		  RETURNING balance`,
		u.Delta, time.Now().UTC(), accountID,
	).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if checkErr := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM wallets WHERE id = $1)`, accountID,
		).Scan(&exists); checkErr != nil {
			return 0, false, fmt.Errorf("remote wallet existence check failed: %w", checkErr)
		}
		if !exists {
			return 0, false, ErrNotFound
		}
		return 0, false, ErrInsufficientFunds
	}
	if err != nil {
		return 0, false, fmt.Errorf("remote update apply failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("remote update apply commit failed: %w", err)
	}
	return newBalance, true, nil
}

func (s *PostgresStore) OpenAccountForUpdate(ctx context.Context, u model.PendingUpdate) (string, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("remote wallet open begin failed: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO applied_updates (source_account, update_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		u.AccountID, u.ID,
	)
	if err != nil {
		return "", fmt.Errorf("remote update key write failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// A previous run opened the wallet; hand back its id.
		var id string
		err := tx.QueryRow(ctx,
			`SELECT id FROM wallets WHERE owner = $1`, u.Owner,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		if err != nil {
			return "", fmt.Errorf("remote wallet lookup failed: %w", err)
		}
		return id, nil
	}

	var id string
	err = tx.QueryRow(ctx,
		`INSERT INTO wallets (owner, balance) VALUES ($1, $2) RETURNING id`,
		u.Owner, u.Delta,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("remote wallet create failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("remote wallet open commit failed: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, owner string, openingBalance int64) (string, error) {
	var id string
	err := s.db.QueryRow(ctx,
		`INSERT INTO wallets (owner, balance) VALUES ($1, $2) RETURNING id`,
		owner, openingBalance,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("remote wallet create failed: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) FindOwnerIdentity(ctx context.Context, owner string) (*model.RemoteIdentity, error) {
	var ident model.RemoteIdentity
	err := s.db.QueryRow(ctx,
		`SELECT id, email FROM users WHERE email = $1`,
		owner,
	).Scan(&ident.UserID, &ident.Owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("remote identity lookup failed: %w", err)
	}
	return &ident, nil
}

func (s *PostgresStore) WriteTransaction(ctx context.Context, rec model.Transaction) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO transactions (id, owner, counterparty, amount, direction, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id, owner) DO NOTHING`,
		rec.ID, rec.Owner, rec.Counterparty, rec.Amount, rec.Direction, model.StatusCompleted, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("remote transaction write failed: %w", err)
	}
	return nil
}
