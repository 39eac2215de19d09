package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Direction tells which side of a transfer a transaction record represents.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

func (d Direction) Valid() bool {
	return d == DirectionDebit || d == DirectionCredit
}

// Invert flips the direction, used when a peer-delivered transaction is
// re-recorded from the receiving account's point of view.
func (d Direction) Invert() Direction {
	if d == DirectionDebit {
		return DirectionCredit
	}
	return DirectionDebit
}

// Status is the confirmation state of a transaction. A transaction stays
// pending until the remote store has acknowledged it.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusCompleted
}

// UpdateKind classifies a queued remote mutation.
type UpdateKind string

const (
	// UpdateCreditSelf credits the target account's own remote balance.
	UpdateCreditSelf UpdateKind = "credit_self"
	// UpdateDebitNotify debits the target account and names the counterparty
	// whose side still has to be written remotely.
	UpdateDebitNotify UpdateKind = "debit_notify"
)

func (k UpdateKind) Valid() bool {
	return k == UpdateCreditSelf || k == UpdateDebitNotify
}

// Account is one user's wallet as this device sees it. ID is issued locally
// at creation; once the remote store assigns a canonical identifier it is
// recorded in RemoteID by the reconciliation worker.
type Account struct {
	ID        uuid.UUID `json:"id"`
	Owner     string    `json:"owner"`
	Balance   int64     `json:"balance"` // minor units
	RemoteID  *string   `json:"remote_id,omitempty"`
	NeedsSync bool      `json:"needs_sync"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is one side of a money movement. A completed transfer has a
// debit record in the sender's ledger and a credit record in the receiver's,
// linked by the same ID.
type Transaction struct {
	ID           uuid.UUID `json:"id"`
	AccountID    uuid.UUID `json:"account_id"`
	Owner        string    `json:"owner"`
	Counterparty string    `json:"counterparty"`
	Amount       int64     `json:"amount"` // minor units, strictly positive
	Direction    Direction `json:"direction"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks the fields a peer or bus payload must carry before the
// record is allowed anywhere near the ledger.
func (t Transaction) Validate() error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("transaction id is empty")
	}
	if t.Amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d", t.Amount)
	}
	if !t.Direction.Valid() {
		return fmt.Errorf("unknown direction %q", t.Direction)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("unknown status %q", t.Status)
	}
	if t.Owner == "" || t.Counterparty == "" {
		return fmt.Errorf("owner and counterparty are required")
	}
	return nil
}

// PendingUpdate is a queued intent to mutate the remote store once
// connectivity exists. It is enqueued in the same database transaction as the
// local ledger mutation it mirrors.
type PendingUpdate struct {
	ID           int64      `json:"id"`
	AccountID    uuid.UUID  `json:"account_id"`
	Owner        string     `json:"owner"`
	Delta        int64      `json:"delta"` // signed
	Kind         UpdateKind `json:"kind"`
	Counterparty *string    `json:"counterparty,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// RemoteIdentity is the authoritative store's view of a user, looked up
// before a remote account is created on their behalf.
type RemoteIdentity struct {
	UserID string `json:"user_id"`
	Owner  string `json:"owner"`
}
