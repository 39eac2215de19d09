package model

import (
	"time"

	"github.com/google/uuid"
)

type AddFundsRequest struct {
	Owner  string `json:"owner"`
	Amount int64  `json:"amount"`
}

type TransferRequest struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Amount   int64  `json:"amount"`
}

// OperationResult is returned from every user-facing wallet operation.
// Status tells the caller whether the movement was confirmed remotely
// (completed) or recorded locally and queued for sync (pending).
type OperationResult struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Status        Status    `json:"status"`
	Balance       int64     `json:"balance"`
}

// ConnectivityEvent is published on every online/offline transition.
type ConnectivityEvent struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// ReconcileRequest asks the worker to drain the pending queue now.
type ReconcileRequest struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Bus subjects shared between publishers and the worker.
const (
	SubjectConnectivity = "wallet.connectivity"
	SubjectReconcile    = "wallet.reconcile"
	SubjectAddFunds     = "wallet.commands.addfunds"
	SubjectTransfer     = "wallet.commands.transfer"
)
