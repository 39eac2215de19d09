// Package wallet exposes the user-facing operations. Every operation works
// in one of two modes: online, writing through to the authoritative remote
// store and recording completed transactions, or offline, mutating only the
// local ledger with a paired pending update for later reconciliation.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"walletd/internal/ledger"
	"walletd/internal/model"
	"walletd/internal/remote"
)

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrSelfTransfer  = errors.New("cannot transfer to self")
	// ErrCounterpartyNotFound means the receiver has no remote identity, so
	// an online transfer to them cannot be settled.
	ErrCounterpartyNotFound = errors.New("counterparty not found")
)

// Service is what the transports and the peer listener depend on.
type Service interface {
	AddFunds(ctx context.Context, owner string, amount int64) (*model.OperationResult, error)
	Transfer(ctx context.Context, sender, receiver string, amount int64) (*model.OperationResult, error)
	ReceivePeer(ctx context.Context, rec model.Transaction) error
	SendPeer(ctx context.Context, addr, owner string, txID uuid.UUID) error
	Balance(ctx context.Context, owner string) (*model.Account, error)
	History(ctx context.Context, accountID uuid.UUID) ([]model.Transaction, error)
	Logout(ctx context.Context, owner string) error
}

// Ledger is the slice of the local store the service needs.
type Ledger interface {
	ApplyTransaction(ctx context.Context, op ledger.Apply) (*model.Account, error)
	MirrorRemote(ctx context.Context, owner, remoteID string, balance int64) (*model.Account, error)
	RecordTransaction(ctx context.Context, rec model.Transaction) error
	TransactionByID(ctx context.Context, id uuid.UUID, owner string) (*model.Transaction, error)
	Account(ctx context.Context, owner string) (*model.Account, error)
	Transactions(ctx context.Context, accountID uuid.UUID) ([]model.Transaction, error)
	DeleteAccount(ctx context.Context, owner string) error
}

// Connectivity reports whether the remote store was reachable at last probe.
type Connectivity interface {
	Online() bool
}

// Publisher pushes fire-and-forget events onto the device message bus.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// PeerSender hands one transaction record to another device.
type PeerSender interface {
	Send(ctx context.Context, addr string, rec model.Transaction) error
}

type Wallet struct {
	ledger Ledger
	remote remote.Store
	conn   Connectivity
	bus    Publisher
	peers  PeerSender
	log    *slog.Logger
}

func New(l Ledger, r remote.Store, conn Connectivity, bus Publisher, peers PeerSender, log *slog.Logger) *Wallet {
	return &Wallet{ledger: l, remote: r, conn: conn, bus: bus, peers: peers, log: log}
}

// AddFunds credits the owner's wallet. Online it settles against the remote
// store immediately; offline it is recorded locally and queued.
func (w *Wallet) AddFunds(ctx context.Context, owner string, amount int64) (*model.OperationResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	rec := model.Transaction{
		ID:           uuid.New(),
		Owner:        owner,
		Counterparty: owner,
		Amount:       amount,
		Direction:    model.DirectionCredit,
		CreatedAt:    time.Now().UTC(),
	}

	if w.conn.Online() {
		res, settled, err := w.addFundsOnline(ctx, owner, amount, rec)
		if err == nil {
			w.requestReconcile("online add funds")
			return res, nil
		}
		if settled {
			// The remote balance moved; replaying the amount through the
			// offline queue would double count.
			return nil, err
		}
		w.log.Warn("online add funds failed before any remote mutation, falling back to offline path",
			"owner", owner, "error", err)
	}

	rec.Status = model.StatusPending
	counter := owner
	acc, err := w.ledger.ApplyTransaction(ctx, ledger.Apply{
		Owner:  owner,
		Delta:  amount,
		Record: rec,
		Pending: &model.PendingUpdate{
			Owner:        owner,
			Delta:        amount,
			Kind:         model.UpdateCreditSelf,
			Counterparty: &counter,
		},
	})
	if err != nil {
		return nil, err
	}
	w.requestReconcile("offline add funds")
	return &model.OperationResult{TransactionID: rec.ID, Status: model.StatusPending, Balance: acc.Balance}, nil
}

// addFundsOnline settles the credit against the remote store. The second
// return reports whether the remote balance moved; once it has, failures are
// final for the caller because the delta must never reach the offline queue.
func (w *Wallet) addFundsOnline(ctx context.Context, owner string, amount int64, rec model.Transaction) (*model.OperationResult, bool, error) {
	racc, err := w.remote.FindAccountByOwner(ctx, owner)

	var remoteID string
	var newBalance int64
	switch {
	case err == nil:
		remoteID = racc.ID
		newBalance, err = w.remote.AdjustBalance(ctx, racc.ID, amount)
		if err != nil {
			return nil, false, err
		}
	case errors.Is(err, remote.ErrNotFound):
		remoteID, err = w.remote.CreateAccount(ctx, owner, amount)
		if err != nil {
			return nil, false, err
		}
		newBalance = amount
	default:
		return nil, false, err
	}

	// The credit is on the remote now. A record that cannot be written stays
	// pending locally and the worker's idempotent drain writes it later; the
	// balance itself is never replayed.
	rec.Status = model.StatusCompleted
	if werr := w.remote.WriteTransaction(ctx, rec); werr != nil {
		w.log.Warn("settled credit could not be recorded remotely, leaving the record pending",
			"owner", owner, "transaction_id", rec.ID, "error", werr)
		rec.Status = model.StatusPending
	}

	if _, err := w.ledger.MirrorRemote(ctx, owner, remoteID, newBalance); err != nil {
		return nil, true, err
	}
	if err := w.ledger.RecordTransaction(ctx, rec); err != nil {
		return nil, true, err
	}

	return &model.OperationResult{TransactionID: rec.ID, Status: rec.Status, Balance: newBalance}, true, nil
}

// Transfer moves amount from sender to receiver. The two ledger records share
// one transaction id; offline both sides are recorded on this device, with
// the receiver's wallet created as a local placeholder until their device or
// the remote store supplies the canonical state.
func (w *Wallet) Transfer(ctx context.Context, sender, receiver string, amount int64) (*model.OperationResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if sender == receiver {
		return nil, ErrSelfTransfer
	}

	txID := uuid.New()
	now := time.Now().UTC()
	debit := model.Transaction{
		ID: txID, Owner: sender, Counterparty: receiver,
		Amount: amount, Direction: model.DirectionDebit, CreatedAt: now,
	}
	credit := model.Transaction{
		ID: txID, Owner: receiver, Counterparty: sender,
		Amount: amount, Direction: model.DirectionCredit, CreatedAt: now,
	}

	if w.conn.Online() {
		res, settled, err := w.transferOnline(ctx, sender, receiver, amount, debit, credit)
		if err == nil {
			w.requestReconcile("online transfer")
			return res, nil
		}
		// Business failures are final; only availability problems degrade to
		// the offline path.
		if errors.Is(err, remote.ErrInsufficientFunds) {
			return nil, ledger.ErrInsufficientFunds
		}
		if errors.Is(err, ErrCounterpartyNotFound) || errors.Is(err, remote.ErrNotFound) {
			return nil, err
		}
		if settled {
			// The remote balances moved; replaying the deltas through the
			// offline queue would double count.
			return nil, err
		}
		w.log.Warn("online transfer failed before any remote mutation, falling back to offline path",
			"sender", sender, "receiver", receiver, "error", err)
	}

	debit.Status = model.StatusPending
	credit.Status = model.StatusPending

	senderAcc, err := w.ledger.ApplyTransaction(ctx, ledger.Apply{
		Owner:  sender,
		Delta:  -amount,
		Record: debit,
		Pending: &model.PendingUpdate{
			Owner:        sender,
			Delta:        -amount,
			Kind:         model.UpdateDebitNotify,
			Counterparty: &receiver,
		},
	})
	if err != nil {
		return nil, err
	}

	if _, err := w.ledger.ApplyTransaction(ctx, ledger.Apply{
		Owner:  receiver,
		Delta:  amount,
		Record: credit,
		Pending: &model.PendingUpdate{
			Owner:        receiver,
			Delta:        amount,
			Kind:         model.UpdateCreditSelf,
			Counterparty: &sender,
		},
	}); err != nil {
		// The debit committed; the receiver's side stays queued in the
		// sender's pending update, so nothing is lost. Surface the failure.
		w.log.Error("receiver-side offline apply failed", "receiver", receiver, "error", err)
		return nil, err
	}

	w.requestReconcile("offline transfer")
	return &model.OperationResult{TransactionID: txID, Status: model.StatusPending, Balance: senderAcc.Balance}, nil
}

// transferOnline settles both legs against the remote store. The second
// return reports whether a remote mutation stuck: a failed receiver credit is
// refunded to the sender first, and only if that refund also fails (or the
// settled state cannot be mirrored locally) does the caller see settled=true,
// which forbids the offline fallback.
func (w *Wallet) transferOnline(ctx context.Context, sender, receiver string, amount int64, debit, credit model.Transaction) (*model.OperationResult, bool, error) {
	senderAcc, err := w.remote.FindAccountByOwner(ctx, sender)
	if err != nil {
		return nil, false, err
	}

	// Resolve the receiver before debiting anyone.
	receiverAcc, err := w.remote.FindAccountByOwner(ctx, receiver)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return nil, false, err
	}
	if receiverAcc == nil {
		if _, err := w.remote.FindOwnerIdentity(ctx, receiver); err != nil {
			if errors.Is(err, remote.ErrNotFound) {
				return nil, false, ErrCounterpartyNotFound
			}
			return nil, false, err
		}
	}

	senderBalance, err := w.remote.AdjustBalance(ctx, senderAcc.ID, -amount)
	if err != nil {
		return nil, false, err
	}

	var receiverID string
	var receiverBalance int64
	if receiverAcc != nil {
		receiverID = receiverAcc.ID
		receiverBalance, err = w.remote.AdjustBalance(ctx, receiverAcc.ID, amount)
	} else {
		receiverID, err = w.remote.CreateAccount(ctx, receiver, amount)
		receiverBalance = amount
	}
	if err != nil {
		// The sender's debit is on the remote; undo it so the operation nets
		// to nothing before the failure is reported.
		if _, rerr := w.remote.AdjustBalance(ctx, senderAcc.ID, amount); rerr != nil {
			w.log.Error("transfer refund failed, sender stays debited remotely",
				"sender", sender, "transaction_id", debit.ID, "error", rerr)
			return nil, true, fmt.Errorf("receiver credit failed after sender debit: %w", err)
		}
		return nil, false, err
	}

	// Both balances are settled remotely. Records that cannot be written stay
	// pending locally for the worker's idempotent drain; the deltas are never
	// replayed.
	debit.Status = model.StatusCompleted
	credit.Status = model.StatusCompleted
	werr := w.remote.WriteTransaction(ctx, debit)
	if werr == nil {
		werr = w.remote.WriteTransaction(ctx, credit)
	}
	if werr != nil {
		w.log.Warn("settled transfer could not be recorded remotely, leaving the records pending",
			"transaction_id", debit.ID, "error", werr)
		debit.Status = model.StatusPending
		credit.Status = model.StatusPending
	}

	if _, err := w.ledger.MirrorRemote(ctx, sender, senderAcc.ID, senderBalance); err != nil {
		return nil, true, err
	}
	if err := w.ledger.RecordTransaction(ctx, debit); err != nil {
		return nil, true, err
	}
	if _, err := w.ledger.MirrorRemote(ctx, receiver, receiverID, receiverBalance); err != nil {
		return nil, true, err
	}
	if err := w.ledger.RecordTransaction(ctx, credit); err != nil {
		return nil, true, err
	}

	return &model.OperationResult{TransactionID: debit.ID, Status: debit.Status, Balance: senderBalance}, true, nil
}

// ReceivePeer applies a transaction handed over by another device. The record
// arrives from the sender's point of view; it is re-recorded here inverted,
// credited to the local account and queued for reconciliation. Re-delivery of
// an already-applied record is a no-op.
func (w *Wallet) ReceivePeer(ctx context.Context, rec model.Transaction) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("peer record rejected: %w", err)
	}

	recv := model.Transaction{
		ID:           rec.ID,
		Owner:        rec.Counterparty,
		Counterparty: rec.Owner,
		Amount:       rec.Amount,
		Direction:    rec.Direction.Invert(),
		Status:       model.StatusPending,
		CreatedAt:    rec.CreatedAt,
	}
	if recv.Direction != model.DirectionCredit {
		return fmt.Errorf("peer record rejected: expected a debit from the sender, got %s", rec.Direction)
	}

	counter := recv.Counterparty
	_, err := w.ledger.ApplyTransaction(ctx, ledger.Apply{
		Owner:  recv.Owner,
		Delta:  recv.Amount,
		Record: recv,
		Pending: &model.PendingUpdate{
			Owner:        recv.Owner,
			Delta:        recv.Amount,
			Kind:         model.UpdateCreditSelf,
			Counterparty: &counter,
		},
	})
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		w.log.Info("peer record already applied", "transaction_id", recv.ID)
		return nil
	}
	if err != nil {
		return err
	}

	w.requestReconcile("peer receipt")
	return nil
}

// SendPeer transmits an existing local transaction record to a peer device.
func (w *Wallet) SendPeer(ctx context.Context, addr, owner string, txID uuid.UUID) error {
	rec, err := w.ledger.TransactionByID(ctx, txID, owner)
	if err != nil {
		return err
	}
	if rec.Direction != model.DirectionDebit {
		return fmt.Errorf("only the sender's debit record can be handed to a peer")
	}
	return w.peers.Send(ctx, addr, *rec)
}

// Balance returns the owner's wallet. Online with no local copy it performs
// the first-contact sync, mirroring the authoritative balance locally.
func (w *Wallet) Balance(ctx context.Context, owner string) (*model.Account, error) {
	acc, err := w.ledger.Account(ctx, owner)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, ledger.ErrAccountNotFound) || !w.conn.Online() {
		return nil, err
	}

	racc, rerr := w.remote.FindAccountByOwner(ctx, owner)
	if rerr != nil {
		if errors.Is(rerr, remote.ErrNotFound) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, rerr
	}
	return w.ledger.MirrorRemote(ctx, owner, racc.ID, racc.Balance)
}

func (w *Wallet) History(ctx context.Context, accountID uuid.UUID) ([]model.Transaction, error) {
	return w.ledger.Transactions(ctx, accountID)
}

// Logout removes the local account and its history. Pending updates survive
// and are still drained by the worker.
func (w *Wallet) Logout(ctx context.Context, owner string) error {
	return w.ledger.DeleteAccount(ctx, owner)
}

func (w *Wallet) requestReconcile(reason string) {
	data, err := json.Marshal(model.ReconcileRequest{Reason: reason, At: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := w.bus.Publish(model.SubjectReconcile, data); err != nil {
		w.log.Warn("reconcile trigger publish failed", "error", err)
	}
}
