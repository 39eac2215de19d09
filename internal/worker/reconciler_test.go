package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"walletd/internal/model"
	"walletd/internal/remote"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeQueue struct {
	entries   []model.PendingUpdate
	drainErr  error
	removeErr error // consumed by the next Remove call
}

func (f *fakeQueue) Drain(ctx context.Context) ([]model.PendingUpdate, error) {
	if f.drainErr != nil {
		return nil, f.drainErr
	}
	snapshot := make([]model.PendingUpdate, len(f.entries))
	copy(snapshot, f.entries)
	return snapshot, nil
}

func (f *fakeQueue) Remove(ctx context.Context, updateID int64) error {
	if f.removeErr != nil {
		err := f.removeErr
		f.removeErr = nil
		return err
	}
	for i, u := range f.entries {
		if u.ID == updateID {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("update %d not found", updateID)
}

type fakeWLedger struct {
	pending   []model.Transaction
	completed []uuid.UUID
	remaps    map[uuid.UUID]string
}

func newFakeWLedger() *fakeWLedger {
	return &fakeWLedger{remaps: make(map[uuid.UUID]string)}
}

func (f *fakeWLedger) PendingTransactions(ctx context.Context) ([]model.Transaction, error) {
	snapshot := make([]model.Transaction, len(f.pending))
	copy(snapshot, f.pending)
	return snapshot, nil
}

func (f *fakeWLedger) CompleteTransaction(ctx context.Context, id uuid.UUID) error {
	f.completed = append(f.completed, id)
	for i := range f.pending {
		if f.pending[i].ID == id {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeWLedger) RemapAccount(ctx context.Context, accountID uuid.UUID, remoteID string) error {
	f.remaps[accountID] = remoteID
	return nil
}

type fakeRemote struct {
	accounts   map[string]*remote.Account
	identities map[string]model.RemoteIdentity
	written    []model.Transaction
	applied    map[string]bool
	nextID     int
	failAll    bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		accounts:   make(map[string]*remote.Account),
		identities: make(map[string]model.RemoteIdentity),
		applied:    make(map[string]bool),
	}
}

func updateKey(u model.PendingUpdate) string {
	return fmt.Sprintf("%s:%d", u.AccountID, u.ID)
}

func (f *fakeRemote) Ping(ctx context.Context) error { return nil }

func (f *fakeRemote) FindAccountByOwner(ctx context.Context, owner string) (*remote.Account, error) {
	if f.failAll {
		return nil, errors.New("remote unreachable")
	}
	if acc, ok := f.accounts[owner]; ok {
		return acc, nil
	}
	return nil, remote.ErrNotFound
}

func (f *fakeRemote) AdjustBalance(ctx context.Context, accountID string, delta int64) (int64, error) {
	if f.failAll {
		return 0, errors.New("remote unreachable")
	}
	for _, acc := range f.accounts {
		if acc.ID == accountID {
			if acc.Balance+delta < 0 {
				return 0, remote.ErrInsufficientFunds
			}
			acc.Balance += delta
			return acc.Balance, nil
		}
	}
	return 0, remote.ErrNotFound
}

func (f *fakeRemote) ApplyUpdate(ctx context.Context, accountID string, u model.PendingUpdate) (int64, bool, error) {
	if f.failAll {
		return 0, false, errors.New("remote unreachable")
	}
	if f.applied[updateKey(u)] {
		for _, acc := range f.accounts {
			if acc.ID == accountID {
				return acc.Balance, false, nil
			}
		}
		return 0, false, remote.ErrNotFound
	}
	bal, err := f.AdjustBalance(ctx, accountID, u.Delta)
	if err != nil {
		return 0, false, err
	}
	f.applied[updateKey(u)] = true
	return bal, true, nil
}

func (f *fakeRemote) OpenAccountForUpdate(ctx context.Context, u model.PendingUpdate) (string, error) {
	if f.failAll {
		return "", errors.New("remote unreachable")
	}
	if f.applied[updateKey(u)] {
		if acc, ok := f.accounts[u.Owner]; ok {
			return acc.ID, nil
		}
		return "", remote.ErrNotFound
	}
	id, err := f.CreateAccount(ctx, u.Owner, u.Delta)
	if err != nil {
		return "", err
	}
	f.applied[updateKey(u)] = true
	return id, nil
}

func (f *fakeRemote) CreateAccount(ctx context.Context, owner string, openingBalance int64) (string, error) {
	f.nextID++
	id := fmt.Sprintf("srv-%d", f.nextID)
	f.accounts[owner] = &remote.Account{ID: id, Owner: owner, Balance: openingBalance}
	return id, nil
}

func (f *fakeRemote) FindOwnerIdentity(ctx context.Context, owner string) (*model.RemoteIdentity, error) {
	if f.failAll {
		return nil, errors.New("remote unreachable")
	}
	if ident, ok := f.identities[owner]; ok {
		return &ident, nil
	}
	return nil, remote.ErrNotFound
}

func (f *fakeRemote) WriteTransaction(ctx context.Context, rec model.Transaction) error {
	if f.failAll {
		return errors.New("remote unreachable")
	}
	for _, w := range f.written {
		if w.ID == rec.ID && w.Owner == rec.Owner {
			return nil
		}
	}
	f.written = append(f.written, rec)
	return nil
}

type fakeLock struct {
	held     bool
	synced   int
	acquires int
}

func (f *fakeLock) TryAcquire(ctx context.Context) (bool, error) {
	f.acquires++
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(ctx context.Context) error {
	f.held = false
	return nil
}

func (f *fakeLock) MarkSynced(ctx context.Context) error {
	f.synced++
	return nil
}

func newTestReconciler(q *fakeQueue, l *fakeWLedger, r *fakeRemote, lock *fakeLock) *Reconciler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewReconciler(q, l, r, online{}, lock, time.Minute, log)
}

type online struct{}

func (online) Online() bool { return true }

// ── tests ────────────────────────────────────────────────────────────────────

func TestRunOnceAppliesDeltaToExistingAccount(t *testing.T) {
	accID := uuid.New()
	q := &fakeQueue{entries: []model.PendingUpdate{
		{ID: 1, AccountID: accID, Owner: "alice@example.com", Delta: 500, Kind: model.UpdateCreditSelf},
	}}
	l := newFakeWLedger()
	r := newFakeRemote()
	r.accounts["alice@example.com"] = &remote.Account{ID: "srv-1", Owner: "alice@example.com", Balance: 100}
	lock := &fakeLock{}

	out, err := newTestReconciler(q, l, r, lock).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if out.Updates != 1 || out.Remaining != 0 || out.Retry {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if r.accounts["alice@example.com"].Balance != 600 {
		t.Errorf("remote balance = %d, want 600", r.accounts["alice@example.com"].Balance)
	}
	if len(q.entries) != 0 {
		t.Error("confirmed update must be removed from the queue")
	}
	if l.remaps[accID] != "srv-1" {
		t.Error("local account must be remapped to the server id")
	}
	if lock.synced != 1 {
		t.Error("a clean pass must record last-sync")
	}
}

func TestRunOnceLeavesUnknownOwnerQueued(t *testing.T) {
	q := &fakeQueue{entries: []model.PendingUpdate{
		{ID: 1, AccountID: uuid.New(), Owner: "stranger@example.com", Delta: 30, Kind: model.UpdateCreditSelf},
	}}
	lock := &fakeLock{}

	out, err := newTestReconciler(q, newFakeWLedger(), newFakeRemote(), lock).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !out.Retry || out.Remaining != 1 || out.Updates != 0 {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if len(q.entries) != 1 {
		t.Error("update for an unknown owner must stay queued")
	}
	if lock.synced != 0 {
		t.Error("a partial pass must not record last-sync")
	}
}

func TestRunOnceCreatesAccountForKnownIdentity(t *testing.T) {
	accID := uuid.New()
	q := &fakeQueue{entries: []model.PendingUpdate{
		{ID: 1, AccountID: accID, Owner: "bob@example.com", Delta: 30, Kind: model.UpdateCreditSelf},
	}}
	l := newFakeWLedger()
	r := newFakeRemote()
	r.identities["bob@example.com"] = model.RemoteIdentity{UserID: "u-2", Owner: "bob@example.com"}

	out, err := newTestReconciler(q, l, r, &fakeLock{}).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if out.Updates != 1 || out.Retry {
		t.Errorf("unexpected outcome: %+v", out)
	}
	acc := r.accounts["bob@example.com"]
	if acc == nil || acc.Balance != 30 {
		t.Fatalf("expected remote account opened with balance 30, got %+v", acc)
	}
	if l.remaps[accID] != acc.ID {
		t.Error("placeholder account must be remapped to the new server id")
	}
}

func TestRunOnceRejectsDebitOpening(t *testing.T) {
	q := &fakeQueue{entries: []model.PendingUpdate{
		{ID: 1, AccountID: uuid.New(), Owner: "bob@example.com", Delta: -30, Kind: model.UpdateDebitNotify},
	}}
	r := newFakeRemote()
	r.identities["bob@example.com"] = model.RemoteIdentity{UserID: "u-2", Owner: "bob@example.com"}

	out, err := newTestReconciler(q, newFakeWLedger(), r, &fakeLock{}).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !out.Retry || out.Remaining != 1 {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if len(r.accounts) != 0 {
		t.Error("a debit must never open a remote account")
	}
}

func TestRunOnceSyncsPendingTransactions(t *testing.T) {
	l := newFakeWLedger()
	txID := uuid.New()
	l.pending = []model.Transaction{{
		ID: txID, Owner: "alice@example.com", Counterparty: "bob@example.com",
		Amount: 30, Direction: model.DirectionDebit, Status: model.StatusPending,
	}}
	r := newFakeRemote()
	r.identities["bob@example.com"] = model.RemoteIdentity{UserID: "u-2", Owner: "bob@example.com"}
	lock := &fakeLock{}

	out, err := newTestReconciler(&fakeQueue{}, l, r, lock).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if out.Transactions != 1 || out.Retry {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if len(r.written) != 1 || r.written[0].ID != txID {
		t.Errorf("expected the transaction written remotely, got %+v", r.written)
	}
	if len(l.completed) != 1 || l.completed[0] != txID {
		t.Errorf("expected the transaction completed locally, got %v", l.completed)
	}
}

func TestRunOnceHoldsTransactionsForUnknownCounterparty(t *testing.T) {
	l := newFakeWLedger()
	l.pending = []model.Transaction{{
		ID: uuid.New(), Owner: "alice@example.com", Counterparty: "stranger@example.com",
		Amount: 30, Direction: model.DirectionDebit, Status: model.StatusPending,
	}}
	lock := &fakeLock{}

	out, err := newTestReconciler(&fakeQueue{}, l, newFakeRemote(), lock).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !out.Retry || out.Remaining != 1 || out.Transactions != 0 {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if len(l.completed) != 0 {
		t.Error("held transaction must stay pending locally")
	}
	if lock.synced != 0 {
		t.Error("a partial pass must not record last-sync")
	}
}

func TestRunOnceIsIdempotentWhenDrained(t *testing.T) {
	accID := uuid.New()
	q := &fakeQueue{entries: []model.PendingUpdate{
		{ID: 1, AccountID: accID, Owner: "alice@example.com", Delta: 500, Kind: model.UpdateCreditSelf},
	}}
	r := newFakeRemote()
	r.accounts["alice@example.com"] = &remote.Account{ID: "srv-1", Owner: "alice@example.com", Balance: 0}
	rec := newTestReconciler(q, newFakeWLedger(), r, &fakeLock{})

	if _, err := rec.RunOnce(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	out, err := rec.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if out.Updates != 0 || out.Transactions != 0 || out.Remaining != 0 || out.Retry {
		t.Errorf("second pass must be empty, got %+v", out)
	}
	if r.accounts["alice@example.com"].Balance != 500 {
		t.Errorf("balance double-applied: %d", r.accounts["alice@example.com"].Balance)
	}
}

func TestRunOnceRemoveFailureDoesNotDoubleApply(t *testing.T) {
	accID := uuid.New()
	q := &fakeQueue{
		entries: []model.PendingUpdate{
			{ID: 1, AccountID: accID, Owner: "alice@example.com", Delta: 500, Kind: model.UpdateCreditSelf},
		},
		removeErr: errors.New("local db hiccup"),
	}
	r := newFakeRemote()
	r.accounts["alice@example.com"] = &remote.Account{ID: "srv-1", Owner: "alice@example.com", Balance: 100}
	rec := newTestReconciler(q, newFakeWLedger(), r, &fakeLock{})

	out, err := rec.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if !out.Retry || out.Remaining != 1 {
		t.Errorf("remove failure must flag retry, got %+v", out)
	}
	if r.accounts["alice@example.com"].Balance != 600 {
		t.Fatalf("first pass balance = %d, want 600", r.accounts["alice@example.com"].Balance)
	}

	// The entry is re-seen on the next pass; the keyed remote write must
	// skip it, not count it again.
	out, err = rec.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if out.Updates != 1 || out.Retry {
		t.Errorf("second pass should settle the leftover entry, got %+v", out)
	}
	if r.accounts["alice@example.com"].Balance != 600 {
		t.Errorf("re-seen update was counted again: balance = %d, want 600", r.accounts["alice@example.com"].Balance)
	}
	if len(q.entries) != 0 {
		t.Error("entry must be removed once the queue recovers")
	}
}

func TestRunOnceRemoteFailureMarksRetry(t *testing.T) {
	q := &fakeQueue{entries: []model.PendingUpdate{
		{ID: 1, AccountID: uuid.New(), Owner: "alice@example.com", Delta: 500, Kind: model.UpdateCreditSelf},
	}}
	r := newFakeRemote()
	r.failAll = true
	lock := &fakeLock{}

	out, err := newTestReconciler(q, newFakeWLedger(), r, lock).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !out.Retry || out.Remaining != 1 {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if len(q.entries) != 1 {
		t.Error("update must survive a remote failure")
	}
}

func TestRunOnceDrainErrorAborts(t *testing.T) {
	q := &fakeQueue{drainErr: errors.New("local db gone")}
	out, err := newTestReconciler(q, newFakeWLedger(), newFakeRemote(), &fakeLock{}).RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected drain failure to surface")
	}
	if !out.Retry {
		t.Error("drain failure must request a retry")
	}
}

func TestRunLockedSkipsWhenHeld(t *testing.T) {
	lock := &fakeLock{held: true}
	q := &fakeQueue{entries: []model.PendingUpdate{
		{ID: 1, AccountID: uuid.New(), Owner: "alice@example.com", Delta: 500, Kind: model.UpdateCreditSelf},
	}}
	rec := newTestReconciler(q, newFakeWLedger(), newFakeRemote(), lock)

	rec.runLocked(context.Background(), "test trigger")
	if len(q.entries) != 1 {
		t.Error("a held lock must prevent the pass from running")
	}
	if lock.acquires != 1 {
		t.Errorf("expected exactly one acquire attempt, got %d", lock.acquires)
	}
}
