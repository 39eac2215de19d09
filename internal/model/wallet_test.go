package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func validRecord() Transaction {
	return Transaction{
		ID:           uuid.New(),
		Owner:        "alice@example.com",
		Counterparty: "bob@example.com",
		Amount:       2500,
		Direction:    DirectionDebit,
		Status:       StatusPending,
		CreatedAt:    time.Now(),
	}
}

func TestTransactionValidate(t *testing.T) {
	if err := validRecord().Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	cases := map[string]func(*Transaction){
		"nil id":            func(r *Transaction) { r.ID = uuid.Nil },
		"zero amount":       func(r *Transaction) { r.Amount = 0 },
		"negative amount":   func(r *Transaction) { r.Amount = -5 },
		"bad direction":     func(r *Transaction) { r.Direction = "sideways" },
		"bad status":        func(r *Transaction) { r.Status = "done" },
		"no owner":          func(r *Transaction) { r.Owner = "" },
		"no counterparty":   func(r *Transaction) { r.Counterparty = "" },
	}
	for name, mutate := range cases {
		rec := validRecord()
		mutate(&rec)
		if err := rec.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestDirectionInvert(t *testing.T) {
	if DirectionDebit.Invert() != DirectionCredit {
		t.Error("debit should invert to credit")
	}
	if DirectionCredit.Invert() != DirectionDebit {
		t.Error("credit should invert to debit")
	}
}

func TestEnumValidity(t *testing.T) {
	if !UpdateCreditSelf.Valid() || !UpdateDebitNotify.Valid() {
		t.Error("known update kinds must be valid")
	}
	if UpdateKind("refund").Valid() {
		t.Error("unknown update kind must be invalid")
	}
	if Status("failed").Valid() {
		t.Error("unknown status must be invalid")
	}
}
