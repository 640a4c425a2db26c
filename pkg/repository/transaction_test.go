package repository

import (
	"context"
	"testing"
)

type ctxKey string

type fakeTransaction struct {
	ctx   context.Context
	state TxState
}

func (t *fakeTransaction) Commit() error {
	t.state = TxCommitted
	return nil
}

func (t *fakeTransaction) Rollback() error {
	if t.state.Terminal() {
		return nil
	}
	t.state = TxRolledBack
	return nil
}

func (t *fakeTransaction) Context() context.Context {
	return t.ctx
}

func (t *fakeTransaction) State() TxState {
	return t.state
}

func TestTransactionContract(t *testing.T) {
	base := context.WithValue(context.Background(), ctxKey("k"), "v")
	var tx Transaction = &fakeTransaction{ctx: base}

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if tx.State() != TxCommitted {
		t.Fatalf("expected committed, got %s", tx.State())
	}

	// deferred rollback after commit must not change the outcome
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if tx.State() != TxCommitted {
		t.Fatalf("expected committed after no-op rollback, got %s", tx.State())
	}

	if got := tx.Context().Value(ctxKey("k")); got != "v" {
		t.Fatalf("unexpected context value: %v", got)
	}
}

func TestTxState(t *testing.T) {
	tests := []struct {
		state    TxState
		name     string
		terminal bool
	}{
		{TxStarted, "started", false},
		{TxCommitted, "committed", true},
		{TxRolledBack, "rolled_back", true},
		{TxState(42), "unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
			if got := tt.state.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}
