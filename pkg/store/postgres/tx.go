package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/bdlab/biblioteca/pkg/repository"
	"github.com/bdlab/biblioteca/pkg/store"
)

// Tx is a transaction on a Session. It moves from started to either committed
// or rolled back and never leaves a terminal state.
type Tx struct {
	tx      *sql.Tx
	ctx     context.Context
	session *Session

	mu    sync.Mutex
	state repository.TxState
}

var _ repository.Transaction = (*Tx)(nil)

// Context returns the context carrying this transaction.
func (t *Tx) Context() context.Context {
	return t.ctx
}

// State returns the current lifecycle state.
func (t *Tx) State() repository.TxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Commit durably applies the transaction. A failed commit leaves the
// transaction rolled back on the server, so the state becomes rolled back.
func (t *Tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Terminal() {
		return store.Errorf(store.ErrTransaction, "cannot commit a %s transaction", t.state)
	}

	err := t.tx.Commit()
	t.session.release(t)
	if err != nil {
		t.state = repository.TxRolledBack
		t.session.logger.Error("failed to commit transaction", "error", err)
		return store.Error(store.ErrTransaction, fmt.Errorf("failed to commit transaction: %w", err))
	}

	t.state = repository.TxCommitted
	t.session.logger.Debug("transaction committed")
	return nil
}

// Rollback discards the transaction. It is a no-op on a terminal transaction.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Terminal() {
		return nil
	}

	err := t.tx.Rollback()
	t.session.release(t)
	t.state = repository.TxRolledBack
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		t.session.logger.Error("failed to rollback transaction", "error", err)
		return store.Error(store.ErrTransaction, fmt.Errorf("failed to rollback transaction: %w", err))
	}

	t.session.logger.Debug("transaction rolled back")
	return nil
}
