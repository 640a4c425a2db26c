package repository

import "context"

// TxState is the lifecycle position of a transaction.
// Started is the only non-terminal state.
type TxState int

const (
	TxStarted TxState = iota
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxStarted:
		return "started"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s TxState) Terminal() bool {
	return s == TxCommitted || s == TxRolledBack
}

// TransactionManager provides transaction management capabilities
type TransactionManager interface {
	// WithTransaction executes the given function within a transaction
	// If the function returns an error, the transaction is rolled back
	// Otherwise, the transaction is committed
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// UnitOfWork provides the ability to begin transactions
type UnitOfWork interface {
	Begin(ctx context.Context) (Transaction, error)
}

// Transaction represents an active database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction. It is a no-op once the
	// transaction reached a terminal state, so it can be deferred.
	Rollback() error

	// Context returns the context associated with this transaction.
	// Statements executed with it run inside the transaction.
	Context() context.Context

	// State returns the current lifecycle state
	State() TxState
}
