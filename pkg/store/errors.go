package store

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection classifies failures to open, authenticate or bind a session.
	ErrConnection = errors.New("connection error")
	// ErrTransaction classifies begin/commit/rollback failures and invalid state transitions.
	ErrTransaction = errors.New("transaction error")
	// ErrInsert classifies constraint violations and malformed insert statements.
	ErrInsert = errors.New("insert error")
	// ErrQuery classifies read failures.
	ErrQuery = errors.New("query error")
)

// Error wraps cause with the given kind so that errors.Is matches both.
func Error(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

// Errorf wraps a formatted message with the given kind.
func Errorf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
