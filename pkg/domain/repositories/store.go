package repositories

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness constraint rejected the write.
	ErrAlreadyExists = errors.New("record already exists")
)

// Tx is the view of the store inside one transaction. Reads observe the
// writes already made in the same transaction.
type Tx interface {
	EdgeRepository
	GroupRepository
	BudgetRepository
}

// Store runs units of work atomically.
type Store interface {
	// RunInTx runs fn in a transaction. A non-nil error from fn rolls back every write.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}
