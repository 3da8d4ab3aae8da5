package shared

import "context"

// TransactionManager runs a function inside one storage transaction. The
// transaction travels in the context; repository implementations pick it up
// transparently, so domain services stay storage-agnostic.
type TransactionManager interface {
	// WithinTransaction executes fn atomically. Any error from fn rolls the
	// transaction back and is returned unchanged.
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// NopTransactionManager executes the function directly, without transactional
// guarantees. Used by in-memory implementations and tests.
type NopTransactionManager struct{}

// WithinTransaction implements TransactionManager.
func (NopTransactionManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
