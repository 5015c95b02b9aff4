// Package tx defines the transaction boundary abstraction domain services
// depend on, keeping them decoupled from the storage implementation.
package tx

import (
	"context"
)

// Manager runs a function inside a storage transaction.
// The concrete implementation lives in infrastructure/storage/postgres.
type Manager interface {
	// RunInTransaction executes fn within a transaction: an error from fn
	// rolls back, success commits. Nested calls reuse the transaction
	// already carried in the context.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
