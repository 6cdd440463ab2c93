// Package txn defines the unit-of-work contract used by domain services.
//
// Implementations carry the open transaction in the context: repositories
// called with that context take part in it, and nested InTx calls join the
// outer transaction instead of opening a new one.
package txn

import "context"

// Runner executes fn inside a single transaction. The transaction commits
// when fn returns nil and rolls back otherwise.
type Runner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// InTx implements Runner.
func (f RunnerFunc) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}
