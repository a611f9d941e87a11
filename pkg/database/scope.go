package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx operations repositories need. Both
// *pgxpool.Pool and pgx.Tx satisfy it, so a repository joins whatever
// scope the caller established: the shared pool for plain reads, or an
// open transaction for commit paths.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type querierContextKey struct{}

// WithQuerier stores a database scope in the context.
func WithQuerier(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, querierContextKey{}, q)
}

// GetQuerier retrieves the database scope from the context.
// Returns nil and false if not present.
func GetQuerier(ctx context.Context) (Querier, bool) {
	q, ok := ctx.Value(querierContextKey{}).(Querier)
	return q, ok
}

// WithPool returns a context scoped to the shared connection pool.
func (db *DB) WithPool(ctx context.Context) context.Context {
	return WithQuerier(ctx, db.Pool)
}

// InTx runs fn inside a single transaction. The context passed to fn
// carries the transaction as its database scope, so every repository
// call inside fn joins it; the commit and all writes succeed or fail
// together.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txCtx := WithQuerier(ctx, tx)
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
