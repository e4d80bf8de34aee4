// Package tx carries a SQL transaction through context so that several stores
// can join one atomic unit without knowing about each other.
package tx

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sqlx.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts the transaction from context if present.
func From(ctx context.Context) (*sqlx.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sqlx.Tx)
	return tx, ok
}

// Runner provides the transactional boundary for one engine operation.
// Implementations wrap a database transaction or, in-memory, a coarse lock.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLRunner begins a *sqlx.Tx, injects it into context, and commits when fn
// returns nil. Any error rolls everything back: master, detail, and approval
// writes are all-or-nothing.
type SQLRunner struct {
	db *sqlx.DB
}

func NewSQLRunner(db *sqlx.DB) *SQLRunner {
	return &SQLRunner{db: db}
}

func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := From(ctx); ok {
		// Already inside a transaction; join it.
		return fn(ctx)
	}

	txx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(WithTx(ctx, txx)); err != nil {
		if rbErr := txx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := txx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type memTxKey struct{}

// MemoryRunner serializes operations with a single mutex. It backs the
// in-memory stores in tests, where atomicity means "no interleaving". Nested
// RunInTx calls join the outer run, matching SQLRunner's join semantics.
type MemoryRunner struct {
	mu sync.Mutex
}

func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{}
}

func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if owner, ok := ctx.Value(memTxKey{}).(*MemoryRunner); ok && owner == r {
		return fn(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(context.WithValue(ctx, memTxKey{}, r))
}
