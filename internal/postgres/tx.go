package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConflict is returned when a transaction keeps failing on serialization
// or deadlock errors after all retries.
var ErrConflict = errors.New("concurrent update conflict")

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so repositories can run
// inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Runner struct {
	Pool       *pgxpool.Pool
	MaxRetries int
	Backoff    time.Duration
}

// InTx runs fn in a read-committed transaction. Row locks taken by fn
// (SELECT ... FOR UPDATE) serialize concurrent writers; deadlocks and
// serialization failures are retried.
func (r *Runner) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	backoff := r.Backoff
	if backoff <= 0 {
		backoff = 20 * time.Millisecond
	}
	for attempt := 0; ; attempt++ {
		err := r.once(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt >= r.MaxRetries {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(attempt+1)):
		}
	}
}

func (r *Runner) once(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// IsRetryable reports serialization_failure (40001) and deadlock_detected (40P01).
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
