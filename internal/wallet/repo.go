package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-pod-fulfillment/internal/postgres"
)

// Amounts cross the driver boundary as text so NUMERIC keeps full precision.
type PGStore struct{ DB postgres.DBTX }

func NewPGStore(db postgres.DBTX) *PGStore { return &PGStore{DB: db} }

func (r *PGStore) LockBalance(ctx context.Context, tenantID int64) (decimal.Decimal, error) {
	return r.balance(ctx, `SELECT balance::text FROM wallets WHERE tenant_id=$1 FOR UPDATE`, tenantID)
}

func (r *PGStore) Balance(ctx context.Context, tenantID int64) (decimal.Decimal, error) {
	return r.balance(ctx, `SELECT balance::text FROM wallets WHERE tenant_id=$1`, tenantID)
}

func (r *PGStore) balance(ctx context.Context, q string, tenantID int64) (decimal.Decimal, error) {
	var s string
	if err := r.DB.QueryRow(ctx, q, tenantID).Scan(&s); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: tenant %d", ErrNotFound, tenantID)
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(s)
}

func (r *PGStore) SetBalance(ctx context.Context, tenantID int64, balance decimal.Decimal) error {
	ct, err := r.DB.Exec(ctx, `UPDATE wallets SET balance=$2::numeric, updated_at=now() WHERE tenant_id=$1`,
		tenantID, balance.String())
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: tenant %d", ErrNotFound, tenantID)
	}
	return nil
}

func (r *PGStore) AppendEntry(ctx context.Context, e *Entry) error {
	return r.DB.QueryRow(ctx, `
		INSERT INTO ledger_entries(tenant_id, order_id, kind, amount, balance, note, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7)
		RETURNING id`,
		e.TenantID, e.OrderID, string(e.Kind), e.Amount.String(), e.Balance.String(), e.Note, e.CreatedAt,
	).Scan(&e.ID)
}

func (r *PGStore) Entries(ctx context.Context, tenantID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.Query(ctx, `
		SELECT id, tenant_id, order_id, kind, amount::text, balance::text, note, created_at
		FROM ledger_entries WHERE tenant_id=$1 ORDER BY id DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var kind, amount, balance string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.OrderID, &kind, &amount, &balance, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = EntryKind(kind)
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if e.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PGRunner opens a transaction per call and hands fn a Store bound to it.
type PGRunner struct{ Runner *postgres.Runner }

func (p PGRunner) WithStore(ctx context.Context, fn func(Store) error) error {
	return p.Runner.InTx(ctx, func(tx pgx.Tx) error {
		return fn(NewPGStore(tx))
	})
}
