package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pod-fulfillment/internal/metrics"
)

var (
	ErrNotFound      = errors.New("wallet not found")
	ErrInvalidAmount = errors.New("invalid amount")
)

type EntryKind string

const (
	EntryOrderDebit EntryKind = "order_debit"
	EntryRecharge   EntryKind = "recharge"
	EntryAdjustment EntryKind = "adjustment"
)

// Entry is an append-only ledger row. Balance is the wallet balance right
// after Amount was applied.
type Entry struct {
	ID        int64           `json:"id"`
	TenantID  int64           `json:"tenant_id"`
	OrderID   string          `json:"order_id,omitempty"`
	Kind      EntryKind       `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is bound to a single transaction when used for writes.
type Store interface {
	// LockBalance reads the balance and holds a row lock until the transaction ends.
	LockBalance(ctx context.Context, tenantID int64) (decimal.Decimal, error)
	Balance(ctx context.Context, tenantID int64) (decimal.Decimal, error)
	SetBalance(ctx context.Context, tenantID int64, balance decimal.Decimal) error
	AppendEntry(ctx context.Context, e *Entry) error
	Entries(ctx context.Context, tenantID int64, limit int) ([]Entry, error)
}

type Ledger struct {
	log *zap.Logger
	now func() time.Time
}

func NewLedger(log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{log: log, now: time.Now}
}

// CheckFunds locks the wallet row and reports whether balance >= amount.
// Calling it inside the transaction that later debits keeps the check and
// the debit serialized against other writers.
func (l *Ledger) CheckFunds(ctx context.Context, s Store, tenantID int64, amount decimal.Decimal) (bool, error) {
	bal, err := s.LockBalance(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return bal.GreaterThanOrEqual(amount), nil
}

// Debit subtracts amount and appends an order_debit entry. The resulting
// balance may be negative; callers that must not overdraw check funds first.
func (l *Ledger) Debit(ctx context.Context, s Store, tenantID int64, orderID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: debit %s", ErrInvalidAmount, amount)
	}
	bal, err := l.apply(ctx, s, tenantID, orderID, EntryOrderDebit, amount.Neg(), "")
	if err != nil {
		return decimal.Zero, err
	}
	if bal.IsNegative() {
		l.log.Warn("wallet balance went negative",
			zap.Int64("tenant_id", tenantID),
			zap.String("order_id", orderID),
			zap.String("balance", bal.String()),
		)
	}
	return bal, nil
}

// Credit adds amount as a recharge or adjustment entry.
func (l *Ledger) Credit(ctx context.Context, s Store, tenantID int64, orderID string, kind EntryKind, amount decimal.Decimal, note string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: credit %s", ErrInvalidAmount, amount)
	}
	if kind != EntryRecharge && kind != EntryAdjustment {
		return decimal.Zero, fmt.Errorf("%w: credit kind %q", ErrInvalidAmount, kind)
	}
	return l.apply(ctx, s, tenantID, orderID, kind, amount, note)
}

func (l *Ledger) apply(ctx context.Context, s Store, tenantID int64, orderID string, kind EntryKind, delta decimal.Decimal, note string) (decimal.Decimal, error) {
	bal, err := s.LockBalance(ctx, tenantID)
	if err != nil {
		return decimal.Zero, err
	}
	next := bal.Add(delta)
	if err := s.SetBalance(ctx, tenantID, next); err != nil {
		return decimal.Zero, fmt.Errorf("set balance: %w", err)
	}
	e := &Entry{
		TenantID:  tenantID,
		OrderID:   orderID,
		Kind:      kind,
		Amount:    delta,
		Balance:   next,
		Note:      note,
		CreatedAt: l.now().UTC(),
	}
	if err := s.AppendEntry(ctx, e); err != nil {
		return decimal.Zero, fmt.Errorf("append ledger entry: %w", err)
	}
	metrics.WalletOperations.WithLabelValues(string(kind)).Inc()
	return next, nil
}
