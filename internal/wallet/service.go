package wallet

import (
	"context"

	"github.com/shopspring/decimal"
)

type Runner interface {
	WithStore(ctx context.Context, fn func(Store) error) error
}

// Service exposes wallet reads and manual credits to the HTTP layer. Order
// debits go through Ledger directly inside the order transactions.
type Service struct {
	runner Runner
	ledger *Ledger
}

func NewService(runner Runner, ledger *Ledger) *Service {
	return &Service{runner: runner, ledger: ledger}
}

func (s *Service) Balance(ctx context.Context, tenantID int64) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := s.runner.WithStore(ctx, func(st Store) error {
		var err error
		bal, err = st.Balance(ctx, tenantID)
		return err
	})
	return bal, err
}

func (s *Service) Entries(ctx context.Context, tenantID int64, limit int) ([]Entry, error) {
	var out []Entry
	err := s.runner.WithStore(ctx, func(st Store) error {
		var err error
		out, err = st.Entries(ctx, tenantID, limit)
		return err
	})
	return out, err
}

func (s *Service) Credit(ctx context.Context, tenantID int64, kind EntryKind, amount decimal.Decimal, note string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := s.runner.WithStore(ctx, func(st Store) error {
		var err error
		bal, err = s.ledger.Credit(ctx, st, tenantID, "", kind, amount, note)
		return err
	})
	return bal, err
}
