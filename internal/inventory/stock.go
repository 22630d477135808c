package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pod-fulfillment/internal/orders"
	"github.com/ariefcatur/go-pod-fulfillment/internal/postgres"
)

// Store decrements one variant and reports what is left. found is false for
// an unknown variant.
type Store interface {
	Decrement(ctx context.Context, variantID int64, qty int) (remaining int, found bool, err error)
}

type Runner interface {
	WithStore(ctx context.Context, fn func(Store) error) error
}

// Service implements orders.StockService. Decrements are unconditional:
// concurrent orders may both take the last piece, and a line whose variant
// ends at or below zero is reported unavailable instead of blocking.
type Service struct {
	runner Runner
	log    *zap.Logger
}

func NewService(runner Runner, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{runner: runner, log: log}
}

// ReduceStock decrements every line in one transaction. Lines without a
// variant are not stock-tracked and always count as available.
func (s *Service) ReduceStock(ctx context.Context, lines []orders.Line) ([]orders.StockResult, error) {
	var out []orders.StockResult
	err := s.runner.WithStore(ctx, func(st Store) error {
		out = make([]orders.StockResult, 0, len(lines))
		for _, l := range lines {
			if l.VariantID == nil {
				out = append(out, orders.StockResult{LineID: l.ID, StockAvailable: true})
				continue
			}
			remaining, found, err := st.Decrement(ctx, *l.VariantID, l.Quantity)
			if err != nil {
				return err
			}
			if !found {
				s.log.Warn("unknown variant on order line",
					zap.Int64("line_id", l.ID), zap.Int64("variant_id", *l.VariantID))
			}
			out = append(out, orders.StockResult{LineID: l.ID, StockAvailable: found && remaining > 0})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type PGStore struct{ DB postgres.DBTX }

func (r PGStore) Decrement(ctx context.Context, variantID int64, qty int) (int, bool, error) {
	var remaining int
	err := r.DB.QueryRow(ctx,
		`UPDATE variants SET quantity = quantity - $2 WHERE id = $1 RETURNING quantity`,
		variantID, qty).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return remaining, true, nil
}

type PGRunner struct{ Runner *postgres.Runner }

func (p PGRunner) WithStore(ctx context.Context, fn func(Store) error) error {
	return p.Runner.InTx(ctx, func(tx pgx.Tx) error {
		return fn(PGStore{DB: tx})
	})
}
