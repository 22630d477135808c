//go:build integration

package wallet

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-pod-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-pod-fulfillment/internal/postgres/pgtest"
)

func TestPGStore_ConcurrentDebitsSerialize(t *testing.T) {
	pool := pgtest.Start(t)
	pgtest.SeedTenant(t, pool, 1, "ops@tenant1.test", "100")
	ctx := context.Background()

	ledger := NewLedger(zaptest.NewLogger(t))
	runner := PGRunner{Runner: &postgres.Runner{Pool: pool, MaxRetries: 5}}

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := runner.WithStore(ctx, func(s Store) error {
				_, err := ledger.Debit(ctx, s, 1, "1_x", dec("10"))
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	svc := NewService(runner, ledger)
	bal, err := svc.Balance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, dec("-100").Equal(bal), bal.String())

	entries, err := svc.Entries(ctx, 1, 100)
	require.NoError(t, err)
	require.Len(t, entries, n)
	seen := map[string]bool{}
	for _, e := range entries {
		assert.Equal(t, EntryOrderDebit, e.Kind)
		seen[e.Balance.String()] = true
	}
	assert.Len(t, seen, n, "every debit observed a distinct running balance")
	assert.True(t, dec("-100").Equal(entries[0].Balance), "newest entry first")
}

func TestPGStore_CreditAndMissingWallet(t *testing.T) {
	pool := pgtest.Start(t)
	pgtest.SeedTenant(t, pool, 1, "ops@tenant1.test", "0")
	ctx := context.Background()

	svc := NewService(PGRunner{Runner: &postgres.Runner{Pool: pool}}, NewLedger(nil))

	bal, err := svc.Credit(ctx, 1, EntryRecharge, dec("250.75"), "bank transfer")
	require.NoError(t, err)
	assert.True(t, dec("250.75").Equal(bal))

	entries, err := svc.Entries(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bank transfer", entries[0].Note)

	_, err = svc.Credit(ctx, 1, EntryRecharge, dec("0"), "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Balance(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}
