package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-pod-fulfillment/internal/wallet"
)

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr[T any](v T) *T { return &v }

type fakeInvoice struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeInvoice) Generate(_ context.Context, o OrderSummary, _ decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "https://invoices.test/" + o.OrderID + ".pdf", nil
}

func (f *fakeInvoice) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeStock reports products listed in short as unavailable.
type fakeStock struct {
	short map[int64]bool
	err   error
}

func (f *fakeStock) ReduceStock(_ context.Context, lines []Line) ([]StockResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]StockResult, 0, len(lines))
	for _, l := range lines {
		out = append(out, StockResult{LineID: l.ID, StockAvailable: !f.short[l.ProductID]})
	}
	return out, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventLog) hook() Hook {
	return HookFunc{HookName: "recorder", Fn: func(_ context.Context, ev Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
		return nil
	}}
}

func (r *eventLog) ofType(typ string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type memDedup struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (d *memDedup) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.keys[key] {
		return false, nil
	}
	d.keys[key] = true
	return true, nil
}

func (d *memDedup) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, key)
	return nil
}

type fixture struct {
	db      *memDB
	svc     *Service
	eng     *Engine
	invoice *fakeInvoice
	stock   *fakeStock
	dedup   *memDedup
	events  *eventLog
}

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		db:      newMemDB(),
		invoice: &fakeInvoice{},
		stock:   &fakeStock{short: map[int64]bool{}},
		dedup:   &memDedup{keys: map[string]bool{}},
		events:  &eventLog{},
	}
	f.db.seedTenant(1, "1000", "ops@tenant1.test")
	f.db.seedTenant(2, "250", "ops@tenant2.test")
	d := Deps{
		DB:      f.db,
		Stock:   f.stock,
		Invoice: f.invoice,
		Hooks:   Hooks{f.events.hook()},
		Dedup:   f.dedup,
		Log:     zaptest.NewLogger(t),
		Now:     func() time.Time { return fixedNow },
	}
	for _, o := range opts {
		o(&d)
	}
	f.svc = NewService(d)
	f.eng = NewEngine(d)
	return f
}

// courierOrder is two lines, three units, 300.00 in total.
func courierOrder(tenantID int64, status Status) CreateInput {
	return CreateInput{
		TenantID: tenantID,
		ActorID:  9,
		Lines: []LineInput{
			{ProductID: 11, Quantity: 2, UnitCost: dec("100")},
			{ProductID: 12, Quantity: 1, UnitCost: dec("100")},
		},
		Delivery: &Delivery{
			Name: "Rina", Phone: "0812", Email: "buyer@example.test",
			Address: "Jl. Merdeka 1", Pincode: "40111",
		},
		TotalAmount: dec("300"),
		Status:      status,
	}
}

func (f *fixture) create(t *testing.T, in CreateInput) CreateResult {
	t.Helper()
	res, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	return res
}

// picklisted returns a live order of tenant 1 already at Picklist Generated.
func (f *fixture) picklisted(t *testing.T) CreateResult {
	t.Helper()
	res := f.create(t, courierOrder(1, StatusLive))
	out := f.eng.GeneratePicklist(context.Background(), []Tuple{{HeaderID: res.HeaderID, ActorID: 9}})
	require.Len(t, out.Applied, 1)
	return res
}

func (f *fixture) bulk(t *testing.T, target Status, tuples ...Tuple) BulkResult {
	t.Helper()
	res, err := f.eng.BulkTransition(context.Background(), target, tuples)
	require.NoError(t, err)
	return res
}

func (f *fixture) header(id int64) (h Header) {
	f.db.read(func(s *memState) { h = s.headers[id] })
	return h
}

func (f *fixture) lines(id int64) []Line {
	var out []Line
	f.db.read(func(s *memState) { out, _ = (&memStore{db: f.db}).Lines(context.Background(), id) })
	return out
}

func (f *fixture) units(id int64) []Unit {
	var out []Unit
	f.db.read(func(s *memState) { out, _ = (&memStore{db: f.db}).Units(context.Background(), id) })
	return out
}

func (f *fixture) logs(id int64) []OrderLog {
	var out []OrderLog
	f.db.read(func(s *memState) { out, _ = (&memStore{db: f.db}).Logs(context.Background(), id) })
	return out
}

func (f *fixture) balance(tenantID int64) (b decimal.Decimal) {
	f.db.read(func(s *memState) { b = s.balances[tenantID] })
	return b
}

func (f *fixture) entries(tenantID int64) []wallet.Entry {
	var out []wallet.Entry
	f.db.read(func(s *memState) {
		for _, e := range s.entries {
			if e.TenantID == tenantID {
				out = append(out, e)
			}
		}
	})
	return out
}

func unitStatuses(units []Unit) []Status {
	out := make([]Status, len(units))
	for i, u := range units {
		out[i] = u.Status
	}
	return out
}

func requireAll(t *testing.T, want Status, got []Status) {
	t.Helper()
	for _, s := range got {
		require.Equal(t, want, s)
	}
}

var errBoom = errors.New("boom")
