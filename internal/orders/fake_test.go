package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-pod-fulfillment/internal/wallet"
)

type rack struct{ available, occupied int }

type memState struct {
	seq        int64
	tenants    map[int64]Contact
	balances   map[int64]decimal.Decimal
	entries    []wallet.Entry
	counters   map[int64]int64
	carts      map[int64]int64
	headers    map[int64]Header
	lines      map[int64]Line
	units      map[int64]Unit
	deliveries map[int64]Delivery
	logs       []OrderLog
	racks      map[int64]rack
}

func newMemState() *memState {
	return &memState{
		tenants:    map[int64]Contact{},
		balances:   map[int64]decimal.Decimal{},
		counters:   map[int64]int64{},
		carts:      map[int64]int64{},
		headers:    map[int64]Header{},
		lines:      map[int64]Line{},
		units:      map[int64]Unit{},
		deliveries: map[int64]Delivery{},
		racks:      map[int64]rack{},
	}
}

func (s *memState) clone() *memState {
	return &memState{
		seq:        s.seq,
		tenants:    clone(s.tenants),
		balances:   clone(s.balances),
		entries:    slices.Clone(s.entries),
		counters:   clone(s.counters),
		carts:      clone(s.carts),
		headers:    clone(s.headers),
		lines:      clone(s.lines),
		units:      clone(s.units),
		deliveries: clone(s.deliveries),
		logs:       slices.Clone(s.logs),
		racks:      clone(s.racks),
	}
}

func clone[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// memDB is a transactional fake: InTx serializes callers and restores the
// snapshot taken at begin when fn fails.
type memDB struct {
	mu       sync.Mutex
	st       *memState
	failUnit map[int64]bool
}

func newMemDB() *memDB { return &memDB{st: newMemState(), failUnit: map[int64]bool{}} }

func (db *memDB) InTx(_ context.Context, fn func(tx Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	snap := db.st.clone()
	if err := fn(Tx{Orders: &memStore{db: db}, Wallet: &memWallet{db: db}}); err != nil {
		db.st = snap
		return err
	}
	return nil
}

// read gives tests a consistent view of committed state.
func (db *memDB) read(fn func(s *memState)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	fn(db.st)
}

func (db *memDB) seedTenant(id int64, balance string, email string) {
	db.read(func(s *memState) {
		s.tenants[id] = Contact{Name: fmt.Sprintf("tenant-%d", id), Email: email}
		s.balances[id] = decimal.RequireFromString(balance)
	})
}

type memWallet struct{ db *memDB }

func (w *memWallet) LockBalance(ctx context.Context, tenantID int64) (decimal.Decimal, error) {
	return w.Balance(ctx, tenantID)
}

func (w *memWallet) Balance(_ context.Context, tenantID int64) (decimal.Decimal, error) {
	b, ok := w.db.st.balances[tenantID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: tenant %d", wallet.ErrNotFound, tenantID)
	}
	return b, nil
}

func (w *memWallet) SetBalance(_ context.Context, tenantID int64, balance decimal.Decimal) error {
	w.db.st.balances[tenantID] = balance
	return nil
}

func (w *memWallet) AppendEntry(_ context.Context, e *wallet.Entry) error {
	e.ID = int64(len(w.db.st.entries) + 1)
	w.db.st.entries = append(w.db.st.entries, *e)
	return nil
}

func (w *memWallet) Entries(_ context.Context, tenantID int64, limit int) ([]wallet.Entry, error) {
	var out []wallet.Entry
	for i := len(w.db.st.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if w.db.st.entries[i].TenantID == tenantID {
			out = append(out, w.db.st.entries[i])
		}
	}
	return out, nil
}

type memStore struct{ db *memDB }

func (m *memStore) s() *memState { return m.db.st }

func (m *memStore) next() int64 {
	m.s().seq++
	return m.s().seq
}

func matches(cur Status, from []Status) bool {
	return len(from) == 0 || slices.Contains(from, cur)
}

func (m *memStore) DeleteCartRows(_ context.Context, tenantID int64, cartIDs []int64) error {
	for _, id := range cartIDs {
		if m.s().carts[id] == tenantID {
			delete(m.s().carts, id)
		}
	}
	return nil
}

func (m *memStore) NextReference(_ context.Context, tenantID int64) (int64, error) {
	m.s().counters[tenantID]++
	return m.s().counters[tenantID], nil
}

func (m *memStore) TenantContact(_ context.Context, tenantID int64) (Contact, error) {
	c, ok := m.s().tenants[tenantID]
	if !ok {
		return c, fmt.Errorf("tenant %d: %w", tenantID, ErrNotFound)
	}
	return c, nil
}

func (m *memStore) InsertHeader(_ context.Context, h *Header) error {
	for _, o := range m.s().headers {
		if o.TenantID == h.TenantID && o.ReferenceNumber == h.ReferenceNumber {
			return errors.New("duplicate reference number")
		}
	}
	h.ID = m.next()
	h.CreatedAt, h.UpdatedAt = time.Now(), time.Now()
	m.s().headers[h.ID] = *h
	return nil
}

func (m *memStore) InsertLines(_ context.Context, lines []Line) error {
	for i := range lines {
		lines[i].ID = m.next()
		m.s().lines[lines[i].ID] = lines[i]
	}
	return nil
}

func (m *memStore) InsertUnits(_ context.Context, units []Unit) error {
	for i := range units {
		for _, u := range m.s().units {
			if u.UnitCode == units[i].UnitCode {
				return fmt.Errorf("duplicate unit code %s", u.UnitCode)
			}
		}
		units[i].ID = m.next()
		m.s().units[units[i].ID] = units[i]
	}
	return nil
}

func (m *memStore) InsertDelivery(_ context.Context, d Delivery) error {
	m.s().deliveries[d.HeaderID] = d
	return nil
}

func (m *memStore) UpdateDelivery(_ context.Context, d Delivery) error {
	m.s().deliveries[d.HeaderID] = d
	return nil
}

func (m *memStore) InsertLog(_ context.Context, l OrderLog) error {
	l.ID = m.next()
	m.s().logs = append(m.s().logs, l)
	return nil
}

func (m *memStore) GetHeader(_ context.Context, headerID int64) (Header, error) {
	h, ok := m.s().headers[headerID]
	if !ok {
		return h, fmt.Errorf("header %d: %w", headerID, ErrNotFound)
	}
	return h, nil
}

func (m *memStore) LockHeader(ctx context.Context, headerID int64) (Header, error) {
	return m.GetHeader(ctx, headerID)
}

func (m *memStore) HeaderByOrderID(_ context.Context, orderID string) (Header, error) {
	for _, h := range m.s().headers {
		if h.OrderID == orderID {
			return h, nil
		}
	}
	return Header{}, fmt.Errorf("header %s: %w", orderID, ErrNotFound)
}

func (m *memStore) Lines(_ context.Context, headerID int64) ([]Line, error) {
	var out []Line
	for _, l := range m.s().lines {
		if l.HeaderID == headerID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) Units(_ context.Context, headerID int64) ([]Unit, error) {
	var out []Unit
	for _, u := range m.s().units {
		if u.HeaderID == headerID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UnitByCode(_ context.Context, code string) (Unit, error) {
	for _, u := range m.s().units {
		if u.UnitCode == code {
			return u, nil
		}
	}
	return Unit{}, fmt.Errorf("unit %s: %w", code, ErrNotFound)
}

func (m *memStore) Delivery(_ context.Context, headerID int64) (*Delivery, error) {
	d, ok := m.s().deliveries[headerID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *memStore) Logs(_ context.Context, headerID int64) ([]OrderLog, error) {
	var out []OrderLog
	for _, l := range m.s().logs {
		if l.HeaderID == headerID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) List(_ context.Context, tenantID int64, statuses []Status, limit, offset int) ([]Header, error) {
	var out []Header
	for _, h := range m.s().headers {
		if (tenantID == 0 || h.TenantID == tenantID) && (len(statuses) == 0 || slices.Contains(statuses, h.Status)) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) DeleteOrder(ctx context.Context, headerID int64) (int64, error) {
	if _, ok := m.s().headers[headerID]; !ok {
		return 0, nil
	}
	if err := m.ReleaseRack(ctx, headerID); err != nil {
		return 0, err
	}
	delete(m.s().headers, headerID)
	delete(m.s().deliveries, headerID)
	for id, l := range m.s().lines {
		if l.HeaderID == headerID {
			delete(m.s().lines, id)
		}
	}
	for id, u := range m.s().units {
		if u.HeaderID == headerID {
			delete(m.s().units, id)
		}
	}
	m.s().logs = slices.DeleteFunc(m.s().logs, func(l OrderLog) bool { return l.HeaderID == headerID })
	return 1, nil
}

func (m *memStore) SetHeaderStatus(_ context.Context, headerID int64, to Status, from ...Status) (int64, error) {
	h, ok := m.s().headers[headerID]
	if !ok || !matches(h.Status, from) {
		return 0, nil
	}
	h.Status = to
	m.s().headers[headerID] = h
	return 1, nil
}

func (m *memStore) SetLineStatus(_ context.Context, lineID int64, to Status, from ...Status) (int64, error) {
	l, ok := m.s().lines[lineID]
	if !ok || !matches(l.Status, from) {
		return 0, nil
	}
	l.Status = to
	m.s().lines[lineID] = l
	return 1, nil
}

func (m *memStore) SetLinesStatus(_ context.Context, headerID int64, to Status, from ...Status) (int64, error) {
	var n int64
	for id, l := range m.s().lines {
		if l.HeaderID == headerID && matches(l.Status, from) {
			l.Status = to
			m.s().lines[id] = l
			n++
		}
	}
	return n, nil
}

func (m *memStore) SetUnitStatus(_ context.Context, unitID int64, to Status, at time.Time, from ...Status) (int64, error) {
	if m.db.failUnit[unitID] {
		return 0, fmt.Errorf("unit %d: connection reset", unitID)
	}
	u, ok := m.s().units[unitID]
	if !ok || !matches(u.Status, from) {
		return 0, nil
	}
	u.Status, u.UpdatedAt = to, at
	m.s().units[unitID] = u
	return 1, nil
}

func (m *memStore) SetUnitsStatus(_ context.Context, headerID int64, to Status, at time.Time, from ...Status) (int64, error) {
	return m.setUnits(func(u Unit) bool { return u.HeaderID == headerID }, to, at, from)
}

func (m *memStore) SetLineUnitsStatus(_ context.Context, lineID int64, to Status, at time.Time, from ...Status) (int64, error) {
	return m.setUnits(func(u Unit) bool { return u.LineID == lineID }, to, at, from)
}

func (m *memStore) setUnits(pick func(Unit) bool, to Status, at time.Time, from []Status) (int64, error) {
	var n int64
	for id, u := range m.s().units {
		if pick(u) && matches(u.Status, from) {
			u.Status, u.UpdatedAt = to, at
			m.s().units[id] = u
			n++
		}
	}
	return n, nil
}

func (m *memStore) UpdateTotals(_ context.Context, headerID int64, orderValue, deliveryCharge, total decimal.Decimal) error {
	h := m.s().headers[headerID]
	h.OrderValue, h.DeliveryCharge, h.TotalAmount = orderValue, deliveryCharge, total
	m.s().headers[headerID] = h
	return nil
}

func (m *memStore) SetInvoiceURL(_ context.Context, headerID int64, url string) error {
	h := m.s().headers[headerID]
	h.InvoiceURL = url
	m.s().headers[headerID] = h
	return nil
}

func (m *memStore) MarkSettled(_ context.Context, headerID int64, at time.Time) error {
	h := m.s().headers[headerID]
	h.SettledAt = &at
	m.s().headers[headerID] = h
	return nil
}

func (m *memStore) SetAWB(_ context.Context, headerID int64, awb string) error {
	h := m.s().headers[headerID]
	h.AWBCode = awb
	m.s().headers[headerID] = h
	return nil
}

func (m *memStore) SetLiveStatus(_ context.Context, awb, status string, _ []byte) (int64, error) {
	var n int64
	for id, h := range m.s().headers {
		if awb != "" && h.AWBCode == awb {
			h.LiveStatus = status
			m.s().headers[id] = h
			n++
		}
	}
	return n, nil
}

func (m *memStore) OccupyRack(_ context.Context, rackID, headerID int64) (int64, error) {
	r, ok := m.s().racks[rackID]
	if !ok || r.available <= 0 {
		return 0, nil
	}
	r.available--
	r.occupied++
	m.s().racks[rackID] = r
	h := m.s().headers[headerID]
	id := rackID
	h.RackID = &id
	m.s().headers[headerID] = h
	return 1, nil
}

func (m *memStore) ReleaseRack(_ context.Context, headerID int64) error {
	h, ok := m.s().headers[headerID]
	if !ok || h.RackID == nil {
		return nil
	}
	r := m.s().racks[*h.RackID]
	r.available++
	r.occupied--
	m.s().racks[*h.RackID] = r
	h.RackID = nil
	m.s().headers[headerID] = h
	return nil
}
