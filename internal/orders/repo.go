package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-pod-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-pod-fulfillment/internal/wallet"
)

// PGStore implements Store on pgx. Money crosses the driver as text.
type PGStore struct{ DB postgres.DBTX }

func NewPGStore(db postgres.DBTX) *PGStore { return &PGStore{DB: db} }

// PGRunner opens one pgx transaction per call and binds both stores to it.
type PGRunner struct{ Runner *postgres.Runner }

func (p PGRunner) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return p.Runner.InTx(ctx, func(tx pgx.Tx) error {
		return fn(Tx{Orders: NewPGStore(tx), Wallet: wallet.NewPGStore(tx)})
	})
}

const headerCols = `id, tenant_id, order_id, reference_number, status, payment_type, addons,
	order_value::text, delivery_charge::text, total_amount::text, shipping_mode, invoice_url,
	COALESCE(awb_code, ''), live_status, rack_id, settled_at, created_at, updated_at`

const lineCols = `id, header_id, product_id, variant_id, quantity, unit_cost::text,
	handling_charge::text, tax_percent::text, tax_amount::text, line_total::text, status`

func (r *PGStore) DeleteCartRows(ctx context.Context, tenantID int64, cartIDs []int64) error {
	if len(cartIDs) == 0 {
		return nil
	}
	_, err := r.DB.Exec(ctx, `DELETE FROM carts WHERE tenant_id=$1 AND id = ANY($2)`, tenantID, cartIDs)
	return err
}

// NextReference bumps the tenant counter under its row lock, so concurrent
// creations for one tenant always get distinct numbers.
func (r *PGStore) NextReference(ctx context.Context, tenantID int64) (int64, error) {
	var ref int64
	err := r.DB.QueryRow(ctx, `
		INSERT INTO tenant_counters(tenant_id, last_reference) VALUES ($1, 1)
		ON CONFLICT (tenant_id) DO UPDATE SET last_reference = tenant_counters.last_reference + 1
		RETURNING last_reference`, tenantID).Scan(&ref)
	return ref, err
}

func (r *PGStore) TenantContact(ctx context.Context, tenantID int64) (Contact, error) {
	var c Contact
	err := r.DB.QueryRow(ctx, `SELECT name, email FROM tenants WHERE id=$1`, tenantID).Scan(&c.Name, &c.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, fmt.Errorf("tenant %d: %w", tenantID, ErrNotFound)
	}
	return c, err
}

func (r *PGStore) InsertHeader(ctx context.Context, h *Header) error {
	addons := h.Addons
	if addons == nil {
		addons = []string{}
	}
	return r.DB.QueryRow(ctx, `
		INSERT INTO order_headers(tenant_id, order_id, reference_number, status, payment_type, addons,
			order_value, delivery_charge, total_amount, shipping_mode, settled_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8::numeric,$9::numeric,$10,$11)
		RETURNING id, created_at, updated_at`,
		h.TenantID, h.OrderID, h.ReferenceNumber, string(h.Status), string(h.PaymentType), addons,
		h.OrderValue.String(), h.DeliveryCharge.String(), h.TotalAmount.String(), string(h.ShippingMode),
		h.SettledAt,
	).Scan(&h.ID, &h.CreatedAt, &h.UpdatedAt)
}

// InsertLines sends every line in one batch and fills in the generated ids.
func (r *PGStore) InsertLines(ctx context.Context, lines []Line) error {
	b := &pgx.Batch{}
	for _, l := range lines {
		b.Queue(`
			INSERT INTO order_lines(header_id, product_id, variant_id, quantity, unit_cost,
				handling_charge, tax_percent, tax_amount, line_total, status)
			VALUES ($1,$2,$3,$4,$5::numeric,$6::numeric,$7::numeric,$8::numeric,$9::numeric,$10)
			RETURNING id`,
			l.HeaderID, l.ProductID, l.VariantID, l.Quantity, l.UnitCost.String(),
			l.HandlingCharge.String(), l.TaxPercent.String(), l.TaxAmount.String(), l.LineTotal.String(),
			string(l.Status))
	}
	br := r.DB.SendBatch(ctx, b)
	defer br.Close()
	for i := range lines {
		if err := br.QueryRow().Scan(&lines[i].ID); err != nil {
			return fmt.Errorf("insert line %d: %w", i, err)
		}
	}
	return br.Close()
}

func (r *PGStore) InsertUnits(ctx context.Context, units []Unit) error {
	b := &pgx.Batch{}
	for _, u := range units {
		b.Queue(`
			INSERT INTO ordered_units(header_id, line_id, unit_code, product_id, status, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			u.HeaderID, u.LineID, u.UnitCode, u.ProductID, string(u.Status), u.UpdatedAt)
	}
	br := r.DB.SendBatch(ctx, b)
	defer br.Close()
	for i := range units {
		if err := br.QueryRow().Scan(&units[i].ID); err != nil {
			return fmt.Errorf("insert unit %s: %w", units[i].UnitCode, err)
		}
	}
	return br.Close()
}

func (r *PGStore) InsertDelivery(ctx context.Context, d Delivery) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO order_deliveries(header_id, name, phone, email, address, city, state, pincode, courier_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		d.HeaderID, d.Name, d.Phone, d.Email, d.Address, d.City, d.State, d.Pincode, d.CourierID)
	return err
}

func (r *PGStore) UpdateDelivery(ctx context.Context, d Delivery) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE order_deliveries SET name=$2, phone=$3, email=$4, address=$5, city=$6, state=$7,
			pincode=$8, courier_id=$9
		WHERE header_id=$1`,
		d.HeaderID, d.Name, d.Phone, d.Email, d.Address, d.City, d.State, d.Pincode, d.CourierID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return r.InsertDelivery(ctx, d)
	}
	return nil
}

func (r *PGStore) InsertLog(ctx context.Context, l OrderLog) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO order_logs(header_id, line_id, user_id, comments, logdate, orderstatus, itemstatus)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		l.HeaderID, l.LineID, l.UserID, l.Comments, l.LogDate, string(l.OrderStatus), string(l.ItemStatus))
	return err
}

func (r *PGStore) GetHeader(ctx context.Context, headerID int64) (Header, error) {
	return r.header(ctx, `SELECT `+headerCols+` FROM order_headers WHERE id=$1`, headerID)
}

func (r *PGStore) LockHeader(ctx context.Context, headerID int64) (Header, error) {
	return r.header(ctx, `SELECT `+headerCols+` FROM order_headers WHERE id=$1 FOR UPDATE`, headerID)
}

func (r *PGStore) HeaderByOrderID(ctx context.Context, orderID string) (Header, error) {
	return r.header(ctx, `SELECT `+headerCols+` FROM order_headers WHERE order_id=$1`, orderID)
}

func (r *PGStore) header(ctx context.Context, q string, key any) (Header, error) {
	h, err := scanHeader(r.DB.QueryRow(ctx, q, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return h, fmt.Errorf("header %v: %w", key, ErrNotFound)
	}
	return h, err
}

func scanHeader(row pgx.Row) (Header, error) {
	var h Header
	var status, payment, shipping, orderValue, delivery, total string
	err := row.Scan(&h.ID, &h.TenantID, &h.OrderID, &h.ReferenceNumber, &status, &payment, &h.Addons,
		&orderValue, &delivery, &total, &shipping, &h.InvoiceURL, &h.AWBCode, &h.LiveStatus, &h.RackID,
		&h.SettledAt, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return h, err
	}
	h.Status, h.PaymentType, h.ShippingMode = Status(status), PaymentType(payment), ShippingMode(shipping)
	if h.OrderValue, err = decimal.NewFromString(orderValue); err != nil {
		return h, err
	}
	if h.DeliveryCharge, err = decimal.NewFromString(delivery); err != nil {
		return h, err
	}
	h.TotalAmount, err = decimal.NewFromString(total)
	return h, err
}

func (r *PGStore) Lines(ctx context.Context, headerID int64) ([]Line, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+lineCols+` FROM order_lines WHERE header_id=$1 ORDER BY id`, headerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var l Line
		var unitCost, handling, taxPct, taxAmt, total, status string
		if err := rows.Scan(&l.ID, &l.HeaderID, &l.ProductID, &l.VariantID, &l.Quantity, &unitCost,
			&handling, &taxPct, &taxAmt, &total, &status); err != nil {
			return nil, err
		}
		l.Status = Status(status)
		for dst, src := range map[*decimal.Decimal]string{
			&l.UnitCost: unitCost, &l.HandlingCharge: handling, &l.TaxPercent: taxPct,
			&l.TaxAmount: taxAmt, &l.LineTotal: total,
		} {
			if *dst, err = decimal.NewFromString(src); err != nil {
				return nil, err
			}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PGStore) Units(ctx context.Context, headerID int64) ([]Unit, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, header_id, line_id, unit_code, product_id, status, updated_at
		FROM ordered_units WHERE header_id=$1 ORDER BY id`, headerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *PGStore) UnitByCode(ctx context.Context, code string) (Unit, error) {
	u, err := scanUnit(r.DB.QueryRow(ctx, `
		SELECT id, header_id, line_id, unit_code, product_id, status, updated_at
		FROM ordered_units WHERE unit_code=$1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return u, fmt.Errorf("unit %s: %w", code, ErrNotFound)
	}
	return u, err
}

func scanUnit(row pgx.Row) (Unit, error) {
	var u Unit
	var status string
	err := row.Scan(&u.ID, &u.HeaderID, &u.LineID, &u.UnitCode, &u.ProductID, &status, &u.UpdatedAt)
	u.Status = Status(status)
	return u, err
}

func (r *PGStore) Delivery(ctx context.Context, headerID int64) (*Delivery, error) {
	d := Delivery{HeaderID: headerID}
	err := r.DB.QueryRow(ctx, `
		SELECT name, phone, email, address, city, state, pincode, courier_id
		FROM order_deliveries WHERE header_id=$1`, headerID).
		Scan(&d.Name, &d.Phone, &d.Email, &d.Address, &d.City, &d.State, &d.Pincode, &d.CourierID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PGStore) Logs(ctx context.Context, headerID int64) ([]OrderLog, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, header_id, line_id, user_id, comments, logdate, orderstatus, itemstatus
		FROM order_logs WHERE header_id=$1 ORDER BY id`, headerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderLog
	for rows.Next() {
		var l OrderLog
		var orderSt, itemSt string
		if err := rows.Scan(&l.ID, &l.HeaderID, &l.LineID, &l.UserID, &l.Comments, &l.LogDate, &orderSt, &itemSt); err != nil {
			return nil, err
		}
		l.OrderStatus, l.ItemStatus = Status(orderSt), Status(itemSt)
		out = append(out, l)
	}
	return out, rows.Err()
}

// List filters by tenant (0 = every tenant) and status set (empty = all).
func (r *PGStore) List(ctx context.Context, tenantID int64, statuses []Status, limit, offset int) ([]Header, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+headerCols+` FROM order_headers
		WHERE ($1 = 0 OR tenant_id = $1) AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY id DESC LIMIT $3 OFFSET $4`,
		tenantID, statusStrings(statuses), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Header
	for rows.Next() {
		h, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// DeleteOrder relies on ON DELETE CASCADE for lines, units, delivery and logs.
func (r *PGStore) DeleteOrder(ctx context.Context, headerID int64) (int64, error) {
	if err := r.ReleaseRack(ctx, headerID); err != nil {
		return 0, err
	}
	ct, err := r.DB.Exec(ctx, `DELETE FROM order_headers WHERE id=$1`, headerID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (r *PGStore) SetHeaderStatus(ctx context.Context, headerID int64, to Status, from ...Status) (int64, error) {
	return r.setStatus(ctx, `UPDATE order_headers SET status=$2, updated_at=now() WHERE id=$1`,
		[]any{headerID, string(to)}, from)
}

func (r *PGStore) SetLineStatus(ctx context.Context, lineID int64, to Status, from ...Status) (int64, error) {
	return r.setStatus(ctx, `UPDATE order_lines SET status=$2 WHERE id=$1`, []any{lineID, string(to)}, from)
}

func (r *PGStore) SetLinesStatus(ctx context.Context, headerID int64, to Status, from ...Status) (int64, error) {
	return r.setStatus(ctx, `UPDATE order_lines SET status=$2 WHERE header_id=$1`, []any{headerID, string(to)}, from)
}

func (r *PGStore) SetUnitStatus(ctx context.Context, unitID int64, to Status, at time.Time, from ...Status) (int64, error) {
	return r.setStatus(ctx, `UPDATE ordered_units SET status=$2, updated_at=$3 WHERE id=$1`,
		[]any{unitID, string(to), at}, from)
}

func (r *PGStore) SetUnitsStatus(ctx context.Context, headerID int64, to Status, at time.Time, from ...Status) (int64, error) {
	return r.setStatus(ctx, `UPDATE ordered_units SET status=$2, updated_at=$3 WHERE header_id=$1`,
		[]any{headerID, string(to), at}, from)
}

func (r *PGStore) SetLineUnitsStatus(ctx context.Context, lineID int64, to Status, at time.Time, from ...Status) (int64, error) {
	return r.setStatus(ctx, `UPDATE ordered_units SET status=$2, updated_at=$3 WHERE line_id=$1`,
		[]any{lineID, string(to), at}, from)
}

// setStatus appends the optional current-status guard as the next placeholder.
func (r *PGStore) setStatus(ctx context.Context, q string, args []any, from []Status) (int64, error) {
	if len(from) > 0 {
		args = append(args, statusStrings(from))
		q += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	ct, err := r.DB.Exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (r *PGStore) UpdateTotals(ctx context.Context, headerID int64, orderValue, deliveryCharge, total decimal.Decimal) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE order_headers SET order_value=$2::numeric, delivery_charge=$3::numeric,
			total_amount=$4::numeric, updated_at=now()
		WHERE id=$1`, headerID, orderValue.String(), deliveryCharge.String(), total.String())
	return err
}

func (r *PGStore) SetInvoiceURL(ctx context.Context, headerID int64, url string) error {
	_, err := r.DB.Exec(ctx, `UPDATE order_headers SET invoice_url=$2, updated_at=now() WHERE id=$1`, headerID, url)
	return err
}

func (r *PGStore) MarkSettled(ctx context.Context, headerID int64, at time.Time) error {
	_, err := r.DB.Exec(ctx, `UPDATE order_headers SET settled_at=$2, updated_at=now() WHERE id=$1`, headerID, at)
	return err
}

func (r *PGStore) SetAWB(ctx context.Context, headerID int64, awb string) error {
	_, err := r.DB.Exec(ctx, `UPDATE order_headers SET awb_code=$2, updated_at=now() WHERE id=$1`, headerID, awb)
	return err
}

func (r *PGStore) SetLiveStatus(ctx context.Context, awb, status string, raw []byte) (int64, error) {
	var payload any
	if len(raw) > 0 {
		payload = string(raw)
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE order_headers SET live_status=$2, live_payload=$3::jsonb, updated_at=now()
		WHERE awb_code=$1`, awb, status, payload)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (r *PGStore) OccupyRack(ctx context.Context, rackID, headerID int64) (int64, error) {
	ct, err := r.DB.Exec(ctx, `
		WITH rk AS (
			UPDATE racks SET available = available - 1, occupied = occupied + 1
			WHERE id = $1 AND available > 0
			RETURNING id
		)
		UPDATE order_headers SET rack_id = rk.id, updated_at = now()
		FROM rk WHERE order_headers.id = $2`, rackID, headerID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (r *PGStore) ReleaseRack(ctx context.Context, headerID int64) error {
	var rackID *int64
	err := r.DB.QueryRow(ctx, `
		UPDATE order_headers o SET rack_id = NULL
		FROM (SELECT id, rack_id FROM order_headers WHERE id = $1 FOR UPDATE) old
		WHERE o.id = old.id AND old.rack_id IS NOT NULL
		RETURNING old.rack_id`, headerID).Scan(&rackID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if rackID == nil {
		return nil
	}
	_, err = r.DB.Exec(ctx, `
		UPDATE racks SET available = available + 1, occupied = GREATEST(occupied - 1, 0)
		WHERE id = $1`, *rackID)
	return err
}

func statusStrings(in []Status) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}
