package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pod-fulfillment/internal/metrics"
)

var hundred = decimal.NewFromInt(100)

type LineInput struct {
	ProductID      int64           `json:"product_id"`
	VariantID      *int64          `json:"variant_id,omitempty"`
	Quantity       int             `json:"quantity"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	HandlingCharge decimal.Decimal `json:"handling_charge"`
	TaxPercent     decimal.Decimal `json:"tax_percent"`
}

// Line computes the priced line: (cost + handling) × qty plus tax rounded to
// two places.
func (in LineInput) Line() Line {
	base := in.UnitCost.Add(in.HandlingCharge).Mul(decimal.NewFromInt(int64(in.Quantity)))
	tax := base.Mul(in.TaxPercent).Div(hundred).Round(2)
	return Line{
		ProductID:      in.ProductID,
		VariantID:      in.VariantID,
		Quantity:       in.Quantity,
		UnitCost:       in.UnitCost,
		HandlingCharge: in.HandlingCharge,
		TaxPercent:     in.TaxPercent,
		TaxAmount:      tax,
		LineTotal:      base.Add(tax),
	}
}

type CreateInput struct {
	TenantID       int64           `json:"-"`
	ActorID        int64           `json:"-"`
	CartIDs        []int64         `json:"cart_ids"`
	Lines          []LineInput     `json:"lines"`
	PaymentType    PaymentType     `json:"payment_type"`
	Addons         []string        `json:"addons"`
	ShippingMode   ShippingMode    `json:"shipping_mode"`
	Delivery       *Delivery       `json:"delivery"`
	OrderValue     decimal.Decimal `json:"order_value"`
	DeliveryCharge decimal.Decimal `json:"delivery_charge"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	// Status is the intended initial status: live asks for immediate
	// settlement, onhold defers it.
	Status Status `json:"status"`
}

type CreateResult struct {
	HeaderID        int64            `json:"header_id"`
	OrderID         string           `json:"order_id"`
	ReferenceNumber int64            `json:"reference_number"`
	Status          Status           `json:"status"`
	Balance         *decimal.Decimal `json:"balance,omitempty"`
	InvoiceURL      string           `json:"invoice_url,omitempty"`
	OutOfStockLines []int64          `json:"out_of_stock_lines,omitempty"`
}

// normalize applies defaults, validates, and prices the lines. Nothing is
// written before it succeeds.
func (in *CreateInput) normalize() ([]Line, error) {
	if in.TenantID <= 0 {
		return nil, invalid("tenant_id", "required")
	}
	if len(in.Lines) == 0 {
		return nil, invalid("lines", "at least one line is required")
	}
	if in.PaymentType == "" {
		in.PaymentType = PaymentPrepaid
	}
	if in.PaymentType != PaymentPrepaid && in.PaymentType != PaymentCOD {
		return nil, invalid("payment_type", fmt.Sprintf("unknown payment type %q", in.PaymentType))
	}
	if in.ShippingMode == "" {
		in.ShippingMode = ShippingCourier
	}
	switch in.ShippingMode {
	case ShippingSelfPickup:
		in.DeliveryCharge = decimal.Zero
		in.Delivery = nil
	case ShippingCourier:
		if err := validateDelivery(in.Delivery); err != nil {
			return nil, err
		}
	default:
		return nil, invalid("shipping_mode", fmt.Sprintf("unknown shipping mode %q", in.ShippingMode))
	}
	if in.Status == "" {
		in.Status = StatusOnHold
	}
	if in.Status != StatusOnHold && in.Status != StatusLive {
		return nil, invalid("status", "must be onhold or live")
	}
	if in.DeliveryCharge.IsNegative() {
		return nil, invalid("delivery_charge", "must not be negative")
	}

	lines := make([]Line, 0, len(in.Lines))
	sum := decimal.Zero
	for i, li := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		switch {
		case li.ProductID <= 0:
			return nil, invalid(field+".product_id", "required")
		case li.Quantity <= 0:
			return nil, invalid(field+".quantity", "must be positive")
		case li.UnitCost.IsNegative(), li.HandlingCharge.IsNegative():
			return nil, invalid(field, "costs must not be negative")
		case li.TaxPercent.IsNegative(), li.TaxPercent.GreaterThan(hundred):
			return nil, invalid(field+".tax_percent", "must be between 0 and 100")
		}
		l := li.Line()
		sum = sum.Add(l.LineTotal)
		lines = append(lines, l)
	}

	if in.OrderValue.IsZero() {
		in.OrderValue = sum
	} else if !in.OrderValue.Equal(sum) {
		return nil, invalid("order_value", fmt.Sprintf("expected %s from line totals", sum.StringFixed(2)))
	}
	if want := sum.Add(in.DeliveryCharge); !in.TotalAmount.Equal(want) {
		return nil, invalid("total_amount", fmt.Sprintf("expected %s (lines + delivery charge)", want.StringFixed(2)))
	}
	return lines, nil
}

func validateDelivery(d *Delivery) error {
	switch {
	case d == nil:
		return invalid("delivery", "required for courier shipping")
	case d.Name == "":
		return invalid("delivery.name", "required")
	case d.Phone == "":
		return invalid("delivery.phone", "required")
	case d.Address == "":
		return invalid("delivery.address", "required")
	case d.Pincode == "":
		return invalid("delivery.pincode", "required")
	}
	return nil
}

// Create places an order. Cart cleanup, reference allocation, the optional
// wallet debit and every row of the aggregate commit together. Invoice,
// stock reduction and hooks run after commit and never undo the order.
func (s *Service) Create(ctx context.Context, in CreateInput) (CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "orders.Create",
		trace.WithAttributes(attribute.Int64("tenant.id", in.TenantID)))
	defer span.End()

	lines, err := in.normalize()
	if err != nil {
		return CreateResult{}, err
	}
	now := s.now().UTC()

	var (
		res CreateResult
		agg OrderAggregate
	)
	err = s.db.InTx(ctx, func(tx Tx) error {
		res = CreateResult{}
		if err := tx.Orders.DeleteCartRows(ctx, in.TenantID, in.CartIDs); err != nil {
			return fmt.Errorf("delete cart rows: %w", err)
		}
		ref, err := tx.Orders.NextReference(ctx, in.TenantID)
		if err != nil {
			return fmt.Errorf("next reference: %w", err)
		}

		status := StatusOnHold
		if in.Status == StatusLive {
			funded, err := s.ledger.CheckFunds(ctx, tx.Wallet, in.TenantID, in.TotalAmount)
			if err != nil {
				return err
			}
			if funded {
				status = StatusLive
			} else {
				s.log.Info("insufficient balance, holding order",
					zap.Int64("tenant_id", in.TenantID), zap.String("total", in.TotalAmount.String()))
			}
		}

		h := Header{
			TenantID:        in.TenantID,
			OrderID:         FormatOrderID(in.TenantID, ref),
			ReferenceNumber: ref,
			Status:          status,
			PaymentType:     in.PaymentType,
			Addons:          in.Addons,
			OrderValue:      in.OrderValue,
			DeliveryCharge:  in.DeliveryCharge,
			TotalAmount:     in.TotalAmount,
			ShippingMode:    in.ShippingMode,
		}
		if status == StatusLive {
			h.SettledAt = &now
		}
		if err := tx.Orders.InsertHeader(ctx, &h); err != nil {
			return fmt.Errorf("insert header: %w", err)
		}
		if status == StatusLive {
			bal, err := s.ledger.Debit(ctx, tx.Wallet, h.TenantID, h.OrderID, h.TotalAmount)
			if err != nil {
				return fmt.Errorf("debit wallet: %w", err)
			}
			res.Balance = &bal
		}

		ls := make([]Line, len(lines))
		copy(ls, lines)
		for i := range ls {
			ls[i].HeaderID, ls[i].Status = h.ID, status
		}
		if err := tx.Orders.InsertLines(ctx, ls); err != nil {
			return fmt.Errorf("insert lines: %w", err)
		}
		units := ExpandUnits(h.ID, ls, status, now)
		if err := tx.Orders.InsertUnits(ctx, units); err != nil {
			return fmt.Errorf("insert units: %w", err)
		}

		var delivery *Delivery
		if h.ShippingMode != ShippingSelfPickup {
			d := *in.Delivery
			d.HeaderID = h.ID
			if err := tx.Orders.InsertDelivery(ctx, d); err != nil {
				return fmt.Errorf("insert delivery: %w", err)
			}
			delivery = &d
		}
		if err := tx.Orders.InsertLog(ctx, OrderLog{
			HeaderID: h.ID, UserID: in.ActorID, Comments: "order created", LogDate: now,
			OrderStatus: status, ItemStatus: status,
		}); err != nil {
			return fmt.Errorf("insert log: %w", err)
		}

		agg = OrderAggregate{Header: h, Lines: ls, Units: units, Delivery: delivery}
		res.HeaderID, res.OrderID, res.ReferenceNumber, res.Status = h.ID, h.OrderID, ref, status
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return CreateResult{}, err
	}
	metrics.OrdersCreated.WithLabelValues(string(res.Status)).Inc()
	span.SetAttributes(attribute.String("order.id", res.OrderID), attribute.String("order.status", string(res.Status)))

	if res.Balance != nil {
		res.InvoiceURL = s.attachInvoice(ctx, agg)
		agg.Header.InvoiceURL = res.InvoiceURL
	}
	if short := s.reduceStock(ctx, &agg, in.ActorID); len(short) > 0 {
		res.OutOfStockLines = short
		res.Status = agg.Header.Status
	}

	summary := agg.Summary()
	s.hooks.Fire(ctx, s.log, Event{
		Type:       EventOrderCreated,
		HeaderID:   agg.Header.ID,
		OrderID:    agg.Header.OrderID,
		TenantID:   agg.Header.TenantID,
		Status:     agg.Header.Status,
		InvoiceURL: res.InvoiceURL,
		Summary:    &summary,
		OccurredAt: now,
	})
	if res.Balance != nil {
		s.fireSettled(ctx, agg, res.InvoiceURL)
	}
	return res, nil
}

// reduceStock decrements variant stock for a committed order and flips every
// short line, its units and the header to Out-Of-Stock. A stock service
// failure flags the whole order. It returns the flagged line ids.
func (s *Service) reduceStock(ctx context.Context, agg *OrderAggregate, actorID int64) []int64 {
	if s.stock == nil {
		return nil
	}
	var short []int64
	results, err := s.stock.ReduceStock(ctx, agg.Lines)
	if err != nil {
		s.log.Error("stock reduction failed, flagging order out of stock",
			zap.String("order_id", agg.Header.OrderID), zap.Error(err))
		for _, l := range agg.Lines {
			short = append(short, l.ID)
		}
	} else {
		for _, r := range results {
			if !r.StockAvailable {
				short = append(short, r.LineID)
			}
		}
	}
	if len(short) == 0 {
		return nil
	}

	now := s.now().UTC()
	err = s.db.InTx(ctx, func(tx Tx) error {
		if _, err := tx.Orders.LockHeader(ctx, agg.Header.ID); err != nil {
			return err
		}
		for _, id := range short {
			if _, err := tx.Orders.SetLineStatus(ctx, id, StatusOutOfStock); err != nil {
				return err
			}
			if _, err := tx.Orders.SetLineUnitsStatus(ctx, id, StatusOutOfStock, now); err != nil {
				return err
			}
			lineID := id
			if err := tx.Orders.InsertLog(ctx, OrderLog{
				HeaderID: agg.Header.ID, LineID: &lineID, UserID: actorID, Comments: "stock unavailable",
				LogDate: now, OrderStatus: StatusOutOfStock, ItemStatus: StatusOutOfStock,
			}); err != nil {
				return err
			}
		}
		_, err := tx.Orders.SetHeaderStatus(ctx, agg.Header.ID, StatusOutOfStock)
		return err
	})
	if err != nil {
		s.log.Error("flag order out of stock", zap.String("order_id", agg.Header.OrderID), zap.Error(err))
		return nil
	}

	flagged := map[int64]bool{}
	for _, id := range short {
		flagged[id] = true
	}
	agg.Header.Status = StatusOutOfStock
	for i := range agg.Lines {
		if flagged[agg.Lines[i].ID] {
			agg.Lines[i].Status = StatusOutOfStock
		}
	}
	for i := range agg.Units {
		if flagged[agg.Units[i].LineID] {
			agg.Units[i].Status = StatusOutOfStock
		}
	}
	return short
}

// attachInvoice asks the invoice generator for a URL and stores it. Failures
// are logged; the caller's order stays committed either way.
func (s *Service) attachInvoice(ctx context.Context, agg OrderAggregate) string {
	if s.invoice == nil {
		return ""
	}
	url, err := s.invoice.Generate(ctx, agg.Summary(), agg.Header.DeliveryCharge)
	if err == nil && url == "" {
		err = errors.New("invoice generator returned an empty url")
	}
	if err != nil {
		metrics.HookFailures.WithLabelValues("invoice").Inc()
		s.log.Error("invoice generation failed", zap.String("order_id", agg.Header.OrderID), zap.Error(err))
		return ""
	}
	err = s.db.InTx(ctx, func(tx Tx) error {
		return tx.Orders.SetInvoiceURL(ctx, agg.Header.ID, url)
	})
	if err != nil {
		s.log.Error("store invoice url", zap.String("order_id", agg.Header.OrderID), zap.Error(err))
	}
	return url
}

func (s *Service) fireSettled(ctx context.Context, agg OrderAggregate, invoiceURL string) {
	summary := agg.Summary()
	s.hooks.Fire(ctx, s.log, Event{
		Type:       EventOrderSettled,
		HeaderID:   agg.Header.ID,
		OrderID:    agg.Header.OrderID,
		TenantID:   agg.Header.TenantID,
		Status:     agg.Header.Status,
		InvoiceURL: invoiceURL,
		Recipient:  s.recipient(ctx, agg),
		Summary:    &summary,
		OccurredAt: s.now().UTC(),
	})
}

// recipient prefers the delivery contact and falls back to the tenant.
func (s *Service) recipient(ctx context.Context, agg OrderAggregate) string {
	if agg.Delivery != nil && agg.Delivery.Email != "" {
		return agg.Delivery.Email
	}
	var c Contact
	err := s.db.InTx(ctx, func(tx Tx) error {
		var err error
		c, err = tx.Orders.TenantContact(ctx, agg.Header.TenantID)
		return err
	})
	if err != nil {
		s.log.Warn("tenant contact lookup failed", zap.Int64("tenant_id", agg.Header.TenantID), zap.Error(err))
	}
	return c.Email
}
