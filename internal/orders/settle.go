package orders

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type MoveToLiveInput struct {
	HeaderID       int64            `json:"-"`
	TenantID       int64            `json:"-"`
	ActorID        int64            `json:"-"`
	OrderValue     *decimal.Decimal `json:"order_value,omitempty"`
	DeliveryCharge *decimal.Decimal `json:"delivery_charge,omitempty"`
	TotalAmount    *decimal.Decimal `json:"total_amount,omitempty"`
	Delivery       *Delivery        `json:"delivery,omitempty"`
}

func (in MoveToLiveInput) validate() error {
	if in.HeaderID <= 0 {
		return invalid("header_id", "required")
	}
	for field, v := range map[string]*decimal.Decimal{
		"order_value": in.OrderValue, "delivery_charge": in.DeliveryCharge, "total_amount": in.TotalAmount,
	} {
		if v != nil && v.IsNegative() {
			return invalid(field, "must not be negative")
		}
	}
	if in.Delivery != nil {
		return validateDelivery(in.Delivery)
	}
	return nil
}

// MoveToLive funds a held order. The debit, its ledger entry, the totals
// update and the cascade of header, lines and units to live commit together.
// The wallet may go negative unless BlockNegativeSettlement is set. Invoice
// and notification follow the commit and never undo it.
func (s *Service) MoveToLive(ctx context.Context, in MoveToLiveInput) (SettlementResult, error) {
	ctx, span := s.tracer.Start(ctx, "orders.MoveToLive",
		trace.WithAttributes(attribute.Int64("tenant.id", in.TenantID), attribute.Int64("order.header_id", in.HeaderID)))
	defer span.End()

	if err := in.validate(); err != nil {
		return SettlementResult{}, err
	}
	now := s.now().UTC()

	var (
		res SettlementResult
		agg OrderAggregate
	)
	err := s.db.InTx(ctx, func(tx Tx) error {
		h, err := tx.Orders.LockHeader(ctx, in.HeaderID)
		if err != nil {
			return err
		}
		if h.TenantID != in.TenantID {
			return fmt.Errorf("header %d: %w", in.HeaderID, ErrNotFound)
		}
		if h.Status != StatusOnHold {
			return fmt.Errorf("%w: order %s is %q, want %q", ErrInvalidState, h.OrderID, h.Status, StatusOnHold)
		}
		if h.Funded() {
			return fmt.Errorf("%w: order %s already settled", ErrInvalidState, h.OrderID)
		}

		orderValue, charge, total := h.OrderValue, h.DeliveryCharge, h.TotalAmount
		if in.OrderValue != nil {
			orderValue = *in.OrderValue
		}
		if in.DeliveryCharge != nil {
			charge = *in.DeliveryCharge
		}
		if h.ShippingMode == ShippingSelfPickup {
			charge = decimal.Zero
		}
		switch {
		case in.TotalAmount != nil:
			total = *in.TotalAmount
		case in.OrderValue != nil || in.DeliveryCharge != nil:
			total = orderValue.Add(charge)
		}
		if !orderValue.Equal(h.OrderValue) || !charge.Equal(h.DeliveryCharge) || !total.Equal(h.TotalAmount) {
			if err := tx.Orders.UpdateTotals(ctx, h.ID, orderValue, charge, total); err != nil {
				return fmt.Errorf("update totals: %w", err)
			}
		}

		if s.blockNegative {
			funded, err := s.ledger.CheckFunds(ctx, tx.Wallet, h.TenantID, total)
			if err != nil {
				return err
			}
			if !funded {
				return fmt.Errorf("%w: order %s needs %s", ErrInsufficientFunds, h.OrderID, total.StringFixed(2))
			}
		}
		bal, err := s.ledger.Debit(ctx, tx.Wallet, h.TenantID, h.OrderID, total)
		if err != nil {
			return fmt.Errorf("debit wallet: %w", err)
		}

		n, err := tx.Orders.SetHeaderStatus(ctx, h.ID, StatusLive, StatusOnHold)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: order %s left onhold concurrently", ErrInvalidState, h.OrderID)
		}
		if err := tx.Orders.MarkSettled(ctx, h.ID, now); err != nil {
			return err
		}
		if _, err := tx.Orders.SetLinesStatus(ctx, h.ID, StatusLive, StatusOnHold); err != nil {
			return err
		}
		if _, err := tx.Orders.SetUnitsStatus(ctx, h.ID, StatusLive, now, StatusOnHold); err != nil {
			return err
		}
		if in.Delivery != nil && h.ShippingMode != ShippingSelfPickup {
			d := *in.Delivery
			d.HeaderID = h.ID
			if err := tx.Orders.UpdateDelivery(ctx, d); err != nil {
				return fmt.Errorf("update delivery: %w", err)
			}
		}
		if err := tx.Orders.InsertLog(ctx, OrderLog{
			HeaderID: h.ID, UserID: in.ActorID, Comments: "moved to live", LogDate: now,
			OrderStatus: StatusLive, ItemStatus: StatusLive,
		}); err != nil {
			return err
		}

		if agg, err = loadAggregate(ctx, tx.Orders, h.ID, false); err != nil {
			return err
		}
		res = SettlementResult{HeaderID: h.ID, OrderID: h.OrderID, Status: StatusLive, Balance: bal}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "move to live failed")
		return SettlementResult{}, err
	}
	s.log.Info("order moved to live",
		zap.String("order_id", res.OrderID), zap.String("balance", res.Balance.String()))

	res.InvoiceURL = s.attachInvoice(ctx, agg)
	agg.Header.InvoiceURL = res.InvoiceURL
	s.hooks.Fire(ctx, s.log, Event{
		Type:       EventOrderStatusChanged,
		HeaderID:   res.HeaderID,
		OrderID:    res.OrderID,
		TenantID:   agg.Header.TenantID,
		Previous:   StatusOnHold,
		Status:     StatusLive,
		OccurredAt: now,
	})
	s.fireSettled(ctx, agg, res.InvoiceURL)
	return res, nil
}
