package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pod-fulfillment/internal/wallet"
)

type Deps struct {
	DB      TxRunner
	Ledger  *wallet.Ledger
	Stock   StockService
	Invoice InvoiceGenerator
	Hooks   Hooks
	Dedup   Deduper
	Log     *zap.Logger
	Now     func() time.Time

	// BlockNegativeSettlement rejects move-to-live when the wallet cannot
	// cover the order.
	BlockNegativeSettlement bool
}

// Service runs the creation and settlement workflows and order queries.
type Service struct {
	db            TxRunner
	ledger        *wallet.Ledger
	stock         StockService
	invoice       InvoiceGenerator
	hooks         Hooks
	dedup         Deduper
	log           *zap.Logger
	now           func() time.Time
	tracer        trace.Tracer
	blockNegative bool
}

func NewService(d Deps) *Service {
	d = d.withDefaults()
	return &Service{
		db:            d.DB,
		ledger:        d.Ledger,
		stock:         d.Stock,
		invoice:       d.Invoice,
		hooks:         d.Hooks,
		dedup:         d.Dedup,
		log:           d.Log,
		now:           d.Now,
		tracer:        otel.Tracer("orders"),
		blockNegative: d.BlockNegativeSettlement,
	}
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Ledger == nil {
		d.Ledger = wallet.NewLedger(d.Log)
	}
	return d
}

// Get loads the full aggregate. A non-zero tenantID must own the order.
func (s *Service) Get(ctx context.Context, tenantID, headerID int64) (OrderAggregate, error) {
	var agg OrderAggregate
	err := s.db.InTx(ctx, func(tx Tx) error {
		var err error
		agg, err = loadAggregate(ctx, tx.Orders, headerID, false)
		return err
	})
	if err != nil {
		return OrderAggregate{}, err
	}
	if tenantID != 0 && agg.Header.TenantID != tenantID {
		return OrderAggregate{}, fmt.Errorf("header %d: %w", headerID, ErrNotFound)
	}
	return agg, nil
}

// Status returns the header for a public order id. A non-zero tenantID must
// own the order.
func (s *Service) Status(ctx context.Context, tenantID int64, orderID string) (Header, error) {
	var h Header
	err := s.db.InTx(ctx, func(tx Tx) error {
		var err error
		h, err = tx.Orders.HeaderByOrderID(ctx, orderID)
		return err
	})
	if err != nil {
		return Header{}, err
	}
	if tenantID != 0 && h.TenantID != tenantID {
		return Header{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return h, nil
}

func (s *Service) Logs(ctx context.Context, tenantID, headerID int64) ([]OrderLog, error) {
	var out []OrderLog
	err := s.db.InTx(ctx, func(tx Tx) error {
		h, err := tx.Orders.GetHeader(ctx, headerID)
		if err != nil {
			return err
		}
		if tenantID != 0 && h.TenantID != tenantID {
			return fmt.Errorf("header %d: %w", headerID, ErrNotFound)
		}
		out, err = tx.Orders.Logs(ctx, headerID)
		return err
	})
	return out, err
}

func (s *Service) List(ctx context.Context, tenantID int64, view View, page Page) ([]Header, error) {
	if view == "" {
		view = ViewAll
	}
	filter, ok := view.Filter()
	if !ok {
		return nil, invalid("view", fmt.Sprintf("unknown view %q", view))
	}
	page = page.normalize()
	var out []Header
	err := s.db.InTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Orders.List(ctx, tenantID, filter, page.Limit, page.Offset)
		return err
	})
	return out, err
}

// Delete is the admin delete. Lines, units and delivery cascade with the header.
func (s *Service) Delete(ctx context.Context, headerID, actorID int64) error {
	err := s.db.InTx(ctx, func(tx Tx) error {
		n, err := tx.Orders.DeleteOrder(ctx, headerID)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("header %d: %w", headerID, ErrNotFound)
		}
		return nil
	})
	if err == nil {
		s.log.Info("order deleted", zap.Int64("header_id", headerID), zap.Int64("actor_id", actorID))
	}
	return err
}

type ShipmentUpdate struct {
	AWBCode    string          `json:"awb_code"`
	Status     string          `json:"status"`
	RawPayload json.RawMessage `json:"raw_payload"`
}

// ApplyShipmentStatus stores courier tracking state against the header with
// the matching AWB code. Redelivered webhooks are dropped.
func (s *Service) ApplyShipmentStatus(ctx context.Context, u ShipmentUpdate) error {
	if u.AWBCode == "" {
		return invalid("awb_code", "required")
	}
	if u.Status == "" {
		return invalid("status", "required")
	}
	key, claimed := "shipment:"+u.AWBCode+":"+u.Status, false
	if s.dedup != nil {
		first, err := s.dedup.Claim(ctx, key)
		if err != nil {
			s.log.Warn("shipment dedup unavailable", zap.Error(err))
		} else if !first {
			return nil
		}
		claimed = err == nil
	}
	err := s.db.InTx(ctx, func(tx Tx) error {
		n, err := tx.Orders.SetLiveStatus(ctx, u.AWBCode, u.Status, u.RawPayload)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("awb %s: %w", u.AWBCode, ErrNotFound)
		}
		return nil
	})
	if err != nil && claimed {
		if rerr := s.dedup.Release(context.WithoutCancel(ctx), key); rerr != nil {
			s.log.Warn("release shipment dedup key", zap.Error(rerr))
		}
	}
	return err
}

func loadAggregate(ctx context.Context, st Store, headerID int64, lock bool) (OrderAggregate, error) {
	var (
		agg OrderAggregate
		err error
	)
	if lock {
		agg.Header, err = st.LockHeader(ctx, headerID)
	} else {
		agg.Header, err = st.GetHeader(ctx, headerID)
	}
	if err != nil {
		return agg, err
	}
	if agg.Lines, err = st.Lines(ctx, headerID); err != nil {
		return agg, err
	}
	if agg.Units, err = st.Units(ctx, headerID); err != nil {
		return agg, err
	}
	agg.Delivery, err = st.Delivery(ctx, headerID)
	return agg, err
}
