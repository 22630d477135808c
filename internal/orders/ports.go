package orders

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-pod-fulfillment/internal/wallet"
)

// Store is the order persistence boundary. Implementations are bound to one
// transaction; no business rules live behind it. Status setters take an
// optional list of expected current statuses and return rows affected, so
// callers can make updates conditional.
type Store interface {
	DeleteCartRows(ctx context.Context, tenantID int64, cartIDs []int64) error
	NextReference(ctx context.Context, tenantID int64) (int64, error)
	TenantContact(ctx context.Context, tenantID int64) (Contact, error)

	InsertHeader(ctx context.Context, h *Header) error
	InsertLines(ctx context.Context, lines []Line) error
	InsertUnits(ctx context.Context, units []Unit) error
	InsertDelivery(ctx context.Context, d Delivery) error
	UpdateDelivery(ctx context.Context, d Delivery) error
	InsertLog(ctx context.Context, l OrderLog) error

	GetHeader(ctx context.Context, headerID int64) (Header, error)
	LockHeader(ctx context.Context, headerID int64) (Header, error)
	HeaderByOrderID(ctx context.Context, orderID string) (Header, error)
	Lines(ctx context.Context, headerID int64) ([]Line, error)
	Units(ctx context.Context, headerID int64) ([]Unit, error)
	UnitByCode(ctx context.Context, code string) (Unit, error)
	Delivery(ctx context.Context, headerID int64) (*Delivery, error)
	Logs(ctx context.Context, headerID int64) ([]OrderLog, error)
	List(ctx context.Context, tenantID int64, statuses []Status, limit, offset int) ([]Header, error)
	DeleteOrder(ctx context.Context, headerID int64) (int64, error)

	SetHeaderStatus(ctx context.Context, headerID int64, to Status, from ...Status) (int64, error)
	SetLineStatus(ctx context.Context, lineID int64, to Status, from ...Status) (int64, error)
	SetLinesStatus(ctx context.Context, headerID int64, to Status, from ...Status) (int64, error)
	SetUnitStatus(ctx context.Context, unitID int64, to Status, at time.Time, from ...Status) (int64, error)
	SetUnitsStatus(ctx context.Context, headerID int64, to Status, at time.Time, from ...Status) (int64, error)
	SetLineUnitsStatus(ctx context.Context, lineID int64, to Status, at time.Time, from ...Status) (int64, error)

	UpdateTotals(ctx context.Context, headerID int64, orderValue, deliveryCharge, total decimal.Decimal) error
	SetInvoiceURL(ctx context.Context, headerID int64, url string) error
	MarkSettled(ctx context.Context, headerID int64, at time.Time) error
	SetAWB(ctx context.Context, headerID int64, awb string) error
	SetLiveStatus(ctx context.Context, awb, status string, raw []byte) (int64, error)

	// OccupyRack takes one free slot and records the rack on the header. It
	// returns 0 when the rack is full or unknown.
	OccupyRack(ctx context.Context, rackID, headerID int64) (int64, error)
	ReleaseRack(ctx context.Context, headerID int64) error
}

// Tx is the unit of work handed to TxRunner callbacks.
type Tx struct {
	Orders Store
	Wallet wallet.Store
}

type TxRunner interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// InvoiceGenerator returns a non-empty URL on success.
type InvoiceGenerator interface {
	Generate(ctx context.Context, order OrderSummary, deliveryCharge decimal.Decimal) (string, error)
}

type MailSender interface {
	SendOrderConfirmation(ctx context.Context, order OrderSummary, invoiceURL, recipient string) error
}

type StockResult struct {
	LineID         int64 `json:"line_id"`
	StockAvailable bool  `json:"stock_available"`
}

type StockService interface {
	ReduceStock(ctx context.Context, lines []Line) ([]StockResult, error)
}

type QuoteRequest struct {
	OriginPincode string          `json:"origin_pincode"`
	DestPincode   string          `json:"dest_pincode"`
	PaymentType   PaymentType     `json:"payment_type"`
	WeightGrams   int             `json:"weight_grams"`
	Amount        decimal.Decimal `json:"amount"`
}

type CourierQuote struct {
	CourierID string          `json:"courier_id"`
	Price     decimal.Decimal `json:"price"`
	ETA       string          `json:"eta"`
}

type CourierRates interface {
	Quote(ctx context.Context, req QuoteRequest) ([]CourierQuote, error)
}

// Deduper claims a key once; later claims within the TTL report false.
// Release gives a claim back after the guarded work failed.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}
