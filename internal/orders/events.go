package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderSettled       = "OrderSettled"
	EventOrderStatusChanged = "OrderStatusChanged"
)

// Event is what post-commit hooks receive.
type Event struct {
	Type       string
	HeaderID   int64
	OrderID    string
	TenantID   int64
	Status     Status
	Previous   Status
	InvoiceURL string
	Recipient  string
	Summary    *OrderSummary
	OccurredAt time.Time
}

// Envelope is the wire format on every order topic.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID  string       `json:"order_id"`
	HeaderID int64        `json:"header_id"`
	TenantID int64        `json:"tenant_id"`
	Status   Status       `json:"status"`
	Order    OrderSummary `json:"order"`
}

type OrderSettledPayload struct {
	OrderID    string       `json:"order_id"`
	HeaderID   int64        `json:"header_id"`
	TenantID   int64        `json:"tenant_id"`
	InvoiceURL string       `json:"invoice_url"`
	Recipient  string       `json:"recipient"`
	Order      OrderSummary `json:"order"`
}

type StatusChangedPayload struct {
	OrderID  string `json:"order_id"`
	HeaderID int64  `json:"header_id"`
	TenantID int64  `json:"tenant_id"`
	From     Status `json:"from"`
	To       Status `json:"to"`
}

// SettlementResult is returned by Move-to-Live.
type SettlementResult struct {
	HeaderID   int64           `json:"header_id"`
	OrderID    string          `json:"order_id"`
	Status     Status          `json:"status"`
	Balance    decimal.Decimal `json:"balance"`
	InvoiceURL string          `json:"invoice_url,omitempty"`
}
