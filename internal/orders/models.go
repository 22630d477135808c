package orders

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentPrepaid PaymentType = "prepaid"
	PaymentCOD     PaymentType = "cod"
)

type ShippingMode string

const (
	ShippingCourier    ShippingMode = "courier"
	ShippingSelfPickup ShippingMode = "self_pickup"
)

type Header struct {
	ID              int64           `json:"id"`
	TenantID        int64           `json:"tenant_id"`
	OrderID         string          `json:"order_id"`
	ReferenceNumber int64           `json:"reference_number"`
	Status          Status          `json:"status"`
	PaymentType     PaymentType     `json:"payment_type"`
	Addons          []string        `json:"addons"`
	OrderValue      decimal.Decimal `json:"order_value"`
	DeliveryCharge  decimal.Decimal `json:"delivery_charge"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingMode    ShippingMode    `json:"shipping_mode"`
	InvoiceURL      string          `json:"invoice_url,omitempty"`
	AWBCode         string          `json:"awb_code,omitempty"`
	LiveStatus      string          `json:"live_status,omitempty"`
	RackID          *int64          `json:"rack_id,omitempty"`
	SettledAt       *time.Time      `json:"settled_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Funded reports whether the wallet has been debited for the order.
func (h Header) Funded() bool { return h.SettledAt != nil }

type Line struct {
	ID             int64           `json:"id"`
	HeaderID       int64           `json:"header_id"`
	ProductID      int64           `json:"product_id"`
	VariantID      *int64          `json:"variant_id,omitempty"`
	Quantity       int             `json:"quantity"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	HandlingCharge decimal.Decimal `json:"handling_charge"`
	TaxPercent     decimal.Decimal `json:"tax_percent"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	LineTotal      decimal.Decimal `json:"line_total"`
	Status         Status          `json:"status"`
}

type Unit struct {
	ID        int64     `json:"id"`
	HeaderID  int64     `json:"header_id"`
	LineID    int64     `json:"line_id"`
	UnitCode  string    `json:"unit_code"`
	ProductID int64     `json:"product_id"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Delivery struct {
	HeaderID  int64  `json:"-"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email,omitempty"`
	Address   string `json:"address"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Pincode   string `json:"pincode"`
	CourierID string `json:"courier_id,omitempty"`
}

// OrderLog is the audit row written for every applied transition.
type OrderLog struct {
	ID          int64     `json:"id"`
	HeaderID    int64     `json:"header_id"`
	LineID      *int64    `json:"line_id,omitempty"`
	UserID      int64     `json:"user_id"`
	Comments    string    `json:"comments"`
	LogDate     time.Time `json:"logdate"`
	OrderStatus Status    `json:"orderstatus"`
	ItemStatus  Status    `json:"itemstatus"`
}

// OrderAggregate is a header with everything hanging off it.
type OrderAggregate struct {
	Header   Header    `json:"header"`
	Lines    []Line    `json:"lines"`
	Units    []Unit    `json:"units"`
	Delivery *Delivery `json:"delivery,omitempty"`
}

type Contact struct {
	Name  string
	Email string
}

// FormatOrderID builds the public order identifier {tenantId}_{referenceNumber}.
func FormatOrderID(tenantID, ref int64) string {
	return fmt.Sprintf("%d_%d", tenantID, ref)
}

// UnitCode is {headerId}-{productId}-{seq}.
func UnitCode(headerID, productID int64, seq int) string {
	return fmt.Sprintf("%d-%d-%d", headerID, productID, seq)
}

// ExpandUnits fans lines out into one unit per piece. The sequence runs per
// product across the whole order so two lines of the same product never
// collide on unit code.
func ExpandUnits(headerID int64, lines []Line, status Status, at time.Time) []Unit {
	seq := map[int64]int{}
	var out []Unit
	for _, l := range lines {
		for i := 0; i < l.Quantity; i++ {
			seq[l.ProductID]++
			out = append(out, Unit{
				HeaderID:  headerID,
				LineID:    l.ID,
				UnitCode:  UnitCode(headerID, l.ProductID, seq[l.ProductID]),
				ProductID: l.ProductID,
				Status:    status,
				UpdatedAt: at,
			})
		}
	}
	return out
}

// LineSummary and OrderSummary are the order details handed to invoice and
// mail collaborators and carried on lifecycle events.
type LineSummary struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	LineTotal decimal.Decimal `json:"line_total"`
	Status    Status          `json:"status"`
}

type OrderSummary struct {
	OrderID        string          `json:"order_id"`
	TenantID       int64           `json:"tenant_id"`
	Status         Status          `json:"status"`
	PaymentType    PaymentType     `json:"payment_type"`
	ShippingMode   ShippingMode    `json:"shipping_mode"`
	OrderValue     decimal.Decimal `json:"order_value"`
	DeliveryCharge decimal.Decimal `json:"delivery_charge"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Lines          []LineSummary   `json:"lines"`
	Delivery       *Delivery       `json:"delivery,omitempty"`
}

func (a OrderAggregate) Summary() OrderSummary {
	s := OrderSummary{
		OrderID:        a.Header.OrderID,
		TenantID:       a.Header.TenantID,
		Status:         a.Header.Status,
		PaymentType:    a.Header.PaymentType,
		ShippingMode:   a.Header.ShippingMode,
		OrderValue:     a.Header.OrderValue,
		DeliveryCharge: a.Header.DeliveryCharge,
		TotalAmount:    a.Header.TotalAmount,
		Delivery:       a.Delivery,
	}
	for _, l := range a.Lines {
		s.Lines = append(s.Lines, LineSummary{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitCost:  l.UnitCost,
			TaxAmount: l.TaxAmount,
			LineTotal: l.LineTotal,
			Status:    l.Status,
		})
	}
	return s
}
