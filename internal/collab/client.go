// Package collab holds JSON-over-HTTP clients for the invoice, mail and
// courier-rate services.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ariefcatur/go-pod-fulfillment/internal/orders"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: timeout}}
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		var e errorResponse
		if json.Unmarshal(b, &e) == nil && (e.Message != "" || e.Error != "") {
			return fmt.Errorf("POST %s: %d %s%s", path, resp.StatusCode, e.Error, e.Message)
		}
		return fmt.Errorf("POST %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(b, out)
}

// Invoices implements orders.InvoiceGenerator.
type Invoices struct{ *Client }

type invoiceRequest struct {
	Order          orders.OrderSummary `json:"order"`
	DeliveryCharge decimal.Decimal     `json:"delivery_charge"`
}

func (c Invoices) Generate(ctx context.Context, order orders.OrderSummary, deliveryCharge decimal.Decimal) (string, error) {
	var out struct {
		InvoiceURL string `json:"invoice_url"`
	}
	if err := c.post(ctx, "/invoices", invoiceRequest{Order: order, DeliveryCharge: deliveryCharge}, &out); err != nil {
		return "", err
	}
	if out.InvoiceURL == "" {
		return "", fmt.Errorf("invoice for %s: empty url", order.OrderID)
	}
	return out.InvoiceURL, nil
}

// Mailer implements orders.MailSender.
type Mailer struct{ *Client }

type confirmationRequest struct {
	Order      orders.OrderSummary `json:"order"`
	InvoiceURL string              `json:"invoice_url"`
	Recipient  string              `json:"recipient"`
}

func (c Mailer) SendOrderConfirmation(ctx context.Context, order orders.OrderSummary, invoiceURL, recipient string) error {
	var out struct {
		Accepted bool `json:"accepted"`
	}
	req := confirmationRequest{Order: order, InvoiceURL: invoiceURL, Recipient: recipient}
	if err := c.post(ctx, "/mail/order-confirmation", req, &out); err != nil {
		return err
	}
	if !out.Accepted {
		return fmt.Errorf("confirmation for %s to %s not accepted", order.OrderID, recipient)
	}
	return nil
}

// Courier implements orders.CourierRates.
type Courier struct{ *Client }

func (c Courier) Quote(ctx context.Context, req orders.QuoteRequest) ([]orders.CourierQuote, error) {
	var out struct {
		Quotes []orders.CourierQuote `json:"quotes"`
	}
	if err := c.post(ctx, "/rates", req, &out); err != nil {
		return nil, err
	}
	return out.Quotes, nil
}
