// Package notify turns committed order changes into outbound side effects:
// Kafka lifecycle events, the Redis status cache, and confirmation mail.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	kafkax "github.com/ariefcatur/go-pod-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-pod-fulfillment/internal/orders"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers ...kafkago.Header) error
}

// EventPublisher publishes every hook event as a v1 envelope keyed by order id.
type EventPublisher struct {
	Pub      Publisher
	Producer string
}

func (EventPublisher) Name() string { return "kafka" }

func (p EventPublisher) Handle(ctx context.Context, ev orders.Event) error {
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     ev.Type,
		EventVersion:  1,
		OccurredAt:    ev.OccurredAt,
		Producer:      p.Producer,
		CorrelationID: ev.OrderID,
		Payload:       kafkax.MustMarshal(payloadFor(ev)),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return p.Pub.Publish(ctx, orders.TopicFor(ev.Type), orders.PartitionKey(ev.OrderID), kafkax.MustMarshal(env),
		kafkago.Header{Key: kafkax.HeaderEventType, Value: []byte(ev.Type)},
		kafkago.Header{Key: kafkax.HeaderEventVersion, Value: []byte("1")},
	)
}

func payloadFor(ev orders.Event) any {
	var summary orders.OrderSummary
	if ev.Summary != nil {
		summary = *ev.Summary
	}
	switch ev.Type {
	case orders.EventOrderCreated:
		return orders.OrderCreatedPayload{
			OrderID: ev.OrderID, HeaderID: ev.HeaderID, TenantID: ev.TenantID, Status: ev.Status, Order: summary,
		}
	case orders.EventOrderSettled:
		return orders.OrderSettledPayload{
			OrderID: ev.OrderID, HeaderID: ev.HeaderID, TenantID: ev.TenantID,
			InvoiceURL: ev.InvoiceURL, Recipient: ev.Recipient, Order: summary,
		}
	default:
		return orders.StatusChangedPayload{
			OrderID: ev.OrderID, HeaderID: ev.HeaderID, TenantID: ev.TenantID, From: ev.Previous, To: ev.Status,
		}
	}
}

type StatusCache interface {
	Put(ctx context.Context, orderID, status string, at time.Time) error
}

// CacheHook keeps the Redis status cache in step with committed header status.
type CacheHook struct{ Cache StatusCache }

func (CacheHook) Name() string { return "status-cache" }

func (h CacheHook) Handle(ctx context.Context, ev orders.Event) error {
	if ev.Status == "" {
		return nil
	}
	return h.Cache.Put(ctx, ev.OrderID, string(ev.Status), ev.OccurredAt)
}
