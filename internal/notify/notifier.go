package notify

import (
	"context"
	"encoding/json"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-pod-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-pod-fulfillment/internal/orders"
)

// Notifier consumes order.settled and sends the confirmation mail once per
// event id.
type Notifier struct {
	Mailer orders.MailSender
	Dedup  orders.Deduper
	Log    *zap.Logger
}

// HandleSettled is a kafka.Handler. Messages of other event types and
// undecodable ones are skipped. A mail failure releases the dedup claim and
// returns the error, so the consumer's in-place retry can send it again.
func (n *Notifier) HandleSettled(ctx context.Context, m kafkago.Message) error {
	if typ := kafkax.HeaderValue(m.Headers, kafkax.HeaderEventType); typ != "" && typ != orders.EventOrderSettled {
		return nil
	}
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		n.Log.Error("drop undecodable message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventOrderSettled {
		return nil
	}

	first, err := n.Dedup.Claim(ctx, env.EventID)
	if err != nil {
		return err
	}
	if !first {
		n.Log.Info("duplicate event skipped", zap.String("event_id", env.EventID))
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderSettledPayload](env.Payload)
	if err != nil {
		n.Log.Error("drop bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if p.Recipient == "" {
		n.Log.Warn("no recipient for order confirmation", zap.String("order_id", p.OrderID))
		return nil
	}

	if err := n.Mailer.SendOrderConfirmation(ctx, p.Order, p.InvoiceURL, p.Recipient); err != nil {
		if rerr := n.Dedup.Release(ctx, env.EventID); rerr != nil {
			n.Log.Warn("release dedup claim", zap.String("event_id", env.EventID), zap.Error(rerr))
		}
		return err
	}
	n.Log.Info("order confirmation sent", zap.String("order_id", p.OrderID), zap.String("recipient", p.Recipient))
	return nil
}
