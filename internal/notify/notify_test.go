package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-pod-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-pod-fulfillment/internal/orders"
)

type published struct {
	topic   string
	key     []byte
	value   []byte
	headers []kafkago.Header
}

type fakePublisher struct{ out []published }

func (f *fakePublisher) Publish(_ context.Context, topic string, key, value []byte, headers ...kafkago.Header) error {
	f.out = append(f.out, published{topic, key, value, headers})
	return nil
}

func TestEventPublisher_Settled(t *testing.T) {
	pub := &fakePublisher{}
	hook := EventPublisher{Pub: pub, Producer: "fulfillment-api"}
	summary := orders.OrderSummary{OrderID: "7_3", TotalAmount: decimal.RequireFromString("300")}

	err := hook.Handle(context.Background(), orders.Event{
		Type: orders.EventOrderSettled, OrderID: "7_3", HeaderID: 3, TenantID: 7,
		InvoiceURL: "https://files/7_3.pdf", Recipient: "buyer@example.com", Summary: &summary,
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, pub.out, 1)

	msg := pub.out[0]
	assert.Equal(t, orders.TopicOrderSettled, msg.topic)
	assert.Equal(t, []byte("7_3"), msg.key)
	assert.Equal(t, orders.EventOrderSettled, kafkax.HeaderValue(msg.headers, kafkax.HeaderEventType))

	var env orders.Envelope
	require.NoError(t, json.Unmarshal(msg.value, &env))
	assert.Equal(t, "fulfillment-api", env.Producer)
	assert.Equal(t, "7_3", env.CorrelationID)
	assert.NotEmpty(t, env.EventID)

	p, err := kafkax.UnwrapPayload[orders.OrderSettledPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", p.Recipient)
	assert.True(t, p.Order.TotalAmount.Equal(decimal.RequireFromString("300")))
}

func TestEventPublisher_StatusChanged(t *testing.T) {
	pub := &fakePublisher{}
	err := EventPublisher{Pub: pub}.Handle(context.Background(), orders.Event{
		Type: orders.EventOrderStatusChanged, OrderID: "7_3",
		Previous: orders.StatusPrinted, Status: orders.StatusQC,
	})
	require.NoError(t, err)
	require.Len(t, pub.out, 1)
	assert.Equal(t, orders.TopicOrderStatusChanged, pub.out[0].topic)

	var env orders.Envelope
	require.NoError(t, json.Unmarshal(pub.out[0].value, &env))
	p, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPrinted, p.From)
	assert.Equal(t, orders.StatusQC, p.To)
}

type fakeCache struct{ got map[string]string }

func (f *fakeCache) Put(_ context.Context, orderID, status string, _ time.Time) error {
	f.got[orderID] = status
	return nil
}

func TestCacheHook(t *testing.T) {
	c := &fakeCache{got: map[string]string{}}
	require.NoError(t, CacheHook{c}.Handle(context.Background(), orders.Event{OrderID: "7_3", Status: orders.StatusLive}))
	assert.Equal(t, "live", c.got["7_3"])
}

type fakeDedup struct {
	seen     map[string]bool
	released []string
}

func (d *fakeDedup) Claim(_ context.Context, key string) (bool, error) {
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func (d *fakeDedup) Release(_ context.Context, key string) error {
	delete(d.seen, key)
	d.released = append(d.released, key)
	return nil
}

type fakeMailer struct {
	sent []string
	err  error
}

func (m *fakeMailer) SendOrderConfirmation(_ context.Context, o orders.OrderSummary, invoiceURL, recipient string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, o.OrderID+"|"+invoiceURL+"|"+recipient)
	return nil
}

func settledMessage(t *testing.T, eventID string) kafkago.Message {
	t.Helper()
	env := orders.Envelope{
		EventID:   eventID,
		EventType: orders.EventOrderSettled,
		Payload: kafkax.MustMarshal(orders.OrderSettledPayload{
			OrderID: "7_3", InvoiceURL: "https://files/7_3.pdf", Recipient: "buyer@example.com",
			Order: orders.OrderSummary{OrderID: "7_3"},
		}),
	}
	return kafkago.Message{Value: kafkax.MustMarshal(env)}
}

func TestNotifier_SendsOncePerEvent(t *testing.T) {
	mail := &fakeMailer{}
	n := &Notifier{Mailer: mail, Dedup: &fakeDedup{seen: map[string]bool{}}, Log: zap.NewNop()}

	require.NoError(t, n.HandleSettled(context.Background(), settledMessage(t, "ev-1")))
	require.NoError(t, n.HandleSettled(context.Background(), settledMessage(t, "ev-1")))

	assert.Equal(t, []string{"7_3|https://files/7_3.pdf|buyer@example.com"}, mail.sent)
}

func TestNotifier_MailFailureReleasesClaim(t *testing.T) {
	dedup := &fakeDedup{seen: map[string]bool{}}
	mail := &fakeMailer{err: errors.New("smtp down")}
	n := &Notifier{Mailer: mail, Dedup: dedup, Log: zap.NewNop()}

	err := n.HandleSettled(context.Background(), settledMessage(t, "ev-2"))
	assert.Error(t, err)
	assert.Equal(t, []string{"ev-2"}, dedup.released)

	mail.err = nil
	require.NoError(t, n.HandleSettled(context.Background(), settledMessage(t, "ev-2")))
	assert.Len(t, mail.sent, 1)
}

func TestNotifier_IgnoresOtherEventsAndGarbage(t *testing.T) {
	mail := &fakeMailer{}
	n := &Notifier{Mailer: mail, Dedup: &fakeDedup{seen: map[string]bool{}}, Log: zap.NewNop()}

	assert.NoError(t, n.HandleSettled(context.Background(), kafkago.Message{Value: []byte("not json")}))
	other := kafkax.MustMarshal(orders.Envelope{EventID: "x", EventType: orders.EventOrderCreated})
	assert.NoError(t, n.HandleSettled(context.Background(), kafkago.Message{Value: other}))
	assert.Empty(t, mail.sent)
}

func TestNotifier_FiltersOnEventTypeHeader(t *testing.T) {
	mail := &fakeMailer{}
	n := &Notifier{Mailer: mail, Dedup: &fakeDedup{seen: map[string]bool{}}, Log: zap.NewNop()}

	m := settledMessage(t, "ev-3")
	m.Headers = []kafkago.Header{{Key: kafkax.HeaderEventType, Value: []byte(orders.EventOrderCreated)}}
	require.NoError(t, n.HandleSettled(context.Background(), m))
	assert.Empty(t, mail.sent)

	m.Headers = []kafkago.Header{{Key: kafkax.HeaderEventType, Value: []byte(orders.EventOrderSettled)}}
	require.NoError(t, n.HandleSettled(context.Background(), m))
	assert.Len(t, mail.sent, 1)
}
