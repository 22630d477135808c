package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderSettled       = "order.settled"
	TopicOrderStatusChanged = "order.status_changed"
)

// TopicFor maps an event type to its topic.
func TopicFor(eventType string) string {
	switch eventType {
	case EventOrderCreated:
		return TopicOrderCreated
	case EventOrderSettled:
		return TopicOrderSettled
	default:
		return TopicOrderStatusChanged
	}
}

// Partition key = order id, so one order's events stay ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
