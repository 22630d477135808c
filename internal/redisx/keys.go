package redisx

import "time"

const (
	// Create idempotency: idem:order:create:{tenant_id}:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%d:%s"

	// Status cache: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup: dedup:{service}:{id} (id = event_id, or awb:status for webhooks)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
