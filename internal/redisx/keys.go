package redisx

import "time"

const (
	// Idempotent checkout: idem:checkout:{user_id}:{idempotency_key} -> order_id
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// Cache the latest serialized order: order_status:{order_id} -> order JSON
	KeyOrderStatus = "order_status:%s"

	// Dedup payment events: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Manual reconciliation flag: reconcile:{reservation_token} -> order_id
	KeyReconcile = "reconcile:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLReconcile   = 7 * 24 * time.Hour
)
