package redisx

import "time"

const (
	// Bearer tokens: auth:token:{sha256(token)} -> user id
	KeyAuthToken = "auth:token:%s"

	// Committed order snapshot: order:{order_id} -> order json
	KeyOrder = "order:%d"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLOrderCache = 5 * time.Minute
	TTLDedup      = 48 * time.Hour
)
