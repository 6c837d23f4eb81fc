package redisx

import "time"

const (
	// Order number counter per day: order_seq:{yyyymmdd} -> last number handed out
	KeyOrderSeq = "order_seq:%s"

	// Cached status: order_status:{order_id} -> {"status": "...", "version": n, "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"
)

var (
	// a day counter outlives its day so late requests never restart at 1
	TTLOrderSeq    = 48 * time.Hour
	TTLStatusCache = 5 * time.Minute
)
