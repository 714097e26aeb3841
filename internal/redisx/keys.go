package redisx

import "time"

const (
	// Immutable order snapshot: order:{order_id} -> Order JSON
	KeyOrder = "order:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Low-stock alert throttle: stock_alert:{sweet_id}
	KeyStockAlert = "stock_alert:%d"
)

var (
	TTLOrder      = 10 * time.Minute
	TTLDedup      = 48 * time.Hour
	TTLStockAlert = time.Hour
)
