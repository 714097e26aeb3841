package orders

import "strconv"

const (
	TopicOrderPlaced    = "shop.order.placed"
	TopicSweetRestocked = "shop.sweet.restocked"
	TopicStockLow       = "shop.sweet.stock_low"
)

// Partition by order id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

// SweetKey partitions stock events by sweet.
func SweetKey(sweetID int64) []byte { return []byte(strconv.FormatInt(sweetID, 10)) }
