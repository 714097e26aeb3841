package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced    = "OrderPlaced"
	EventSweetRestocked = "SweetRestocked"
	EventStockLow       = "StockLow"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id or sweet id
	Payload       json.RawMessage `json:"payload"`
}

type PlacedItem struct {
	SweetID   int64           `json:"sweet_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Remaining int             `json:"remaining"`
}

type OrderPlacedPayload struct {
	OrderID    string          `json:"order_id"`
	ExternalID string          `json:"external_id,omitempty"`
	UserID     int64           `json:"user_id"`
	Items      []PlacedItem    `json:"items"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type SweetRestockedPayload struct {
	SweetID  int64 `json:"sweet_id"`
	Added    int   `json:"added"`
	Quantity int   `json:"quantity"`
	By       int64 `json:"by"`
}

type StockLowPayload struct {
	SweetID   int64  `json:"sweet_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	Threshold int    `json:"threshold"`
	Source    string `json:"source"` // ORDER | SWEEP
}

// PlacedPayload builds the order.placed payload; remaining maps sweet id to
// the stock left after the purchase.
func PlacedPayload(o *Order, remaining map[int64]int) OrderPlacedPayload {
	p := OrderPlacedPayload{
		OrderID:    o.ID,
		UserID:     o.UserID,
		TotalPrice: o.TotalPrice,
		Items:      make([]PlacedItem, 0, len(o.Items)),
	}
	if o.ExternalID != nil {
		p.ExternalID = *o.ExternalID
	}
	for _, it := range o.Items {
		p.Items = append(p.Items, PlacedItem{
			SweetID:   it.SweetID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Remaining: remaining[it.SweetID],
		})
	}
	return p
}
