package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxTotal is the largest total_price NUMERIC(12,2) holds.
var MaxTotal = decimal.RequireFromString("9999999999.99")

// Order is immutable once recorded.
type Order struct {
	ID         string          `json:"id"`
	ExternalID *string         `json:"external_id,omitempty"`
	UserID     int64           `json:"user_id"`
	TotalPrice decimal.Decimal `json:"total_price"`
	CreatedAt  time.Time       `json:"created_at"`
	Items      []OrderItem     `json:"items"`
}

type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   string          `json:"order_id"`
	SweetID   int64           `json:"sweet_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Line is one priced line of an order about to be recorded.
type Line struct {
	SweetID   int64
	Quantity  int
	UnitPrice decimal.Decimal
}

type Draft struct {
	UserID     int64
	ExternalID string
	Lines      []Line
}

// Total is the exact sum of quantity x unit price over all lines.
func (d Draft) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range d.Lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}
