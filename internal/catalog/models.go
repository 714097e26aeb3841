package catalog

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Limits of the sweets columns (INTEGER quantity, NUMERIC(10,2) price).
const MaxQuantity = math.MaxInt32

var MaxPrice = decimal.RequireFromString("99999999.99")

type Category string

const (
	CategoryTraditional Category = "traditional"
	CategoryModern      Category = "modern"
	CategoryFestival    Category = "festival"
	CategoryPremium     Category = "premium"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryTraditional, CategoryModern, CategoryFestival, CategoryPremium:
		return true
	}
	return false
}

// Sweet is a catalog product. Quantity is owned by the inventory adjuster;
// Save never writes it.
type Sweet struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Category    Category        `json:"category"`
	CreatedBy   *int64          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type Filter struct {
	Name     string
	Category Category
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	Limit    int
}
