package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ariefcatur/sweet-shop/internal/apperr"
	"github.com/ariefcatur/sweet-shop/internal/auth"
	"github.com/ariefcatur/sweet-shop/internal/purchase"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

type CreateSweetReq struct {
	Name        string          `json:"name" validate:"required,min=1,max=100"`
	Description string          `json:"description" validate:"max=1000"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity" validate:"gte=0,lte=2147483647"`
	Category    string          `json:"category" validate:"omitempty,oneof=traditional modern festival premium"`
}

// UpdateSweetReq changes descriptive fields only; stock moves through
// purchase and restock.
type UpdateSweetReq struct {
	Name        *string          `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string          `json:"description" validate:"omitempty,max=1000"`
	Price       *decimal.Decimal `json:"price"`
	Category    *string          `json:"category" validate:"omitempty,oneof=traditional modern festival premium"`
}

// PurchaseReq accepts "quantity" and the older "amount"; an empty body buys one.
type PurchaseReq struct {
	Quantity *int `json:"quantity"`
	Amount   *int `json:"amount"`
}

func (p PurchaseReq) quantity() *int {
	if p.Quantity != nil {
		return p.Quantity
	}
	return p.Amount
}

type RestockReq struct {
	Quantity int `json:"quantity"`
}

type OrderItemReq struct {
	SweetID  int64 `json:"sweet" validate:"required,gt=0"`
	Quantity int   `json:"quantity"`
}

type CreateOrderReq struct {
	Items []OrderItemReq `json:"items" validate:"dive"`
}

func decode(r *http.Request, v any, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) && isQuantityField(te.Field) {
		return &apperr.Error{
			Kind: apperr.KindInvalidQuantity,
			Msg:  fmt.Sprintf("%s must be a positive integer", lastSegment(te.Field)),
			Err:  err,
		}
	}
	if err != nil {
		return apperr.InvalidInput("invalid json")
	}
	return nil
}

// isQuantityField matches "quantity", "amount" and nested paths such as
// "items.quantity".
func isQuantityField(path string) bool {
	switch lastSegment(path) {
	case "quantity", "amount":
		return true
	}
	return false
}

func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// check runs the struct validator and turns its report into one
// INVALID_INPUT error with per-field messages.
func check(v any) (map[string]string, error) {
	err := validate.Struct(v)
	if err == nil {
		return nil, nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil, apperr.InvalidInput(err.Error())
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", field)
		case "min":
			fields[field] = fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		case "max":
			fields[field] = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		case "gt":
			fields[field] = fmt.Sprintf("%s must be greater than %s", field, fe.Param())
		case "lte":
			fields[field] = fmt.Sprintf("%s must be at most %s", field, fe.Param())
		case "gte":
			fields[field] = fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
		case "oneof":
			fields[field] = fmt.Sprintf("%s must be one of: %s", field, fe.Param())
		default:
			fields[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return fields, apperr.InvalidInput("validation failed")
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidInput(fmt.Sprintf("invalid id %q", raw))
	}
	return id, nil
}

func caller(r *http.Request) (purchase.Caller, error) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		return purchase.Caller{}, apperr.ErrUnauthenticated
	}
	return purchase.Caller{UserID: p.UserID, IsAdmin: p.IsAdmin()}, nil
}

func requireAdmin(r *http.Request) (purchase.Caller, error) {
	c, err := caller(r)
	if err != nil {
		return c, err
	}
	if !c.IsAdmin {
		return c, apperr.Forbidden("administrator role required")
	}
	return c, nil
}
