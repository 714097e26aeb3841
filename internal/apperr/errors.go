package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound            Kind = "NOT_FOUND"
	KindInvalidQuantity     Kind = "INVALID_QUANTITY"
	KindInsufficientStock   Kind = "INSUFFICIENT_STOCK"
	KindEmptyOrder          Kind = "EMPTY_ORDER"
	KindConcurrencyConflict Kind = "CONCURRENCY_CONFLICT"
	KindStorageFailure      Kind = "STORAGE_FAILURE"
	KindDuplicate           Kind = "DUPLICATE"
	KindInvalidInput        Kind = "INVALID_INPUT"
	KindUnauthenticated     Kind = "UNAUTHENTICATED"
	KindForbidden           Kind = "FORBIDDEN"
)

// Error is the structured failure returned by the shop core. Callers match on
// Kind (errors.Is against the sentinels below) and read the context fields to
// render a message.
type Error struct {
	Kind      Kind
	Msg       string
	SweetID   int64
	Available int
	Requested int
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match when target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound            = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrInvalidQuantity     = &Error{Kind: KindInvalidQuantity, Msg: "invalid quantity"}
	ErrInsufficientStock   = &Error{Kind: KindInsufficientStock, Msg: "insufficient stock"}
	ErrEmptyOrder          = &Error{Kind: KindEmptyOrder, Msg: "order has no items"}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict, Msg: "concurrent update, retry"}
	ErrStorageFailure      = &Error{Kind: KindStorageFailure, Msg: "storage failure"}
	ErrDuplicate           = &Error{Kind: KindDuplicate, Msg: "already exists"}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput, Msg: "invalid input"}
	ErrUnauthenticated     = &Error{Kind: KindUnauthenticated, Msg: "authentication required"}
	ErrForbidden           = &Error{Kind: KindForbidden, Msg: "forbidden"}
)

func NotFound(what string, id any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("%s %v not found", what, id)}
}

func SweetNotFound(id int64) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("sweet %d not found", id), SweetID: id}
}

func InvalidQuantity(sweetID int64, qty int) *Error {
	return &Error{
		Kind:      KindInvalidQuantity,
		Msg:       fmt.Sprintf("quantity must be a positive integer, got %d", qty),
		SweetID:   sweetID,
		Requested: qty,
	}
}

func InsufficientStock(sweetID int64, requested, available int) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		Msg:       fmt.Sprintf("Insufficient quantity. Only %d available.", available),
		SweetID:   sweetID,
		Requested: requested,
		Available: available,
	}
}

func EmptyOrder() *Error {
	return &Error{Kind: KindEmptyOrder, Msg: "order must contain at least one item"}
}

func Conflict(err error) *Error {
	return &Error{Kind: KindConcurrencyConflict, Msg: "concurrent update, retry", Err: err}
}

func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorageFailure, Msg: op, Err: err}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Msg: msg}
}

func InvalidInput(msg string) *Error {
	return &Error{Kind: KindInvalidInput, Msg: msg}
}

// KindOf classifies err. Anything that is not an *Error is a storage failure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorageFailure
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
