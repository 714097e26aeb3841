package inventory

import (
	"context"

	"github.com/ariefcatur/sweet-shop/internal/apperr"
	"github.com/ariefcatur/sweet-shop/internal/catalog"
	"github.com/ariefcatur/sweet-shop/internal/postgres"
)

// Adjuster applies stock deltas. Every change is a single conditional
// UPDATE so two concurrent calls on the same sweet compose serially.
type Adjuster struct{}

func NewAdjuster() *Adjuster { return &Adjuster{} }

// Reserve decrements the sweet's stock by qty and returns what is left.
// Stock never goes below zero: when fewer than qty units remain nothing is
// written and InsufficientStock carries the available amount.
func (a *Adjuster) Reserve(ctx context.Context, q postgres.Querier, sweetID int64, qty int) (int, error) {
	if qty <= 0 || qty > catalog.MaxQuantity {
		return 0, apperr.InvalidQuantity(sweetID, qty)
	}

	var remaining int
	err := q.QueryRow(ctx, `
		UPDATE sweets SET quantity = quantity - $2, updated_at = NOW()
		WHERE id=$1 AND deleted_at IS NULL AND quantity >= $2
		RETURNING quantity`, sweetID, qty).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !postgres.IsNoRows(err) {
		return 0, postgres.Classify("reserve stock", err)
	}

	// nothing updated: either the sweet is gone or stock is short
	var available int
	err = q.QueryRow(ctx, `SELECT quantity FROM sweets WHERE id=$1 AND deleted_at IS NULL`, sweetID).Scan(&available)
	if err != nil {
		if postgres.IsNoRows(err) {
			return 0, apperr.SweetNotFound(sweetID)
		}
		return 0, postgres.Classify("read stock", err)
	}
	return 0, apperr.InsufficientStock(sweetID, qty, available)
}

// Restock increments the sweet's stock by qty and returns the new quantity.
// qty is bounded by the column type; a sum past it is InvalidQuantity too.
func (a *Adjuster) Restock(ctx context.Context, q postgres.Querier, sweetID int64, qty int) (int, error) {
	if qty <= 0 || qty > catalog.MaxQuantity {
		return 0, apperr.InvalidQuantity(sweetID, qty)
	}

	var quantity int
	err := q.QueryRow(ctx, `
		UPDATE sweets SET quantity = quantity + $2, updated_at = NOW()
		WHERE id=$1 AND deleted_at IS NULL
		RETURNING quantity`, sweetID, qty).Scan(&quantity)
	switch {
	case err == nil:
		return quantity, nil
	case postgres.IsNoRows(err):
		return 0, apperr.SweetNotFound(sweetID)
	case postgres.IsOutOfRange(err):
		return 0, &apperr.Error{
			Kind:      apperr.KindInvalidQuantity,
			Msg:       "restock would overflow stored quantity",
			SweetID:   sweetID,
			Requested: qty,
			Err:       err,
		}
	default:
		return 0, postgres.Classify("restock", err)
	}
}
