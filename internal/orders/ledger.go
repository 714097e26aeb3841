package orders

import (
	"context"
	"fmt"

	"github.com/ariefcatur/sweet-shop/internal/apperr"
	"github.com/ariefcatur/sweet-shop/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("orders")

// external_id is VARCHAR(128)
const maxExternalID = 128

const orderColumns = `id, external_id, user_id, total_price, created_at`

type Ledger struct{ DB postgres.Querier }

func NewLedger(db postgres.Querier) *Ledger { return &Ledger{DB: db} }

// RecordOrder writes the order and its items through q, which is expected to
// be the caller's transaction. The total is computed here from the lines.
func (l *Ledger) RecordOrder(ctx context.Context, q postgres.Querier, d Draft) (*Order, error) {
	ctx, span := tracer.Start(ctx, "Ledger.RecordOrder")
	defer span.End()

	if len(d.Lines) == 0 {
		return nil, apperr.EmptyOrder()
	}
	for _, ln := range d.Lines {
		if ln.Quantity < 1 {
			return nil, apperr.InvalidQuantity(ln.SweetID, ln.Quantity)
		}
		if ln.UnitPrice.IsNegative() {
			return nil, apperr.InvalidInput(fmt.Sprintf("negative unit price for sweet %d", ln.SweetID))
		}
	}

	total := d.Total()
	if total.Round(2).GreaterThan(MaxTotal) {
		return nil, apperr.InvalidInput("order total exceeds " + MaxTotal.StringFixed(2))
	}
	if len(d.ExternalID) > maxExternalID {
		return nil, apperr.InvalidInput(fmt.Sprintf("idempotency key longer than %d characters", maxExternalID))
	}

	o := &Order{
		ID:         uuid.NewString(),
		UserID:     d.UserID,
		TotalPrice: total,
		Items:      make([]OrderItem, 0, len(d.Lines)),
	}
	if d.ExternalID != "" {
		ext := d.ExternalID
		o.ExternalID = &ext
	}
	span.SetAttributes(attribute.String("order.id", o.ID), attribute.Int("order.lines", len(d.Lines)))

	err := q.QueryRow(ctx, `
		INSERT INTO orders(id, external_id, user_id, total_price)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		o.ID, o.ExternalID, o.UserID, o.TotalPrice,
	).Scan(&o.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, &apperr.Error{Kind: apperr.KindDuplicate, Msg: "order with this idempotency key already exists", Err: err}
		}
		return nil, postgres.Classify("insert order", err)
	}

	for _, ln := range d.Lines {
		item := OrderItem{OrderID: o.ID, SweetID: ln.SweetID, Quantity: ln.Quantity, UnitPrice: ln.UnitPrice}
		if err := q.QueryRow(ctx, `
			INSERT INTO order_items(order_id, sweet_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			o.ID, ln.SweetID, ln.Quantity, ln.UnitPrice,
		).Scan(&item.ID); err != nil {
			return nil, postgres.Classify("insert order item", err)
		}
		o.Items = append(o.Items, item)
	}
	return o, nil
}

func (l *Ledger) GetOrder(ctx context.Context, id string) (*Order, error) {
	ctx, span := tracer.Start(ctx, "Ledger.GetOrder")
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.NotFound("order", id)
	}
	return l.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
}

func (l *Ledger) GetByExternalID(ctx context.Context, externalID string) (*Order, error) {
	return l.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_id=$1`, externalID)
}

func (l *Ledger) getOne(ctx context.Context, sql string, key string) (*Order, error) {
	var o Order
	err := l.DB.QueryRow(ctx, sql, key).Scan(&o.ID, &o.ExternalID, &o.UserID, &o.TotalPrice, &o.CreatedAt)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, apperr.NotFound("order", key)
		}
		return nil, postgres.Classify("get order", err)
	}
	items, err := l.loadItems(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	if o.Items == nil {
		o.Items = []OrderItem{}
	}
	return &o, nil
}

func (l *Ledger) ListByUser(ctx context.Context, userID int64) ([]Order, error) {
	return l.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC, id`, userID)
}

func (l *Ledger) ListAll(ctx context.Context) ([]Order, error) {
	return l.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id`)
}

func (l *Ledger) list(ctx context.Context, sql string, args ...any) ([]Order, error) {
	rows, err := l.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, postgres.Classify("list orders", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Order, error) {
		var o Order
		err := row.Scan(&o.ID, &o.ExternalID, &o.UserID, &o.TotalPrice, &o.CreatedAt)
		return o, err
	})
	if err != nil {
		return nil, postgres.Classify("scan orders", err)
	}
	if len(out) == 0 {
		return []Order{}, nil
	}

	ids := make([]string, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	items, err := l.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
		if out[i].Items == nil {
			out[i].Items = []OrderItem{}
		}
	}
	return out, nil
}

func (l *Ledger) loadItems(ctx context.Context, orderIDs []string) (map[string][]OrderItem, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT id, order_id, sweet_id, quantity, unit_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY id`, orderIDs)
	if err != nil {
		return nil, postgres.Classify("load order items", err)
	}
	defer rows.Close()

	byOrder := make(map[string][]OrderItem, len(orderIDs))
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.SweetID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, postgres.Classify("scan order item", err)
		}
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.Classify("load order items", err)
	}
	return byOrder, nil
}
