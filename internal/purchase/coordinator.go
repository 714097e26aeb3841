package purchase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/sweet-shop/internal/apperr"
	"github.com/ariefcatur/sweet-shop/internal/catalog"
	kafkax "github.com/ariefcatur/sweet-shop/internal/kafka"
	"github.com/ariefcatur/sweet-shop/internal/metrics"
	"github.com/ariefcatur/sweet-shop/internal/orders"
	"github.com/ariefcatur/sweet-shop/internal/postgres"
	"github.com/ariefcatur/sweet-shop/internal/telemetry"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("purchase")

// Caller is the identity the auth layer resolved for the request. The
// coordinator never derives IsAdmin on its own.
type Caller struct {
	UserID  int64
	IsAdmin bool
}

type LineItem struct {
	SweetID  int64
	Quantity int
}

// MaxExternalIDLen bounds Options.ExternalID.
const MaxExternalIDLen = 128

type Options struct {
	// ExternalID makes Purchase idempotent: a repeated key returns the
	// order recorded the first time.
	ExternalID string
}

type Receipt struct {
	Order *orders.Order
	// Remaining is the stock left per purchased sweet after commit.
	Remaining map[int64]int
	// RemainingQuantity is set by PurchaseOne.
	RemainingQuantity int
	Replayed          bool
}

type SweetStore interface {
	Get(ctx context.Context, id int64) (*catalog.Sweet, error)
	GetForUpdate(ctx context.Context, q postgres.Querier, id int64) (*catalog.Sweet, error)
}

type StockAdjuster interface {
	Reserve(ctx context.Context, q postgres.Querier, sweetID int64, qty int) (int, error)
	Restock(ctx context.Context, q postgres.Querier, sweetID int64, qty int) (int, error)
}

type OrderRecorder interface {
	RecordOrder(ctx context.Context, q postgres.Querier, d orders.Draft) (*orders.Order, error)
	GetByExternalID(ctx context.Context, externalID string) (*orders.Order, error)
}

type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

type RetryPolicy struct {
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Coordinator struct {
	db      postgres.DB
	sweets  SweetStore
	stock   StockAdjuster
	ledger  OrderRecorder
	events  Publisher
	metrics *metrics.Shop
	log     *zap.Logger
	retry   RetryPolicy
	service string
}

type Option func(*Coordinator)

func WithPublisher(p Publisher) Option { return func(c *Coordinator) { c.events = p } }

func WithMetrics(m *metrics.Shop) Option { return func(c *Coordinator) { c.metrics = m } }

func WithRetry(p RetryPolicy) Option { return func(c *Coordinator) { c.retry = p } }

func WithServiceName(name string) Option { return func(c *Coordinator) { c.service = name } }

func New(db postgres.DB, sweets SweetStore, stock StockAdjuster, ledger OrderRecorder, log *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		db:     db,
		sweets: sweets,
		stock:  stock,
		ledger: ledger,
		log:    log,
		retry: RetryPolicy{
			MaxRetries:     3,
			InitialBackoff: 20 * time.Millisecond,
			MaxBackoff:     500 * time.Millisecond,
		},
		service: "sweet-shop",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// PurchaseOne buys a single sweet. A nil quantity means 1.
func (c *Coordinator) PurchaseOne(ctx context.Context, caller Caller, sweetID int64, quantity *int) (*Receipt, error) {
	qty := 1
	if quantity != nil {
		qty = *quantity
	}
	r, err := c.run(ctx, "single", caller, []LineItem{{SweetID: sweetID, Quantity: qty}}, Options{})
	if err != nil {
		return nil, err
	}
	r.RemainingQuantity = r.Remaining[sweetID]
	return r, nil
}

// Purchase buys every line item in one all-or-nothing transaction.
func (c *Coordinator) Purchase(ctx context.Context, caller Caller, items []LineItem, opts Options) (*Receipt, error) {
	return c.run(ctx, "multi", caller, items, opts)
}

func (c *Coordinator) run(ctx context.Context, entry string, caller Caller, items []LineItem, opts Options) (*Receipt, error) {
	ctx, span := tracer.Start(ctx, "Coordinator.Purchase")
	defer span.End()
	span.SetAttributes(
		attribute.String("purchase.entry", entry),
		attribute.Int64("purchase.user_id", caller.UserID),
		attribute.Int("purchase.lines", len(items)),
	)
	start := time.Now()

	r, err := c.purchase(ctx, caller, items, opts)

	c.observe("purchase", start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
		c.countPurchase(entry, err)
		return nil, err
	}
	c.countPurchase(entry, nil)
	if !r.Replayed {
		c.soldUnits(items)
		c.publishPlaced(ctx, r)
		telemetry.Info(ctx, c.log, "order placed",
			zap.String("order_id", r.Order.ID),
			zap.Int64("user_id", caller.UserID),
			zap.String("total", r.Order.TotalPrice.StringFixed(2)))
	}
	return r, nil
}

func (c *Coordinator) purchase(ctx context.Context, caller Caller, items []LineItem, opts Options) (*Receipt, error) {
	if caller.UserID <= 0 {
		return nil, &apperr.Error{Kind: apperr.KindUnauthenticated, Msg: "purchase requires an authenticated user"}
	}
	// fail fast: nothing below touches storage until the request is well formed
	if len(items) == 0 {
		return nil, apperr.EmptyOrder()
	}
	for _, it := range items {
		if it.Quantity < 1 || it.Quantity > catalog.MaxQuantity {
			return nil, apperr.InvalidQuantity(it.SweetID, it.Quantity)
		}
	}
	if len(opts.ExternalID) > MaxExternalIDLen {
		return nil, apperr.InvalidInput(fmt.Sprintf("idempotency key longer than %d characters", MaxExternalIDLen))
	}

	if opts.ExternalID != "" {
		if r, ok, err := c.replay(ctx, caller, opts.ExternalID); err != nil || ok {
			return r, err
		}
	}

	r, err := backoff.RetryNotifyWithData(func() (*Receipt, error) {
		r, err := c.attempt(ctx, caller, items, opts)
		if err != nil && !errors.Is(err, apperr.ErrConcurrencyConflict) {
			return nil, backoff.Permanent(err)
		}
		return r, err
	}, c.backoff(ctx), func(err error, next time.Duration) {
		if c.metrics != nil {
			c.metrics.Retries.Inc()
		}
		telemetry.Warn(ctx, c.log, "purchase conflict, retrying", zap.Duration("in", next), zap.Error(err))
	})
	if err != nil {
		// a concurrent request with the same key won the insert
		if opts.ExternalID != "" && errors.Is(err, apperr.ErrDuplicate) {
			if r, ok, rerr := c.replay(ctx, caller, opts.ExternalID); rerr == nil && ok {
				return r, nil
			}
		}
		return nil, err
	}
	return r, nil
}

// attempt runs Validating -> Reserving -> Recording -> Committed once.
func (c *Coordinator) attempt(ctx context.Context, caller Caller, items []LineItem, opts Options) (*Receipt, error) {
	m := newMachine()
	var receipt *Receipt

	err := postgres.WithTx(ctx, c.db, func(tx pgx.Tx) error {
		locked, err := c.lockSweets(ctx, tx, items)
		if err != nil {
			return err
		}
		// each item is checked against its own sweet's current stock
		for _, it := range items {
			if sw := locked[it.SweetID]; it.Quantity > sw.Quantity {
				return apperr.InsufficientStock(it.SweetID, it.Quantity, sw.Quantity)
			}
		}

		if err := m.advance(StateReserving); err != nil {
			return err
		}
		remaining := make(map[int64]int, len(locked))
		lines := make([]orders.Line, 0, len(items))
		for _, it := range items {
			left, err := c.stock.Reserve(ctx, tx, it.SweetID, it.Quantity)
			if err != nil {
				return err
			}
			remaining[it.SweetID] = left
			lines = append(lines, orders.Line{
				SweetID:   it.SweetID,
				Quantity:  it.Quantity,
				UnitPrice: locked[it.SweetID].Price,
			})
		}

		if err := m.advance(StateRecording); err != nil {
			return err
		}
		order, err := c.ledger.RecordOrder(ctx, tx, orders.Draft{
			UserID:     caller.UserID,
			ExternalID: opts.ExternalID,
			Lines:      lines,
		})
		if err != nil {
			return err
		}
		receipt = &Receipt{Order: order, Remaining: remaining}
		return nil
	})
	if err != nil {
		failedIn := m.abort()
		telemetry.Debug(ctx, c.log, "purchase aborted",
			zap.String("state", string(failedIn)),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err))
		return nil, postgres.Classify("purchase transaction", err)
	}
	if err := m.advance(StateCommitted); err != nil {
		return nil, err
	}
	return receipt, nil
}

// lockSweets takes row locks in ascending id order so that two multi-item
// purchases can never wait on each other in a cycle.
func (c *Coordinator) lockSweets(ctx context.Context, q postgres.Querier, items []LineItem) (map[int64]*catalog.Sweet, error) {
	ids := make([]int64, 0, len(items))
	seen := make(map[int64]bool, len(items))
	for _, it := range items {
		if !seen[it.SweetID] {
			seen[it.SweetID] = true
			ids = append(ids, it.SweetID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	locked := make(map[int64]*catalog.Sweet, len(ids))
	for _, id := range ids {
		sw, err := c.sweets.GetForUpdate(ctx, q, id)
		if err != nil {
			return nil, err
		}
		locked[id] = sw
	}
	return locked, nil
}

func (c *Coordinator) replay(ctx context.Context, caller Caller, externalID string) (*Receipt, bool, error) {
	o, err := c.ledger.GetByExternalID(ctx, externalID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if o.UserID != caller.UserID {
		return nil, false, &apperr.Error{Kind: apperr.KindDuplicate, Msg: "idempotency key already used"}
	}
	remaining := make(map[int64]int, len(o.Items))
	for _, it := range o.Items {
		if sw, err := c.sweets.Get(ctx, it.SweetID); err == nil {
			remaining[it.SweetID] = sw.Quantity
		}
	}
	return &Receipt{Order: o, Remaining: remaining, Replayed: true}, true, nil
}

// Restock adds qty units to the sweet. Only administrators may restock and
// no order is created.
func (c *Coordinator) Restock(ctx context.Context, caller Caller, sweetID int64, qty int) (int, error) {
	ctx, span := tracer.Start(ctx, "Coordinator.Restock")
	defer span.End()
	start := time.Now()
	defer c.observe("restock", start)

	if !caller.IsAdmin {
		c.countRestock(apperr.ErrForbidden)
		return 0, apperr.Forbidden("restock requires an administrator")
	}
	n, err := c.stock.Restock(ctx, c.db, sweetID, qty)
	c.countRestock(err)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	telemetry.Info(ctx, c.log, "sweet restocked",
		zap.Int64("sweet_id", sweetID), zap.Int("added", qty), zap.Int("quantity", n))
	c.publish(ctx, orders.TopicSweetRestocked, orders.EventSweetRestocked,
		orders.SweetKey(sweetID), orders.SweetKey(sweetID),
		orders.SweetRestockedPayload{SweetID: sweetID, Added: qty, Quantity: n, By: caller.UserID})
	return n, nil
}

func (c *Coordinator) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialBackoff
	b.MaxInterval = c.retry.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, c.retry.MaxRetries), ctx)
}

func (c *Coordinator) publishPlaced(ctx context.Context, r *Receipt) {
	c.publish(ctx, orders.TopicOrderPlaced, orders.EventOrderPlaced,
		orders.PartitionKey(r.Order.ID), []byte(r.Order.ID),
		orders.PlacedPayload(r.Order, r.Remaining))
}

func (c *Coordinator) publish(ctx context.Context, topic, eventType string, key, correlation []byte, payload any) {
	if c.events == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      c.service,
		TraceID:       telemetry.TraceID(ctx),
		CorrelationID: string(correlation),
		Payload:       kafkax.MustMarshal(payload),
	}
	c.events.Publish(topic, key, kafkax.MustMarshal(ev), kafkax.EventHeaders(eventType, 1)...)
}

func (c *Coordinator) observe(op string, start time.Time) {
	if c.metrics != nil {
		c.metrics.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(apperr.KindOf(err)))
}

func (c *Coordinator) countPurchase(entry string, err error) {
	if c.metrics != nil {
		c.metrics.Purchases.WithLabelValues(entry, outcome(err)).Inc()
	}
}

func (c *Coordinator) countRestock(err error) {
	if c.metrics != nil {
		c.metrics.Restocks.WithLabelValues(outcome(err)).Inc()
	}
}

func (c *Coordinator) soldUnits(items []LineItem) {
	if c.metrics == nil {
		return
	}
	for _, it := range items {
		c.metrics.UnitsSold.Add(float64(it.Quantity))
	}
}
