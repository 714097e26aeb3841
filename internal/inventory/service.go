package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/sweet-shop/internal/catalog"
	kafkax "github.com/ariefcatur/sweet-shop/internal/kafka"
	"github.com/ariefcatur/sweet-shop/internal/metrics"
	"github.com/ariefcatur/sweet-shop/internal/orders"
	"github.com/ariefcatur/sweet-shop/internal/redisx"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	SourceOrder = "ORDER"
	SourceSweep = "SWEEP"
)

type LowStockLister interface {
	ListLowStock(ctx context.Context, threshold, limit int) ([]catalog.Sweet, error)
}

type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// Watcher raises sweet.stock_low alerts. It reacts to order.placed events
// and to a periodic sweep; each sweet alerts at most once per AlertTTL until
// a restock lifts it back above the threshold.
type Watcher struct {
	Redis       redisx.Claimer
	Sweets      LowStockLister
	Events      Publisher
	Metrics     *metrics.Shop
	Log         *zap.Logger
	Threshold   int
	AlertTTL    time.Duration
	ServiceName string
}

// HandleOrderPlaced is installed as the order.placed consumer handler.
func (w *Watcher) HandleOrderPlaced(ctx context.Context, m kafkago.Message) error {
	env, ok := w.decode(m, orders.EventOrderPlaced)
	if !ok {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, "stockwatch", env.EventID)
	claimed, err := redisx.Claim(ctx, w.Redis, dkey, redisx.TTLDedup)
	if err != nil {
		return fmt.Errorf("claim %s: %w", dkey, err)
	}
	if !claimed {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	if err != nil {
		w.Log.Warn("skip malformed order.placed", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	for _, it := range p.Items {
		if it.Remaining > w.Threshold {
			continue
		}
		alert := orders.StockLowPayload{
			SweetID:   it.SweetID,
			Quantity:  it.Remaining,
			Threshold: w.Threshold,
			Source:    SourceOrder,
		}
		if _, err := w.publishOnce(ctx, alert, env.TraceID); err != nil {
			// let the redelivery try again
			_ = redisx.Release(ctx, w.Redis, dkey)
			return err
		}
	}
	return nil
}

// HandleSweetRestocked re-arms the alert for a sweet whose stock went back
// above the threshold.
func (w *Watcher) HandleSweetRestocked(ctx context.Context, m kafkago.Message) error {
	env, ok := w.decode(m, orders.EventSweetRestocked)
	if !ok {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.SweetRestockedPayload](env.Payload)
	if err != nil {
		w.Log.Warn("skip malformed sweet.restocked", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if p.Quantity <= w.Threshold {
		return nil
	}
	return redisx.Release(ctx, w.Redis, fmt.Sprintf(redisx.KeyStockAlert, p.SweetID))
}

// Sweep alerts on every sweet at or below the threshold and returns how many
// alerts were published.
func (w *Watcher) Sweep(ctx context.Context) (int, error) {
	low, err := w.Sweets.ListLowStock(ctx, w.Threshold, 500)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, sw := range low {
		alert := orders.StockLowPayload{
			SweetID:   sw.ID,
			Name:      sw.Name,
			Quantity:  sw.Quantity,
			Threshold: w.Threshold,
			Source:    SourceSweep,
		}
		published, err := w.publishOnce(ctx, alert, "")
		if err != nil {
			return sent, err
		}
		if published {
			sent++
		}
	}
	return sent, nil
}

func (w *Watcher) decode(m kafkago.Message, want string) (orders.Envelope, bool) {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		w.Log.Warn("skip undecodable message",
			zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return env, false
	}
	return env, env.EventType == want
}

func (w *Watcher) publishOnce(ctx context.Context, p orders.StockLowPayload, trace string) (bool, error) {
	key := fmt.Sprintf(redisx.KeyStockAlert, p.SweetID)
	ttl := w.AlertTTL
	if ttl <= 0 {
		ttl = redisx.TTLStockAlert
	}
	ok, err := redisx.Claim(ctx, w.Redis, key, ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}

	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventStockLow,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      w.ServiceName,
		TraceID:       trace,
		CorrelationID: string(orders.SweetKey(p.SweetID)),
		Payload:       kafkax.MustMarshal(p),
	}
	w.Events.Publish(orders.TopicStockLow, orders.SweetKey(p.SweetID), kafkax.MustMarshal(ev),
		kafkax.EventHeaders(orders.EventStockLow, 1)...)

	if w.Metrics != nil {
		w.Metrics.StockLow.WithLabelValues(strings.ToLower(p.Source)).Inc()
	}
	w.Log.Info("stock low",
		zap.Int64("sweet_id", p.SweetID), zap.Int("quantity", p.Quantity), zap.String("source", p.Source))
	return true, nil
}
