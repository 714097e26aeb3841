package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Shop struct {
	Purchases  *prometheus.CounterVec
	UnitsSold  prometheus.Counter
	Restocks   *prometheus.CounterVec
	Retries    prometheus.Counter
	Duration   *prometheus.HistogramVec
	StockLow   *prometheus.CounterVec
	EventsLost prometheus.Counter
}

func New(reg prometheus.Registerer) *Shop {
	m := &Shop{
		Purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sweetshop",
			Name:      "purchases_total",
			Help:      "Purchase attempts by entry point and outcome.",
		}, []string{"entry", "outcome"}),
		UnitsSold: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sweetshop",
			Name:      "units_sold_total",
			Help:      "Units removed from stock by committed purchases.",
		}),
		Restocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sweetshop",
			Name:      "restocks_total",
			Help:      "Restock calls by outcome.",
		}, []string{"outcome"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sweetshop",
			Name:      "purchase_retries_total",
			Help:      "Purchase transactions re-run after a serialization conflict.",
		}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sweetshop",
			Name:      "operation_duration_seconds",
			Help:      "Latency of core operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		StockLow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sweetshop",
			Name:      "stock_low_alerts_total",
			Help:      "Low stock alerts published by source.",
		}, []string{"source"}),
		EventsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sweetshop",
			Name:      "events_dropped_total",
			Help:      "Events the producer failed to deliver.",
		}),
	}
	reg.MustRegister(m.Purchases, m.UnitsSold, m.Restocks, m.Retries, m.Duration, m.StockLow, m.EventsLost)
	return m
}

// NewRegistry returns a registry preloaded with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
