package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ariefcatur/sweet-shop/internal/catalog"
	"github.com/ariefcatur/sweet-shop/internal/config"
	"github.com/ariefcatur/sweet-shop/internal/inventory"
	kafkax "github.com/ariefcatur/sweet-shop/internal/kafka"
	"github.com/ariefcatur/sweet-shop/internal/metrics"
	"github.com/ariefcatur/sweet-shop/internal/orders"
	"github.com/ariefcatur/sweet-shop/internal/postgres"
	"github.com/ariefcatur/sweet-shop/internal/redisx"
	"github.com/ariefcatur/sweet-shop/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	service := cfg.ServiceName + "-stockwatch"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.InitTracer(ctx, service, cfg.Env, cfg.Otel.Endpoint)
	if err != nil {
		logger.Fatal("tracer init failed", zap.Error(err))
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// DB (read-only use: the sweep lists low stock)
	db, err := postgres.Connect(ctx, cfg.Postgres.DSN, postgres.PoolConfig{MaxConns: 4, MinConns: 1})
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.Redis.Addr)
	defer rdb.Close()

	reg := metrics.NewRegistry()
	shopMetrics := metrics.New(reg)

	prod := kafkax.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Buffer, logger)
	prod.OnDrop(func(kafkago.Message, error) {
		shopMetrics.EventsLost.Inc()
	})
	// the producer outlives the consumers so in-flight alerts still flush
	prodCtx, prodCancel := context.WithCancel(context.Background())
	defer prodCancel()
	prod.Start(prodCtx)

	w := &inventory.Watcher{
		Redis:       rdb,
		Sweets:      catalog.NewStore(db),
		Events:      prod,
		Metrics:     shopMetrics,
		Log:         logger,
		Threshold:   cfg.Stock.LowThreshold,
		AlertTTL:    cfg.Stock.AlertTTL,
		ServiceName: service,
	}

	// Consumers
	var wg sync.WaitGroup
	consume := func(group, topic string, workers int, h kafkax.Handler) {
		cons := kafkax.NewConsumer(cfg.Kafka.Brokers, group, topic, workers, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("consumer started",
				zap.String("group", group), zap.String("topic", topic), zap.Int("workers", workers))
			if err := cons.Start(ctx, h); err != nil {
				logger.Error("consumer exit", zap.String("topic", topic), zap.Error(err))
				cancel()
			}
		}()
	}
	consume(cfg.Kafka.Group, orders.TopicOrderPlaced, cfg.Kafka.Workers, w.HandleOrderPlaced)
	consume(cfg.Kafka.Group+"-restock", orders.TopicSweetRestocked, 1, w.HandleSweetRestocked)

	// Periodic sweep
	sched, err := inventory.NewSweepScheduler(ctx, w, cfg.Stock.SweepInterval)
	if err != nil {
		logger.Fatal("sweep scheduler failed", zap.Error(err))
	}
	sched.Start()

	// Metrics endpoint
	mux := chi.NewRouter()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) { _, _ = rw.Write([]byte("ok")) })
	srv := &http.Server{Addr: ":9102", Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down stockwatch")

	ctx2, cancel2 := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	_ = sched.Shutdown()
	cancel()
	wg.Wait() // consumers drained
	prod.Close()
	prod.WaitClosed()
}
