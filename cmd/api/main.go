package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/sweet-shop/internal/auth"
	"github.com/ariefcatur/sweet-shop/internal/catalog"
	"github.com/ariefcatur/sweet-shop/internal/config"
	"github.com/ariefcatur/sweet-shop/internal/httpx"
	"github.com/ariefcatur/sweet-shop/internal/inventory"
	kafkax "github.com/ariefcatur/sweet-shop/internal/kafka"
	"github.com/ariefcatur/sweet-shop/internal/metrics"
	"github.com/ariefcatur/sweet-shop/internal/orders"
	"github.com/ariefcatur/sweet-shop/internal/postgres"
	"github.com/ariefcatur/sweet-shop/internal/purchase"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.Env, cfg.Otel.Endpoint)
	if err != nil {
		logger.Fatal("tracer init failed", zap.Error(err))
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// DB
	if cfg.Postgres.AutoMigrate {
		if err := postgres.Migrate(cfg.Postgres.MigrationsPath, cfg.Postgres.DSN); err != nil {
			logger.Fatal("migrate failed", zap.Error(err))
		}
	}
	db, err := postgres.Connect(ctx, cfg.Postgres.DSN, postgres.PoolConfig{
		MaxConns: cfg.Postgres.MaxConns,
		MinConns: cfg.Postgres.MinConns,
	})
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.Redis.Addr)
	defer rdb.Close()

	// Metrics
	reg := metrics.NewRegistry()
	shopMetrics := metrics.New(reg)

	// Kafka producer
	prod := kafkax.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Buffer, logger)
	prod.OnDrop(func(kafkago.Message, error) {
		shopMetrics.EventsLost.Inc()
	})
	prod.Start(ctx)

	// Core
	store := catalog.NewStore(db)
	ledger := orders.NewLedger(db)
	coord := purchase.New(db, store, inventory.NewAdjuster(), ledger, logger,
		purchase.WithPublisher(prod),
		purchase.WithMetrics(shopMetrics),
		purchase.WithServiceName(cfg.ServiceName),
		purchase.WithRetry(purchase.RetryPolicy{
			MaxRetries:     cfg.Purchase.MaxRetries,
			InitialBackoff: cfg.Purchase.InitialBackoff,
			MaxBackoff:     cfg.Purchase.MaxBackoff,
		}),
	)
	reader := &orders.Reader{Ledger: ledger, Cache: orders.NewCache(rdb, cfg.Redis.OrderTTL, logger)}

	// HTTP
	router := httpx.NewRouter(logger, cfg.HTTP.RequestTimeout)
	router.Handle("/metrics", metrics.Handler(reg))
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	router.Group(func(r chi.Router) {
		r.Use(verifier.Middleware)
		(&httpx.SweetsHandler{Sweets: store, Purchases: coord, Log: logger}).Register(r)
		(&httpx.OrdersHandler{Orders: reader, Purchases: coord, Log: logger}).Register(r)
	})

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox, flush and close the writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
