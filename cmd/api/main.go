package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pod-fulfillment/internal/collab"
	"github.com/ariefcatur/go-pod-fulfillment/internal/config"
	"github.com/ariefcatur/go-pod-fulfillment/internal/httpx"
	"github.com/ariefcatur/go-pod-fulfillment/internal/inventory"
	kafkax "github.com/ariefcatur/go-pod-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-pod-fulfillment/internal/logger"
	"github.com/ariefcatur/go-pod-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-pod-fulfillment/internal/notify"
	"github.com/ariefcatur/go-pod-fulfillment/internal/orders"
	"github.com/ariefcatur/go-pod-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-pod-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-pod-fulfillment/internal/wallet"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(logger.LogConfig{Level: cfg.LogLevel, Environment: cfg.Environment, ServiceName: cfg.ServiceName})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	metrics.Register(prometheus.DefaultRegisterer)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}
	runner := &postgres.Runner{Pool: pool, MaxRetries: cfg.TxMaxRetries}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer for lifecycle events
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start()

	ledger := wallet.NewLedger(log)
	deps := orders.Deps{
		DB:      orders.PGRunner{Runner: runner},
		Ledger:  ledger,
		Stock:   inventory.NewService(inventory.PGRunner{Runner: runner}, log),
		Invoice: collab.Invoices{Client: collab.NewClient(cfg.InvoiceBaseURL, cfg.CollabTimeout)},
		Hooks: orders.Hooks{
			notify.EventPublisher{Pub: prod, Producer: cfg.ServiceName},
			notify.CacheHook{Cache: redisx.StatusCache{RDB: rdb}},
		},
		Dedup:                   redisx.Dedup{RDB: rdb, Service: cfg.ServiceName, TTL: redisx.TTLDedup},
		Log:                     log,
		BlockNegativeSettlement: cfg.BlockNegativeSettlement,
	}

	router := httpx.NewRouter(cfg.ServiceName, log)
	(&httpx.OrdersHandler{
		Orders:  orders.NewService(deps),
		Engine:  orders.NewEngine(deps),
		Idem:    redisx.Idempotency{RDB: rdb},
		Cache:   redisx.StatusCache{RDB: rdb},
		Courier: collab.Courier{Client: collab.NewClient(cfg.CourierBaseURL, cfg.CollabTimeout)},
	}).Register(router)
	(&httpx.WalletHandler{
		Wallets: wallet.NewService(wallet.PGRunner{Runner: runner}, ledger),
	}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	prod.Close()
	prod.WaitClosed()
}
