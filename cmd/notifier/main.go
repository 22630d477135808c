package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pod-fulfillment/internal/collab"
	"github.com/ariefcatur/go-pod-fulfillment/internal/config"
	kafkax "github.com/ariefcatur/go-pod-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-pod-fulfillment/internal/logger"
	"github.com/ariefcatur/go-pod-fulfillment/internal/notify"
	"github.com/ariefcatur/go-pod-fulfillment/internal/orders"
	"github.com/ariefcatur/go-pod-fulfillment/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-notifier"

	log, err := logger.New(logger.LogConfig{Level: cfg.LogLevel, Environment: cfg.Environment, ServiceName: service})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	n := &notify.Notifier{
		Mailer: collab.Mailer{Client: collab.NewClient(cfg.MailBaseURL, cfg.CollabTimeout)},
		Dedup:  redisx.Dedup{RDB: rdb, Service: service, TTL: redisx.TTLDedup},
		Log:    log,
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, orders.TopicOrderSettled, cfg.NotifierWorkers, log)

	log.Info("notifier consumer started",
		zap.String("group", cfg.NotifierGroup),
		zap.String("topic", orders.TopicOrderSettled),
		zap.Int("workers", cfg.NotifierWorkers))
	if err := cons.Start(ctx, n.HandleSettled); err != nil {
		log.Error("consumer exit", zap.Error(err))
		os.Exit(1)
	}
	log.Info("notifier stopped")
}
