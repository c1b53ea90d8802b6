package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/notify"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/push"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// notifier consumes order.created and delivers NEW_ORDER notifications to
// the shared admin queues and, through the Redis relay, to every API
// instance's websocket subscribers.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-notifier"
	log := logging.New(service, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis
	rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	hub := notify.NewHub(log, notify.HubOptions{
		Workers: cfg.NotifyWorkers,
		Buffer:  cfg.NotifyBuffer,
		Timeout: cfg.NotifyTimeout,
	},
		notify.PushChannel{Broadcaster: push.NewRelay(rdb, nil, log)},
		notify.StoreChannel{Store: notify.NewRedisStore(rdb, log), Admins: notify.StaticDirectory(cfg.AdminIDs)},
	)
	hub.Start(ctx)

	h := &notify.OrderCreatedHandler{Hub: hub, Redis: rdb, ServiceName: service, Log: log}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, orders.TopicOrderCreated, cfg.NotifierWorker, log)

	log.Info("notifier consumer started",
		zap.String("group", cfg.NotifierGroup),
		zap.String("topic", orders.TopicOrderCreated),
		zap.Int("workers", cfg.NotifierWorker))
	if err := cons.Start(ctx, h.Handle); err != nil {
		log.Error("consumer exit", zap.Error(err))
	}

	log.Info("shutting down consumer")
	hub.Close()
}
