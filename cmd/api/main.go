package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/notify"
	"github.com/ariefcatur/go-storefront-orders/internal/observability"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/push"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(cfg.ServiceName, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("order api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	// DB
	if cfg.Migrations {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			return err
		}
		log.Info("migrations applied")
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, int32(cfg.PostgresMax))
	if err != nil {
		return err
	}
	defer db.Close()
	store := postgres.NewStore(db)

	// Redis
	rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer rdb.Close()
	cache := redisx.NewOrderCache(store, rdb, log)

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)
	defer prod.WaitClosed()
	defer prod.Close()

	// push + notifications
	pushHub := push.NewHub(log)
	defer pushHub.Close()
	relay := push.NewRelay(rdb, pushHub, log)
	if err := relay.Start(ctx); err != nil {
		return err
	}

	var notes notify.Store
	switch cfg.NotifyStore {
	case config.NotifyStoreMemory:
		log.Warn("admin notifications kept in process memory; other instances will not see them")
		notes = notify.NewMemoryStore()
	default:
		notes = notify.NewRedisStore(rdb, log)
	}

	opts := []orders.Option{
		orders.WithLogger(log),
		orders.WithEvents(orders.MultiEvents{cache, kafkax.NewOrderEvents(prod, cfg.ServiceName)}),
	}
	if cfg.DeliveryFees != "" {
		fees, err := orders.ParseDeliveryFees(cfg.DeliveryFees)
		if err != nil {
			return err
		}
		opts = append(opts, orders.WithAdjuster(fees))
	}
	if cfg.NotifyMode == config.NotifyModeKafka {
		log.Info("new-order notifications delegated to the notifier consumer")
	} else {
		if len(cfg.AdminIDs) == 0 {
			log.Warn("ADMIN_IDS is empty; notifications will only be pushed")
		}
		hub := notify.NewHub(log, notify.HubOptions{
			Workers: cfg.NotifyWorkers,
			Buffer:  cfg.NotifyBuffer,
			Timeout: cfg.NotifyTimeout,
		},
			notify.PushChannel{Broadcaster: relay},
			notify.StoreChannel{Store: notes, Admins: notify.StaticDirectory(cfg.AdminIDs)},
		)
		hub.Start(ctx)
		defer hub.Close()
		opts = append(opts, orders.WithPublisher(hub))
	}

	svc := orders.NewService(cache, orders.NewAssembler(cfg.OrderNumberPrefix), orders.NewLifecycle(cache), opts...)

	// HTTP
	router := httpx.NewRouter(log)
	oh := &httpx.OrdersHandler{Orders: svc, Variants: store, Redis: rdb, Log: log}
	nh := &httpx.NotificationsHandler{Store: notes, Push: pushHub, Log: log}
	httpx.Limited(router, func(r chi.Router) {
		oh.Register(r)
		nh.Register(r)
	})
	nh.RegisterStream(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.Instrument(router, cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
