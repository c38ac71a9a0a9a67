package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/fortune-orders/internal/commission"
	"github.com/ariefcatur/fortune-orders/internal/config"
	"github.com/ariefcatur/fortune-orders/internal/enrichment"
	"github.com/ariefcatur/fortune-orders/internal/fulfillment"
	"github.com/ariefcatur/fortune-orders/internal/generation"
	kafkax "github.com/ariefcatur/fortune-orders/internal/kafka"
	"github.com/ariefcatur/fortune-orders/internal/notify"
	"github.com/ariefcatur/fortune-orders/internal/observability"
	"github.com/ariefcatur/fortune-orders/internal/orders"
	"github.com/ariefcatur/fortune-orders/internal/payment"
	"github.com/ariefcatur/fortune-orders/internal/postgres"
	"github.com/ariefcatur/fortune-orders/internal/products"
	"github.com/ariefcatur/fortune-orders/internal/reconcile"
	"github.com/ariefcatur/fortune-orders/internal/redisx"
	"github.com/ariefcatur/fortune-orders/internal/saga"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", cfg.ServiceName), zap.String("component", "fulfillment"))

	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.MockMode {
		logger.Warn("mock mode enabled: external services are simulated", zap.Bool("mock", true))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()
	if cfg.Postgres.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}

	rdb := redisx.New(cfg.Redis.Addr)
	defer rdb.Close()

	// Producers stop after the consumer so a finishing saga can still publish.
	pctx, pcancel := context.WithCancel(context.Background())
	finalProd := kafkax.NewProducer(cfg.Kafka.Brokers, orders.TopicOrderFinalized, 1024, logger)
	finalProd.Start(pctx)
	noteProd := kafkax.NewProducer(cfg.Kafka.Brokers, orders.TopicNotifications, 1024, logger)
	noteProd.Start(pctx)

	repo := &orders.Repo{DB: db}
	notifier := &notify.Kafka{E: &kafkax.EventWriter{P: noteProd, Service: cfg.ServiceName}}

	enricher := enrichment.New(enrichment.Config{
		URL:         cfg.Enrichment.URL,
		APIKey:      cfg.Enrichment.APIKey,
		Timeout:     cfg.Enrichment.Timeout,
		MaxRetries:  cfg.Enrichment.MaxRetries,
		BackoffUnit: cfg.RetryBackoff,
		Mock:        cfg.MockMode,
	}, logger)
	generator := generation.New(generation.Config{
		URL:          cfg.Generation.URL,
		APIKey:       cfg.Generation.APIKey,
		Model:        cfg.Generation.Model,
		Timeout:      cfg.Generation.Timeout,
		TotalTimeout: cfg.Generation.TotalTimeout,
		SafetyMargin: cfg.Generation.SafetyMargin,
		MaxRetries:   cfg.Generation.MaxRetries,
		BackoffUnit:  cfg.RetryBackoff,
		Mock:         cfg.MockMode,
	}, logger)
	gw := payment.NewGateway(payment.Config{
		BaseURL:    cfg.Payment.BaseURL,
		MerchantID: cfg.Payment.MerchantID,
		APIKey:     cfg.Payment.APIKey,
		Secret:     cfg.Payment.Secret,
		Currency:   cfg.Payment.Currency,
		NotifyURL:  cfg.Payment.NotifyURL,
		Timeout:    cfg.Payment.Timeout,
		Mock:       cfg.MockMode,
		MockURL:    cfg.Payment.MockURL,
	}, repo, logger)

	processor := saga.New(saga.Deps{
		Store:     repo,
		Catalog:   products.Default(),
		Enricher:  enricher,
		Generator: generator,
		Refunder:  gw,
		Notifier:  notifier,
		Events:    &kafkax.EventWriter{P: finalProd, Service: cfg.ServiceName},
		Engine:    commission.Default(),
		Log:       logger,
	})
	logger.Info("generation budget", zap.Duration("budget", generator.Budget()))

	handler := &fulfillment.Handler{
		Saga:  processor,
		Dedup: &redisx.Dedup{RDB: rdb, Service: "fulfillment", TTL: redisx.TTLDedup},
		Cache: &redisx.StatusCache{RDB: rdb},
		Log:   logger,
	}
	consumer := kafkax.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Group, orders.TopicOrderPaid, cfg.Kafka.Workers, logger)

	sweeper := reconcile.NewSweeper(reconcile.Config{
		Interval:       cfg.Reconcile.Interval,
		StuckAfter:     cfg.Reconcile.StuckAfter,
		PaymentTimeout: cfg.Reconcile.PaymentTimeout,
		BatchSize:      cfg.Reconcile.BatchSize,
	}, repo, processor, redisx.NewLocker(rdb), logger)
	monitor := reconcile.NewMonitor(reconcile.MonitorConfig{
		Interval:   cfg.Monitor.Interval,
		Window:     cfg.Monitor.Window,
		Threshold:  cfg.Monitor.Threshold,
		MinSamples: cfg.Monitor.MinSamples,
		Cooldown:   cfg.Monitor.Cooldown,
	}, repo, notifier, func(ctx context.Context, kind string, d time.Duration) (bool, error) {
		return redisx.Cooldown(ctx, rdb, kind, d)
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("consumer started",
			zap.String("group", cfg.Kafka.Group),
			zap.String("topic", orders.TopicOrderPaid),
			zap.Int("workers", cfg.Kafka.Workers))
		return consumer.Start(gctx, handler.HandleOrderPaid)
	})
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })

	err = g.Wait()
	logger.Info("shutting down", zap.Error(err))
	pcancel()
	finalProd.WaitClosed()
	noteProd.WaitClosed()
	return err
}
