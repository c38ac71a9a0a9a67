package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/fortune-orders/internal/audit"
	"github.com/ariefcatur/fortune-orders/internal/checkout"
	"github.com/ariefcatur/fortune-orders/internal/commission"
	"github.com/ariefcatur/fortune-orders/internal/config"
	"github.com/ariefcatur/fortune-orders/internal/httpx"
	kafkax "github.com/ariefcatur/fortune-orders/internal/kafka"
	"github.com/ariefcatur/fortune-orders/internal/notify"
	"github.com/ariefcatur/fortune-orders/internal/observability"
	"github.com/ariefcatur/fortune-orders/internal/orders"
	"github.com/ariefcatur/fortune-orders/internal/payment"
	"github.com/ariefcatur/fortune-orders/internal/postgres"
	"github.com/ariefcatur/fortune-orders/internal/products"
	"github.com/ariefcatur/fortune-orders/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
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
	logger = logger.With(zap.String("service", cfg.ServiceName), zap.String("component", "api"))

	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.MockMode {
		logger.Warn("mock mode enabled: external services are simulated", zap.Bool("mock", true))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	// Producers outlive the HTTP server so in-flight requests can still publish.
	pctx, pcancel := context.WithCancel(context.Background())
	paidProd := kafkax.NewProducer(cfg.Kafka.Brokers, orders.TopicOrderPaid, 1024, logger)
	paidProd.Start(pctx)
	noteProd := kafkax.NewProducer(cfg.Kafka.Brokers, orders.TopicNotifications, 1024, logger)
	noteProd.Start(pctx)

	repo := &orders.Repo{DB: db}
	catalog := products.Default()
	paidEvents := &kafkax.EventWriter{P: paidProd, Service: cfg.ServiceName}
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
	cache := &redisx.StatusCache{RDB: rdb}

	router := httpx.NewRouter(logger)
	(&httpx.OrdersHandler{
		Checkout:      checkout.NewService(repo, catalog, commission.Default(), paidEvents, logger).WithCurrency(cfg.Payment.Currency),
		Orders:        repo,
		Links:         gw,
		Catalog:       catalog,
		Cache:         cache,
		PublicBaseURL: cfg.HTTP.PublicBaseURL,
		Log:           logger,
	}).Register(router)
	(&httpx.PaymentsHandler{
		Payments: gw,
		Notifier: &notify.Kafka{E: &kafkax.EventWriter{P: noteProd, Service: cfg.ServiceName}},
		Events:   paidEvents,
		Cache:    cache,
		Audit:    audit.NewRecorder(repo, logger),
		Log:      logger,
	}).Register(router)

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("shutting down", zap.String("signal", s.String()))
	case err = <-errc:
		logger.Error("http server failed", zap.Error(err))
	}

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	_ = srv.Shutdown(sctx)
	pcancel()
	paidProd.WaitClosed()
	noteProd.WaitClosed()
	return err
}
