package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/ec-ordering/internal/api"
	"github.com/example/ec-ordering/internal/auth"
	"github.com/example/ec-ordering/internal/catalog"
	"github.com/example/ec-ordering/internal/checkout"
	"github.com/example/ec-ordering/internal/command"
	"github.com/example/ec-ordering/internal/config"
	"github.com/example/ec-ordering/internal/domain/cart"
	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/example/ec-ordering/internal/idempotency"
	"github.com/example/ec-ordering/internal/infrastructure/kafka"
	"github.com/example/ec-ordering/internal/infrastructure/store"
	"github.com/example/ec-ordering/internal/logger"
	"github.com/example/ec-ordering/internal/metrics"
	"github.com/example/ec-ordering/internal/payment"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[API] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[API] invalid configuration: %v", err)
	}

	lg, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("[API] %v", err)
	}
	defer lg.Sync() //nolint:errcheck
	lg = lg.With(zap.String("service", "api"))

	if err := run(cfg, lg); err != nil {
		lg.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lg.Info("starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.String("kafka_topic", cfg.Kafka.Topic))

	// Initialize PostgreSQL connection
	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := store.ConnectPostgres(connectCtx, cfg.Postgres.URL)
	connectCancel()
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Postgres.MigrateOnStart {
		if err := store.RunMigrations(db); err != nil {
			return err
		}
		lg.Info("migrations applied")
	}

	// Every appended event is fanned out to Kafka
	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, lg)
	defer producer.Close()

	eventStore := store.NewPostgresEventStore(db, producer, lg)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	m := metrics.New()
	cat := catalog.NewCachedCatalog(catalog.NewPostgresCatalog(db), rdb, cfg.Catalog.CacheTTL, lg)
	pricer := catalog.NewPricer(cat)

	cartSvc := cart.NewService(eventStore, pricer, m, lg)
	orderSvc := order.NewService(eventStore, lg)
	cmdHandler := command.NewHandler(cartSvc, idempotency.NewRedisStore(rdb, cfg.Idempotency.TTL), m, lg)

	var gateway payment.Gateway
	if cfg.Payment.BaseURL != "" {
		gateway = payment.NewHTTPGateway(cfg.Payment.BaseURL, cfg.Payment.Timeout, lg)
	} else {
		lg.Warn("PAYMENT_BASE_URL not set, payments are accepted without a provider")
		gateway = &payment.FakeGateway{}
	}
	checkoutSvc := checkout.NewService(cartSvc, orderSvc, pricer, gateway, m, lg)

	jwtService := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.AccessExpiry)

	router := api.NewRouter(api.RouterConfig{
		Handlers:       api.NewHandlers(cmdHandler, checkoutSvc, orderSvc, lg),
		JWT:            jwtService,
		Metrics:        m,
		Logger:         lg,
		RequestTimeout: cfg.HTTP.Timeout,
		Ready: func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		lg.Info("server started", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		lg.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
