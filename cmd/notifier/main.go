package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/example/ec-ordering/internal/config"
	"github.com/example/ec-ordering/internal/email"
	"github.com/example/ec-ordering/internal/infrastructure/kafka"
	"github.com/example/ec-ordering/internal/logger"
	"github.com/example/ec-ordering/internal/notification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Notifier] %v", err)
	}

	lg, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("[Notifier] %v", err)
	}
	defer lg.Sync() //nolint:errcheck
	lg = lg.With(zap.String("service", "notifier"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lg.Info("starting",
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.String("kafka_topic", cfg.Kafka.Topic),
		zap.String("group", cfg.Kafka.NotifierGroup),
		zap.String("smtp", cfg.SMTP.Host+":"+cfg.SMTP.Port))

	emailSvc := email.NewService(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From)
	handler := notification.NewHandler(emailSvc, lg)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.NotifierGroup, lg)
	defer consumer.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Consume(ctx, handler.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("consumer stopped", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-done:
	}

	lg.Info("shutting down")
	cancel()
	<-done
}
