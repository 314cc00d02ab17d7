package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/jcarrillo/ticketera/internal/circuitbreaker"
	"github.com/jcarrillo/ticketera/internal/config"
	"github.com/jcarrillo/ticketera/internal/observ"
	"github.com/jcarrillo/ticketera/internal/redis"
	"github.com/jcarrillo/ticketera/internal/worker"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting ticketera delivery worker",
		zap.String("env", cfg.Env),
		zap.String("queue", cfg.DeliveryQueue),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	dedup := redis.NewDeduper(redisClient, logger)

	// SES is required; SNS is optional so SMS degrades to email-only.
	sesSender, err := worker.NewSESSender(ctx, worker.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create SES email sender: %w", err)
	}

	senders := []worker.Sender{
		worker.NewProtectedSender(sesSender,
			circuitbreaker.New(circuitbreaker.DefaultConfig("ses"), logger), logger),
	}

	snsSender, err := worker.NewSNSSender(ctx, worker.SNSConfig{
		Region: cfg.SNSRegion,
	}, logger)
	if err != nil {
		logger.Warn("SNS sender unavailable, SMS deliveries disabled", zap.Error(err))
	} else {
		senders = append([]worker.Sender{
			worker.NewProtectedSender(snsSender,
				circuitbreaker.New(circuitbreaker.DefaultConfig("sns"), logger), logger),
		}, senders...)
	}

	consumer := worker.NewConsumer(worker.ConsumerConfig{
		URL:   cfg.RabbitURL(),
		Queue: cfg.DeliveryQueue,
	}, worker.NewMultiSender(senders...), dedup, logger)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-shutdown
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	return consumer.Run(ctx)
}
