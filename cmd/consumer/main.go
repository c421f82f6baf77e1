package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/linhptit/strava-webhook-vercel/internal/config"
	"github.com/linhptit/strava-webhook-vercel/internal/consumer"
	"github.com/linhptit/strava-webhook-vercel/internal/observability"
)

func main() {
	cfg, err := config.LoadConsumer()
	if err != nil {
		panic(err)
	}

	logger, err := observability.NewLogger(cfg.Development())
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := consumer.Chain{consumer.NewLogHandler(logger.Named("audit"))}
	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()

		persistence := consumer.NewPersistenceHandler(pool)
		if err := persistence.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to prepare audit table", zap.Error(err))
		}
		handler = append(handler, persistence)
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("consumer metrics listening", zap.String("address", cfg.MetricsAddress))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroupID,
		Topic:           cfg.KafkaTopic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})

	proc := consumer.NewProcessor(reader, handler, consumer.WithLogger(logger.Named("consumer")))

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer reader.Close()

		logger.Info("consumer started", zap.String("topic", cfg.KafkaTopic), zap.String("group", cfg.ConsumerGroupID))
		if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("consumer stopped with error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("consumer shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}

	<-done
}
