package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	amqpbroker "github.com/sentinel-labs/taskconsumer/internal/broker/amqp"
	kafkabroker "github.com/sentinel-labs/taskconsumer/internal/broker/kafka"
	"github.com/sentinel-labs/taskconsumer/internal/broker"
	"github.com/sentinel-labs/taskconsumer/internal/config"
	"github.com/sentinel-labs/taskconsumer/internal/consumer"
	"github.com/sentinel-labs/taskconsumer/internal/demopool"
	"github.com/sentinel-labs/taskconsumer/internal/eventbus"
	"github.com/sentinel-labs/taskconsumer/internal/registry"
	"github.com/sentinel-labs/taskconsumer/internal/task"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting task consumer")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var newConn func() broker.Connection
	switch cfg.Broker.Transport {
	case "kafka":
		newConn = func() broker.Connection {
			return kafkabroker.New(append([]string{cfg.Broker.URL}, cfg.Broker.AlternateURLs...), cfg.Broker.KafkaGroupID, cfg.Broker.KafkaTopics)
		}
	default:
		newConn = func() broker.Connection {
			return amqpbroker.New(cfg.Broker.URL, cfg.Broker.HeartbeatSeconds, cfg.Broker.ConnectionTimeoutSec, cfg.Broker.AlternateURLs...)
		}
	}

	var newDispatcher func() eventbus.Dispatcher
	if cfg.Events.Enabled && cfg.Events.RedisURL != "" {
		redisOpts, err := goredis.ParseURL(cfg.Events.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid events redis url: %w", err)
		}
		newDispatcher = func() eventbus.Dispatcher {
			return eventbus.NewRedis(goredis.NewClient(redisOpts), cfg.Events.Channel)
		}
	}

	// The task catalog is static here; wiring a pgregistry.Loader in
	// place of this slice is the documented path for operator-managed
	// catalogs (see internal/registry/pgregistry).
	taskDefs := []registry.TaskDef{{Name: "add"}, {Name: "echo"}}

	c, err := consumer.New(consumer.Config{
		Hostname:           cfg.Worker.Hostname,
		Logger:             logger,
		ReadyQueueCapacity: cfg.Worker.ReadyQueueCapacity,
		Settings:           cfg.StepsSettings(),
		TaskDefs:           taskDefs,
		NewConnection:      newConn,
		NewEventDispatcher: newDispatcher,
	})
	if err != nil {
		return fmt.Errorf("construct consumer: %w", err)
	}

	poolCtx, poolCancel := context.WithCancel(context.Background())
	defer poolCancel()

	p := demopool.New(cfg.Worker.Concurrency, c.ReadyQueue(), func(_ context.Context, t *task.Task) error {
		logger.Info("Executing task", zap.Stringer("task", t))
		return nil
	}, logger)
	p.Start(poolCtx)

	consumerErrCh := make(chan error, 1)
	go func() { consumerErrCh <- c.Start() }()

	metricsSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	metricsSrv.Handler = mux

	go func() {
		logger.Info("Metrics/health server listening", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutting down consumer...")
	case err := <-consumerErrCh:
		if err != nil {
			logger.Error("Consumer exited with error", zap.Error(err))
		}
	}

	if err := c.Shutdown(); err != nil {
		logger.Error("Error shutting down consumer", zap.Error(err))
	}

	poolCancel()
	p.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server shutdown error", zap.Error(err))
	}

	logger.Info("Consumer stopped")
	return nil
}
