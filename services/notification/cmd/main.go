package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/httpapi"
	"github.com/kyungseok/msa-rental-go/common/idempotency"
	"github.com/kyungseok/msa-rental-go/common/logger"
	"github.com/kyungseok/msa-rental-go/common/messaging"
	"github.com/kyungseok/msa-rental-go/common/metrics"
	"github.com/kyungseok/msa-rental-go/common/notifier"
	"github.com/kyungseok/msa-rental-go/services/notification/internal/config"
	"github.com/kyungseok/msa-rental-go/services/notification/internal/handler"
	"github.com/kyungseok/msa-rental-go/services/notification/internal/service"
)

const serviceName = "notification-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.NewLoggerWithLevel(serviceName, cfg.Development, cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	m := metrics.New(serviceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var idemStore idempotency.Store = idempotency.NewMemoryStore()
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		idemStore = idempotency.NewRedisStore(redisClient, serviceName)
		log.Info("connected to redis")
	}

	session, err := messaging.NewSession(ctx, cfg.AMQPURL, log)
	if err != nil {
		log.Fatal("failed to connect to rabbitmq", zap.Error(err))
	}
	defer session.Close()

	topology := messaging.DefaultTopology()

	notifications := service.NewNotificationService(
		notifier.NewMock(log,
			notifier.WithFailureRate(cfg.NotifierFailureRate),
			notifier.WithMetrics(m)),
		log, cfg.FeedSize)

	// Consumer 시작 (구독 선언은 Consume 이 수행)
	eventHandler := handler.NewEventHandler(notifications, idemStore, cfg.IdempotencyTTL, log)
	consumer := messaging.NewRabbitConsumer(session, topology, log,
		messaging.WithConsumerMetrics(m),
		messaging.WithRequeueDelay(cfg.RequeueDelay),
		messaging.WithMaxDeliveries(cfg.MaxDeliveries))

	consumeCtx, stopConsumers := context.WithCancel(ctx)
	var consumers sync.WaitGroup
	for _, sub := range handler.Subscriptions(cfg.Prefetch) {
		consumers.Add(1)
		go func(sub messaging.Subscription) {
			defer consumers.Done()
			if err := consumer.Consume(consumeCtx, sub, eventHandler.HandleMessage); err != nil {
				log.Error("consumer stopped", zap.String("queue", sub.Queue.Name), zap.Error(err))
			}
		}(sub)
	}

	router := httpapi.NewRouter(serviceName, log, m)
	handler.NewHTTPHandler(notifications).Register(router)

	server := &http.Server{Addr: ":" + cfg.ServicePort, Handler: router}

	go func() {
		log.Info("http server starting", zap.String("port", cfg.ServicePort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	stopConsumers()
	consumers.Wait()
	log.Info("server stopped")
}
