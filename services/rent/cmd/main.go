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

	"github.com/kyungseok/msa-rental-go/common/database"
	"github.com/kyungseok/msa-rental-go/common/httpapi"
	"github.com/kyungseok/msa-rental-go/common/idempotency"
	"github.com/kyungseok/msa-rental-go/common/logger"
	"github.com/kyungseok/msa-rental-go/common/messaging"
	"github.com/kyungseok/msa-rental-go/common/metrics"
	"github.com/kyungseok/msa-rental-go/common/notifier"
	"github.com/kyungseok/msa-rental-go/common/outbox"
	"github.com/kyungseok/msa-rental-go/common/paymentrpc"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/client"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/config"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/handler"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/repository"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/service"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/workflow"
)

const serviceName = "rent-service"

func main() {
	// Config 로드
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// Logger 초기화
	log, err := logger.NewLoggerWithLevel(serviceName, cfg.Development, cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	m := metrics.New(serviceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 저장소 초기화 (memory | postgres)
	var (
		orderRepo   repository.OrderRepository
		outboxStore outbox.Store
	)
	switch cfg.StorageDriver {
	case "postgres":
		db, err := database.Open(ctx, cfg.DBDSN, log)
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		if err := database.Migrate(db, repository.Migrations, "migrations", log); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
		orderRepo = repository.NewPostgresOrderRepository(db)
		outboxStore = outbox.NewPostgresStore(db)
	default:
		store := outbox.NewMemoryStore()
		orderRepo = repository.NewMemoryOrderRepository(store)
		outboxStore = store
	}
	log.Info("storage initialized", zap.String("driver", cfg.StorageDriver))

	// Idempotency Store 초기화 (Redis 주소가 없으면 메모리)
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

	// RabbitMQ 세션
	session, err := messaging.NewSession(ctx, cfg.AMQPURL, log)
	if err != nil {
		log.Fatal("failed to connect to rabbitmq", zap.Error(err))
	}
	defer session.Close()

	topology := messaging.DefaultTopology()
	if err := declareTopology(session, topology); err != nil {
		log.Fatal("failed to declare topology", zap.Error(err))
	}

	// Publisher 초기화 (Kafka 감사 미러는 선택)
	var publisher messaging.Publisher = messaging.NewRabbitPublisher(session, topology, log,
		messaging.WithPublishTimeout(cfg.PublishTimeout),
		messaging.WithPublisherMetrics(m))
	if len(cfg.KafkaBrokers) > 0 {
		mirror, err := messaging.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, log)
		if err != nil {
			log.Fatal("failed to create kafka publisher", zap.Error(err))
		}
		publisher = messaging.NewMultiPublisher(publisher, log, mirror)
		log.Info("kafka audit mirror enabled", zap.Strings("brokers", cfg.KafkaBrokers))
	}
	defer publisher.Close()

	relay := outbox.NewRelay(outboxStore, publisher, log,
		outbox.WithInterval(cfg.OutboxInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMetrics(m))

	// 결제 gRPC 클라이언트
	payments, err := paymentrpc.Dial(cfg.PaymentGRPCAddr, cfg.PaymentTimeout, log)
	if err != nil {
		log.Fatal("failed to create payment client", zap.Error(err))
	}
	defer payments.Close()

	// Service 초기화
	orderService := service.NewOrderService(service.Dependencies{
		Orders:   orderRepo,
		Bookings: client.NewBookingClient(cfg.BookingURL, 5*time.Second),
		Users:    client.NewUserClient(cfg.UserURL, 5*time.Second),
		Payments: payments,
		Notifier: notifier.NewMock(log,
			notifier.WithFailureRate(cfg.NotifierFailureRate),
			notifier.WithMetrics(m)),
		Relay:   relay,
		Logger:  log,
		Metrics: m,
	}, service.Options{DailyRate: cfg.DailyRate})

	// 렌탈 종료 스케줄러 (Temporal 주소가 없으면 로컬 타이머)
	activities := workflow.NewActivities(orderService, log)
	var scheduler handler.CloseScheduler
	if cfg.TemporalHost != "" {
		temporalClient, err := workflow.Dial(cfg.TemporalHost, cfg.TemporalNamespace, log)
		if err != nil {
			log.Fatal("failed to connect to temporal", zap.Error(err))
		}
		defer temporalClient.Close()

		w := workflow.NewWorker(temporalClient, cfg.TemporalTaskQueue, activities)
		if err := w.Start(); err != nil {
			log.Fatal("failed to start temporal worker", zap.Error(err))
		}
		defer w.Stop()

		scheduler = workflow.NewTemporalScheduler(temporalClient, cfg.TemporalTaskQueue, cfg.InspectionWindow, log)
		log.Info("temporal worker started", zap.String("taskQueue", cfg.TemporalTaskQueue))
	} else {
		local := workflow.NewLocalScheduler(activities, cfg.InspectionWindow, log)
		defer local.Stop()
		scheduler = local
	}

	// Consumer 시작
	eventHandler := handler.NewEventHandler(orderService, scheduler, idemStore, cfg.IdempotencyTTL, log)
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

	// Outbox Relay 시작
	relayCtx, stopRelay := context.WithCancel(ctx)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		relay.Start(relayCtx)
	}()

	// HTTP Server 시작
	router := httpapi.NewRouter(serviceName, log, m)
	handler.NewHTTPHandler(orderService, log).Register(router)

	server := &http.Server{
		Addr:    ":" + cfg.ServicePort,
		Handler: router,
	}

	go func() {
		log.Info("http server starting", zap.String("port", cfg.ServicePort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// 내부 전용 HTTP Server (렌탈 종료 등 시스템 연산)
	adminRouter := httpapi.NewRouter(serviceName, log, m)
	handler.NewHTTPHandler(orderService, log).RegisterAdmin(adminRouter)

	adminServer := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: adminRouter,
	}

	go func() {
		log.Info("admin server starting", zap.String("addr", cfg.AdminAddr))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("admin server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server forced to shutdown", zap.Error(err))
	}

	stopConsumers()
	consumers.Wait()

	stopRelay()
	<-relayDone
	if n, err := relay.Flush(shutdownCtx); err != nil {
		log.Warn("outbox not fully drained", zap.Int("sent", n), zap.Error(err))
	}

	log.Info("server stopped")
}

func declareTopology(connector messaging.Connector, topology *messaging.Topology) error {
	ch, err := connector.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return topology.DeclareAll(ch)
}
