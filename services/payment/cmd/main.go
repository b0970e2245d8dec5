package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/kyungseok/msa-rental-go/common/database"
	"github.com/kyungseok/msa-rental-go/common/httpapi"
	"github.com/kyungseok/msa-rental-go/common/idempotency"
	"github.com/kyungseok/msa-rental-go/common/logger"
	"github.com/kyungseok/msa-rental-go/common/messaging"
	"github.com/kyungseok/msa-rental-go/common/metrics"
	"github.com/kyungseok/msa-rental-go/common/outbox"
	"github.com/kyungseok/msa-rental-go/common/paymentrpc"
	"github.com/kyungseok/msa-rental-go/services/payment/internal/config"
	"github.com/kyungseok/msa-rental-go/services/payment/internal/gateway"
	"github.com/kyungseok/msa-rental-go/services/payment/internal/handler"
	"github.com/kyungseok/msa-rental-go/services/payment/internal/repository"
	"github.com/kyungseok/msa-rental-go/services/payment/internal/service"
)

const serviceName = "payment-service"

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
		paymentRepo repository.PaymentRepository
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
		paymentRepo = repository.NewPostgresPaymentRepository(db)
		outboxStore = outbox.NewPostgresStore(db)
	default:
		store := outbox.NewMemoryStore()
		paymentRepo = repository.NewMemoryPaymentRepository(store)
		outboxStore = store
	}
	log.Info("storage initialized", zap.String("driver", cfg.StorageDriver))

	// 처리 이벤트 기록과 게이트웨이 잠금 (Redis 주소가 없으면 메모리)
	var (
		idemStore idempotency.Store = idempotency.NewMemoryStore()
		lockStore idempotency.Store = idempotency.NewMemoryStore()
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		idemStore = idempotency.NewRedisStore(redisClient, serviceName+":events")
		lockStore = idempotency.NewRedisStore(redisClient, serviceName+":locks")
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

	// Service 초기화
	paymentService := service.NewPaymentService(service.Dependencies{
		Payments: paymentRepo,
		Acquirer: gateway.NewMockAcquirer(log,
			gateway.WithDeclineRate(cfg.DeclineRate),
			gateway.WithRefundDeclineRate(cfg.RefundDeclineRate),
			gateway.WithLatency(cfg.GatewayLatency),
			gateway.WithMetrics(m)),
		Fiscal: gateway.NewLogRegistrar(log, m),
		Locks:  lockStore,
		Relay:  relay,
		Logger: log,
	}, service.Options{LockTTL: cfg.LockTTL})

	// Consumer 시작
	eventHandler := handler.NewEventHandler(paymentService, idemStore, cfg.IdempotencyTTL, log)
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

	// gRPC Server 시작 (rent 서비스의 결제 시작 요청)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal("failed to listen for grpc", zap.Error(err))
	}
	grpcServer := grpc.NewServer()
	paymentrpc.Register(grpcServer, handler.NewAuthority(paymentService))

	go func() {
		log.Info("grpc server starting", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("grpc server stopped", zap.Error(err))
		}
	}()

	// HTTP Server 시작
	router := httpapi.NewRouter(serviceName, log, m)
	handler.NewHTTPHandler(paymentService, log).Register(router)

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
	grpcServer.GracefulStop()

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
