package messaging

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/events"
	"github.com/kyungseok/msa-rental-go/common/metrics"
	"github.com/kyungseok/msa-rental-go/common/retry"
)

// Message 수신 메시지
type Message struct {
	EventType   events.EventType
	Exchange    string
	RoutingKey  string
	MessageID   string
	Headers     amqp.Table
	Body        []byte
	Redelivered bool
	DeliveryTag uint64
}

// MessageHandler 메시지 핸들러 함수 타입
// nil 반환 시 ack, 에러 반환 시 requeue (Permanent 에러는 폐기)
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscription 구독 정의 (익스체인지, 큐, 바인딩 패턴)
type Subscription struct {
	Exchange    ExchangeSpec
	Queue       QueueSpec
	Patterns    []string
	Prefetch    int
	ConsumerTag string
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 재전달해도 성공할 수 없는 메시지 (requeue 없이 nack)
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent Permanent 로 감싼 에러인지 확인
func IsPermanent(err error) bool {
	var p *permanentError
	return stderrors.As(err, &p)
}

// DefaultMaxDeliveries 실패한 메시지를 폐기하기 전까지의 최대 처리 시도 횟수
const DefaultMaxDeliveries = 10

// HeaderDeliveryCount quorum 큐가 붙여주는 재전달 횟수 헤더
const HeaderDeliveryCount = "x-delivery-count"

// ConsumerOption 구독자 옵션
type ConsumerOption func(*RabbitConsumer)

// WithConsumerMetrics 소비 지표 연결
func WithConsumerMetrics(m *metrics.Metrics) ConsumerOption {
	return func(c *RabbitConsumer) { c.metrics = m }
}

// WithResubscribeBackoff 재구독 재시도 설정
func WithResubscribeBackoff(cfg retry.Config) ConsumerOption {
	return func(c *RabbitConsumer) { c.backoff = cfg }
}

// WithRequeueDelay 핸들러 실패 후 requeue 전 대기 시간
func WithRequeueDelay(d time.Duration) ConsumerOption {
	return func(c *RabbitConsumer) { c.requeueDelay = d }
}

// WithMaxDeliveries 메시지당 최대 처리 시도 횟수 (0 이면 제한 없음)
// 한도에 도달한 메시지는 requeue 없이 nack 되어 큐의 dead-letter 정책을 따른다
func WithMaxDeliveries(n int) ConsumerOption {
	return func(c *RabbitConsumer) { c.maxDeliveries = n }
}

// RabbitConsumer RabbitMQ 기반 이벤트 구독자
type RabbitConsumer struct {
	connector     Connector
	topology      *Topology
	logger        *zap.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
	backoff       retry.Config
	requeueDelay  time.Duration
	maxDeliveries int

	mu       sync.Mutex
	failures map[string]int
}

// NewRabbitConsumer RabbitMQ 구독자 생성
func NewRabbitConsumer(connector Connector, topology *Topology, logger *zap.Logger, opts ...ConsumerOption) *RabbitConsumer {
	c := &RabbitConsumer{
		connector:     connector,
		topology:      topology,
		logger:        logger,
		tracer:        otel.Tracer(tracerName),
		backoff:       retry.Forever(),
		maxDeliveries: DefaultMaxDeliveries,
		failures:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type subscribed struct {
	ch         Channel
	deliveries <-chan amqp.Delivery
	queue      string
	tag        string
}

// Consume ctx 가 취소될 때까지 구독 (연결이 끊기면 재구독)
func (c *RabbitConsumer) Consume(ctx context.Context, sub Subscription, handler MessageHandler) error {
	for {
		s, err := retry.DoWithResult(ctx, c.backoff, c.logger, func() (*subscribed, error) {
			return c.subscribe(ctx, sub)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		c.logger.Info("subscribed to queue",
			zap.String("queue", s.queue),
			zap.String("exchange", sub.Exchange.Name),
			zap.Strings("patterns", sub.Patterns))

		if stopped := c.run(ctx, s, handler); stopped {
			return nil
		}

		c.logger.Warn("delivery channel closed, resubscribing", zap.String("queue", s.queue))
	}
}

func (c *RabbitConsumer) subscribe(ctx context.Context, sub Subscription) (*subscribed, error) {
	ch, err := c.connector.Channel()
	if err != nil {
		return nil, err
	}

	queue, err := c.topology.DeclareSubscription(ch, sub)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	if sub.Prefetch > 0 {
		if err := ch.Qos(sub.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, wrapBrokerError("failed to set qos", err)
		}
	}

	tag := sub.ConsumerTag
	if tag == "" {
		tag = queue + "-consumer"
	}

	// 취소는 run 에서 직접 처리 (in-flight 메시지 정리 후 채널 종료)
	deliveries, err := ch.ConsumeWithContext(context.WithoutCancel(ctx), queue, tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, wrapBrokerError("failed to start consuming", err)
	}

	return &subscribed{ch: ch, deliveries: deliveries, queue: queue, tag: tag}, nil
}

// run 은 ctx 취소로 끝나면 true, 채널이 닫혀 끝나면 false 를 반환
func (c *RabbitConsumer) run(ctx context.Context, s *subscribed, handler MessageHandler) bool {
	defer s.ch.Close()

	for {
		if ctx.Err() != nil {
			c.shutdown(s)
			return true
		}

		select {
		case <-ctx.Done():
			c.shutdown(s)
			return true
		case d, ok := <-s.deliveries:
			if !ok {
				return ctx.Err() != nil
			}
			c.handle(ctx, s.queue, d, handler)
		}
	}
}

func (c *RabbitConsumer) shutdown(s *subscribed) {
	// 더 이상 새 메시지를 받지 않음. 버퍼에 남은 미확인 메시지는 채널 종료 시 브로커가 재전달
	if err := s.ch.Cancel(s.tag, false); err != nil {
		c.logger.Warn("failed to cancel consumer", zap.String("queue", s.queue), zap.Error(err))
	}
	c.logger.Info("consumer stopped", zap.String("queue", s.queue))
}

func (c *RabbitConsumer) handle(ctx context.Context, queue string, d amqp.Delivery, handler MessageHandler) {
	msg := toMessage(d)
	eventType := string(msg.EventType)

	if !json.Valid(d.Body) {
		c.logger.Error("discarding malformed message",
			zap.String("queue", queue),
			zap.String("eventType", eventType),
			zap.Uint64("deliveryTag", d.DeliveryTag))
		c.settle(d, queue, eventType, "reject", d.Nack(false, false))
		return
	}

	// 핸들러는 종료 신호와 무관하게 끝까지 실행
	hctx := otel.GetTextMapPropagator().Extract(context.WithoutCancel(ctx), HeaderCarrier(d.Headers))
	hctx, span := c.tracer.Start(hctx, eventType+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", queue),
			attribute.Bool("messaging.rabbitmq.redelivered", d.Redelivered),
		))
	defer span.End()

	key := deliveryKey(queue, d)
	err := handler(hctx, msg)
	if err == nil {
		c.forget(key)
		c.settle(d, queue, eventType, "ack", d.Ack(false))
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "handler failed")

	if IsPermanent(err) {
		c.logger.Error("handler rejected message permanently",
			zap.String("queue", queue),
			zap.String("eventType", eventType),
			zap.Error(err))
		c.forget(key)
		c.settle(d, queue, eventType, "reject", d.Nack(false, false))
		return
	}

	attempts := c.recordFailure(key, d)
	if c.maxDeliveries > 0 && attempts >= c.maxDeliveries {
		c.forget(key)
		c.logger.Error("delivery limit reached, message rejected",
			zap.String("queue", queue),
			zap.String("eventType", eventType),
			zap.String("messageId", d.MessageId),
			zap.Int("attempts", attempts),
			zap.Error(err))
		c.settle(d, queue, eventType, "reject", d.Nack(false, false))
		return
	}

	c.logger.Warn("handler failed, message requeued",
		zap.String("queue", queue),
		zap.String("eventType", eventType),
		zap.Bool("redelivered", d.Redelivered),
		zap.Int("attempts", attempts),
		zap.Error(err))

	if c.requeueDelay > 0 {
		timer := time.NewTimer(c.requeueDelay)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		timer.Stop()
	}
	c.settle(d, queue, eventType, "requeue", d.Nack(false, true))
}

// recordFailure 실패 횟수 누적 (브로커가 헤더로 알려주면 더 큰 값을 사용)
func (c *RabbitConsumer) recordFailure(key string, d amqp.Delivery) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.failures[key] + 1
	if broker := headerCount(d.Headers[HeaderDeliveryCount]) + 1; broker > n {
		n = broker
	}
	c.failures[key] = n
	return n
}

func (c *RabbitConsumer) forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failures, key)
}

func deliveryKey(queue string, d amqp.Delivery) string {
	if d.MessageId != "" {
		return queue + "/" + d.MessageId
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(d.RoutingKey))
	_, _ = h.Write(d.Body)
	return queue + "#" + strconv.FormatUint(h.Sum64(), 16)
}

func headerCount(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	}
	return 0
}

func (c *RabbitConsumer) settle(d amqp.Delivery, queue, eventType, outcome string, err error) {
	if err != nil {
		c.logger.Error("failed to settle delivery",
			zap.String("queue", queue),
			zap.String("outcome", outcome),
			zap.Uint64("deliveryTag", d.DeliveryTag),
			zap.Error(err))
		return
	}
	c.metrics.EventConsumed(queue, eventType, outcome)
}

func toMessage(d amqp.Delivery) *Message {
	eventType := d.RoutingKey
	if v, ok := d.Headers[HeaderEventType].(string); ok && v != "" {
		eventType = v
	}
	return &Message{
		EventType:   events.EventType(eventType),
		Exchange:    d.Exchange,
		RoutingKey:  d.RoutingKey,
		MessageID:   d.MessageId,
		Headers:     d.Headers,
		Body:        d.Body,
		Redelivered: d.Redelivered,
		DeliveryTag: d.DeliveryTag,
	}
}
