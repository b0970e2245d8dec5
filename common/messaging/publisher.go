package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/events"
	"github.com/kyungseok/msa-rental-go/common/metrics"
)

// HeaderEventType 이벤트 타입을 담는 메시지 헤더
const HeaderEventType = "event_type"

const tracerName = "github.com/kyungseok/msa-rental-go/common/messaging"

// Publisher 이벤트 발행 인터페이스
type Publisher interface {
	Publish(ctx context.Context, eventType events.EventType, payload interface{}) error
	Close() error
}

// PublisherOption 발행자 옵션
type PublisherOption func(*RabbitPublisher)

// WithPublishTimeout 발행 1건당 제한 시간
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *RabbitPublisher) { p.timeout = d }
}

// WithPublisherMetrics 발행 지표 연결
func WithPublisherMetrics(m *metrics.Metrics) PublisherOption {
	return func(p *RabbitPublisher) { p.metrics = m }
}

// RabbitPublisher RabbitMQ 기반 이벤트 발행자
// 하나의 confirm 모드 채널을 재사용하고, 실패하면 다음 발행 때 새 채널을 연다
// Publish 는 브로커가 ack 한 뒤에만 nil 을 반환한다
type RabbitPublisher struct {
	connector Connector
	topology  *Topology
	logger    *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	timeout   time.Duration

	mu       sync.Mutex
	ch       Channel
	confirms chan amqp.Confirmation
	declared map[string]bool
}

// NewRabbitPublisher RabbitMQ 발행자 생성
func NewRabbitPublisher(connector Connector, topology *Topology, logger *zap.Logger, opts ...PublisherOption) *RabbitPublisher {
	p := &RabbitPublisher{
		connector: connector,
		topology:  topology,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		timeout:   5 * time.Second,
		declared:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish 이벤트 발행
func (p *RabbitPublisher) Publish(ctx context.Context, eventType events.EventType, payload interface{}) error {
	exchange, err := p.topology.Route(string(eventType))
	if err != nil {
		return err
	}

	body, fields, err := encodeFlat(payload)
	if err != nil {
		return err
	}

	ctx, span := p.tracer.Start(ctx, string(eventType)+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", exchange.Name),
			attribute.String("messaging.rabbitmq.destination.routing_key", exchange.RoutingKey(string(eventType))),
		))
	defer span.End()

	headers := amqp.Table{HeaderEventType: string(eventType)}
	otel.GetTextMapPropagator().Inject(ctx, HeaderCarrier(headers))

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: exchange.DeliveryMode(),
		Headers:      headers,
		MessageId:    stringField(fields, "event_id"),
		Timestamp:    time.Now().UTC(),
		Type:         string(eventType),
		Body:         body,
	}

	routingKey := exchange.RoutingKey(string(eventType))
	err = p.publish(ctx, exchange, routingKey, msg)
	p.metrics.EventPublished(exchange.Name, string(eventType), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		p.logger.Error("failed to publish event",
			zap.Error(err),
			zap.String("exchange", exchange.Name),
			zap.String("eventType", string(eventType)))
		if errors.HasCode(err, errors.ErrCodePreconditionFailed) {
			return err
		}
		return errors.Wrap(errors.ErrCodeBrokerUnavailable, "failed to publish event", err)
	}

	p.logger.Debug("event published",
		zap.String("exchange", exchange.Name),
		zap.String("routingKey", routingKey),
		zap.String("eventType", string(eventType)),
		zap.Uint8("deliveryMode", msg.DeliveryMode))
	return nil
}

func (p *RabbitPublisher) publish(ctx context.Context, exchange ExchangeSpec, key string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		ch, err := p.connector.Channel()
		if err != nil {
			return err
		}
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return wrapBrokerError("failed to enable publisher confirms", err)
		}
		p.ch = ch
		p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
		p.declared = make(map[string]bool)
	}

	if !p.declared[exchange.Name] {
		if err := p.topology.DeclareExchange(p.ch, exchange); err != nil {
			p.resetLocked()
			return err
		}
		p.declared[exchange.Name] = true
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.ch.PublishWithContext(pubCtx, exchange.Name, key, false, false, msg); err != nil {
		p.resetLocked()
		return err
	}

	// 발행은 mu 로 직렬화되므로 다음 확인 통지가 방금 보낸 메시지의 것
	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			p.resetLocked()
			return errors.New(errors.ErrCodeBrokerUnavailable, "channel closed before publish was confirmed")
		}
		if !confirm.Ack {
			return errors.New(errors.ErrCodeBrokerUnavailable, "broker nacked publish")
		}
		return nil
	case <-pubCtx.Done():
		p.resetLocked()
		return errors.Wrap(errors.ErrCodeBrokerUnavailable, "timed out waiting for publish confirm", pubCtx.Err())
	}
}

func (p *RabbitPublisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	p.ch = nil
	p.confirms = nil
	p.declared = make(map[string]bool)
}

// Close 발행자 종료
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}

// MultiPublisher 주 발행자 + 보조(미러) 발행자
// 주 발행자의 결과만 반환하고, 미러 실패는 로그로만 남긴다
type MultiPublisher struct {
	primary Publisher
	mirrors []Publisher
	logger  *zap.Logger
}

// NewMultiPublisher 미러 발행자 구성
func NewMultiPublisher(primary Publisher, logger *zap.Logger, mirrors ...Publisher) *MultiPublisher {
	return &MultiPublisher{primary: primary, mirrors: mirrors, logger: logger}
}

// Publish 이벤트 발행
func (m *MultiPublisher) Publish(ctx context.Context, eventType events.EventType, payload interface{}) error {
	if err := m.primary.Publish(ctx, eventType, payload); err != nil {
		return err
	}
	for _, mirror := range m.mirrors {
		if err := mirror.Publish(ctx, eventType, payload); err != nil {
			m.logger.Warn("failed to mirror event",
				zap.String("eventType", string(eventType)),
				zap.Error(err))
		}
	}
	return nil
}

// Close 모든 발행자 종료
func (m *MultiPublisher) Close() error {
	var first error
	for _, p := range append([]Publisher{m.primary}, m.mirrors...) {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// encodeFlat 페이로드를 평평한 JSON 객체로 직렬화 (중첩 객체/배열 불가)
func encodeFlat(payload interface{}) ([]byte, map[string]json.RawMessage, error) {
	var body []byte
	switch v := payload.(type) {
	case json.RawMessage:
		body = v
	case []byte:
		body = v
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal event", err)
		}
		body = b
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, nil, errors.New(errors.ErrCodeSerializationError, "event payload must be a JSON object")
	}
	for name, raw := range fields {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
			return nil, nil, errors.New(errors.ErrCodeSerializationError, fmt.Sprintf("event payload field %q is not flat", name))
		}
	}
	return body, fields, nil
}

func stringField(fields map[string]json.RawMessage, name string) string {
	raw, ok := fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
