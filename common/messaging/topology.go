package messaging

import (
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kyungseok/msa-rental-go/common/errors"
)

// ExchangeSpec 익스체인지 선언 정보
type ExchangeSpec struct {
	Name       string
	Kind       string
	Durable    bool
	AutoDelete bool
}

// DeliveryMode 익스체인지 내구성 등급에 맞는 메시지 영속성 플래그
func (e ExchangeSpec) DeliveryMode() uint8 {
	if e.Durable {
		return amqp.Persistent
	}
	return amqp.Transient
}

// RoutingKey fanout 은 빈 라우팅 키, topic/direct 는 이벤트 타입
func (e ExchangeSpec) RoutingKey(eventType string) string {
	if e.Kind == amqp.ExchangeFanout {
		return ""
	}
	return eventType
}

// QueueSpec 큐 선언 정보
type QueueSpec struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Args       amqp.Table
}

// Family 이벤트 패밀리 (익스체인지 + 큐 수명 정책 + 이벤트 타입 접두사)
type Family struct {
	Name     string
	Exchange ExchangeSpec
	// Prefixes "." 으로 끝나면 접두사, 아니면 정확히 일치하는 이벤트 타입
	Prefixes []string
}

// Queue 패밀리 정책에 맞는 큐 정의
// 내구성 익스체인지는 durable/non-auto-delete 큐, 아니면 non-durable/auto-delete 큐
func (f Family) Queue(name string) QueueSpec {
	if f.Exchange.Durable {
		return QueueSpec{Name: name, Durable: true}
	}
	return QueueSpec{Name: name, AutoDelete: true}
}

// Subscription 패밀리 익스체인지에 대한 구독 정의
func (f Family) Subscription(queue string, patterns ...string) Subscription {
	return Subscription{
		Exchange: f.Exchange,
		Queue:    f.Queue(queue),
		Patterns: patterns,
	}
}

func (f Family) matches(eventType string) bool {
	for _, prefix := range f.Prefixes {
		if strings.HasSuffix(prefix, ".") {
			if strings.HasPrefix(eventType, prefix) {
				return true
			}
			continue
		}
		if eventType == prefix {
			return true
		}
	}
	return false
}

var (
	// CatalogFamily 모든 구독자가 모든 이벤트를 받아야 하고 유실 불가 (카탈로그 변경)
	CatalogFamily = Family{
		Name:     "catalog",
		Exchange: ExchangeSpec{Name: "game_catalog_events", Kind: amqp.ExchangeFanout, Durable: true},
		Prefixes: []string{"catalog."},
	}

	// BookingFamily 대량, 유실 허용 부하 분산 이벤트 (예약 처리 파이프라인)
	BookingFamily = Family{
		Name:     "booking",
		Exchange: ExchangeSpec{Name: "booking_events", Kind: amqp.ExchangeDirect},
		Prefixes: []string{"booking.", "game.booked"},
	}

	// RentFamily 렌탈 주문 라이프사이클 이벤트
	RentFamily = Family{
		Name:     "rent",
		Exchange: ExchangeSpec{Name: "rent_events", Kind: amqp.ExchangeTopic, Durable: true},
		Prefixes: []string{"rent."},
	}

	// PaymentFamily 결제/환불 이벤트
	PaymentFamily = Family{
		Name:     "payment",
		Exchange: ExchangeSpec{Name: "payment_events", Kind: amqp.ExchangeTopic, Durable: true},
		Prefixes: []string{"payment.", "refund."},
	}
)

// Topology 익스체인지/큐/바인딩 관리자
type Topology struct {
	families []Family
}

// NewTopology 토폴로지 생성
func NewTopology(families ...Family) (*Topology, error) {
	seen := make(map[string]ExchangeSpec)
	for _, f := range families {
		if prev, ok := seen[f.Exchange.Name]; ok && prev != f.Exchange {
			return nil, fmt.Errorf("exchange %q declared with conflicting settings", f.Exchange.Name)
		}
		seen[f.Exchange.Name] = f.Exchange
	}
	return &Topology{families: families}, nil
}

// DefaultTopology 서비스 공통 기본 토폴로지
func DefaultTopology() *Topology {
	t, _ := NewTopology(CatalogFamily, BookingFamily, RentFamily, PaymentFamily)
	return t
}

// Families 등록된 패밀리 목록
func (t *Topology) Families() []Family {
	return append([]Family(nil), t.families...)
}

// Route 이벤트 타입이 향할 익스체인지 결정 (정확히 하나여야 함)
func (t *Topology) Route(eventType string) (ExchangeSpec, error) {
	var matched []Family
	for _, f := range t.families {
		if f.matches(eventType) {
			matched = append(matched, f)
		}
	}

	switch len(matched) {
	case 1:
		return matched[0].Exchange, nil
	case 0:
		return ExchangeSpec{}, errors.Newf(errors.ErrCodeUnroutable, "no exchange for event type %q", eventType)
	default:
		return ExchangeSpec{}, errors.Newf(errors.ErrCodeUnroutable, "event type %q matches %d exchanges", eventType, len(matched))
	}
}

// DeclareExchange 익스체인지 선언 (동일 인자 재선언은 브로커에서 no-op)
func (t *Topology) DeclareExchange(ch Channel, ex ExchangeSpec) error {
	if err := ch.ExchangeDeclare(ex.Name, ex.Kind, ex.Durable, ex.AutoDelete, false, false, nil); err != nil {
		return wrapBrokerError(fmt.Sprintf("failed to declare exchange %s", ex.Name), err)
	}
	return nil
}

// DeclareQueue 큐 선언
func (t *Topology) DeclareQueue(ch Channel, q QueueSpec) (amqp.Queue, error) {
	queue, err := ch.QueueDeclare(q.Name, q.Durable, q.AutoDelete, q.Exclusive, false, q.Args)
	if err != nil {
		return amqp.Queue{}, wrapBrokerError(fmt.Sprintf("failed to declare queue %s", q.Name), err)
	}
	return queue, nil
}

// Bind 큐를 익스체인지에 바인딩 (추가만 가능)
func (t *Topology) Bind(ch Channel, queue string, ex ExchangeSpec, keys []string) error {
	if ex.Kind == amqp.ExchangeFanout || len(keys) == 0 {
		keys = []string{""}
	}
	for _, key := range keys {
		if err := ch.QueueBind(queue, key, ex.Name, false, nil); err != nil {
			return wrapBrokerError(fmt.Sprintf("failed to bind %s to %s (%s)", queue, ex.Name, key), err)
		}
	}
	return nil
}

// DeclareSubscription 구독에 필요한 익스체인지, 큐, 바인딩을 모두 선언하고 큐 이름 반환
func (t *Topology) DeclareSubscription(ch Channel, sub Subscription) (string, error) {
	if err := t.DeclareExchange(ch, sub.Exchange); err != nil {
		return "", err
	}
	queue, err := t.DeclareQueue(ch, sub.Queue)
	if err != nil {
		return "", err
	}
	if err := t.Bind(ch, queue.Name, sub.Exchange, sub.Patterns); err != nil {
		return "", err
	}
	return queue.Name, nil
}

// DeclareAll 모든 패밀리의 익스체인지 선언
func (t *Topology) DeclareAll(ch Channel) error {
	for _, f := range t.families {
		if err := t.DeclareExchange(ch, f.Exchange); err != nil {
			return err
		}
	}
	return nil
}

func wrapBrokerError(message string, err error) error {
	if amqpErr, ok := err.(*amqp.Error); ok && amqpErr.Code == amqp.PreconditionFailed {
		return errors.Wrap(errors.ErrCodePreconditionFailed, message, err)
	}
	return errors.Wrap(errors.ErrCodeBrokerUnavailable, message, err)
}
