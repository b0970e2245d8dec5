package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const memoryConsumerBuffer = 1024

// PublishedMessage MemoryBroker 가 기록한 발행 메시지
type PublishedMessage struct {
	Exchange   string
	RoutingKey string
	Publishing amqp.Publishing
}

// MemoryBroker AMQP 라우팅 의미론을 프로세스 내에서 재현하는 브로커
// (fanout/direct/topic 라우팅, 수동 ack, requeue, auto-delete, 재시작 시 내구성)
type MemoryBroker struct {
	mu         sync.Mutex
	exchanges  map[string]*memExchange
	queues     map[string]*memQueue
	channels   map[*memChannel]struct{}
	published  []PublishedMessage
	publishErr error
	nack       bool
}

type memExchange struct {
	name       string
	kind       string
	durable    bool
	autoDelete bool
	bindings   []memBinding
}

type memBinding struct {
	queue string
	key   string
}

type memQueue struct {
	name       string
	durable    bool
	autoDelete bool
	exclusive  bool
	ready      []*memMessage
	consumers  []*memConsumer
	next       int
}

type memMessage struct {
	exchange    string
	routingKey  string
	publishing  amqp.Publishing
	redelivered bool
}

type memConsumer struct {
	tag      string
	channel  *memChannel
	queue    *memQueue
	out      chan amqp.Delivery
	autoAck  bool
	inflight int
	closed   bool
	done     chan struct{}
}

type memUnacked struct {
	queue    *memQueue
	consumer *memConsumer
	message  *memMessage
}

type memChannel struct {
	broker    *MemoryBroker
	nextTag   uint64
	prefetch  int
	consumers map[string]*memConsumer
	unacked   map[uint64]*memUnacked
	closed    bool

	confirming bool
	publishSeq uint64
	confirms   []chan amqp.Confirmation
}

// NewMemoryBroker 메모리 브로커 생성
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		exchanges: make(map[string]*memExchange),
		queues:    make(map[string]*memQueue),
		channels:  make(map[*memChannel]struct{}),
	}
}

// Channel 새 채널 열기
func (b *MemoryBroker) Channel() (Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := &memChannel{
		broker:    b,
		consumers: make(map[string]*memConsumer),
		unacked:   make(map[uint64]*memUnacked),
	}
	b.channels[ch] = struct{}{}
	return ch, nil
}

// FailPublishes 이후 발행을 주어진 에러로 실패시킴 (nil 이면 해제)
func (b *MemoryBroker) FailPublishes(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// NackPublishes confirm 모드 채널의 이후 발행을 nack 처리 (메시지는 라우팅되지 않음)
func (b *MemoryBroker) NackPublishes(nack bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nack = nack
}

// Published 지금까지 발행된 메시지 스냅샷
func (b *MemoryBroker) Published() []PublishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]PublishedMessage(nil), b.published...)
}

// QueueDepth 큐에 대기 중인 (미전달) 메시지 수, 큐가 없으면 -1
func (b *MemoryBroker) QueueDepth(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return -1
	}
	return len(q.ready)
}

// HasExchange 익스체인지 존재 여부
func (b *MemoryBroker) HasExchange(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.exchanges[name]
	return ok
}

// HasQueue 큐 존재 여부
func (b *MemoryBroker) HasQueue(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[name]
	return ok
}

// Bindings 익스체인지의 바인딩 수
func (b *MemoryBroker) Bindings(exchange string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	ex, ok := b.exchanges[exchange]
	if !ok {
		return 0
	}
	return len(ex.bindings)
}

// Restart 브로커 재시작 시뮬레이션
// 모든 채널이 닫히고, non-durable 익스체인지/큐와 transient 메시지는 사라짐
func (b *MemoryBroker) Restart() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.channels {
		ch.closeLocked()
	}
	b.channels = make(map[*memChannel]struct{})

	for name, q := range b.queues {
		if !q.durable {
			delete(b.queues, name)
			continue
		}
		kept := q.ready[:0]
		for _, m := range q.ready {
			if m.publishing.DeliveryMode == amqp.Persistent {
				kept = append(kept, m)
			}
		}
		q.ready = kept
		q.consumers = nil
	}

	for name, ex := range b.exchanges {
		if !ex.durable {
			delete(b.exchanges, name)
			continue
		}
		kept := ex.bindings[:0]
		for _, bnd := range ex.bindings {
			if _, ok := b.queues[bnd.queue]; ok {
				kept = append(kept, bnd)
			}
		}
		ex.bindings = kept
	}
}

func preconditionFailed(format string, args ...interface{}) *amqp.Error {
	return &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - " + fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...interface{}) *amqp.Error {
	return &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - " + fmt.Sprintf(format, args...)}
}

func (ch *memChannel) ExchangeDeclare(name, kind string, durable, autoDelete, _, _ bool, _ amqp.Table) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if existing, ok := b.exchanges[name]; ok {
		if existing.kind != kind || existing.durable != durable || existing.autoDelete != autoDelete {
			return preconditionFailed("inequivalent arg for exchange '%s'", name)
		}
		return nil
	}
	switch kind {
	case amqp.ExchangeFanout, amqp.ExchangeDirect, amqp.ExchangeTopic:
	default:
		return &amqp.Error{Code: amqp.CommandInvalid, Reason: "COMMAND_INVALID - unknown exchange type '" + kind + "'"}
	}
	b.exchanges[name] = &memExchange{name: name, kind: kind, durable: durable, autoDelete: autoDelete}
	return nil
}

func (ch *memChannel) QueueDeclare(name string, durable, autoDelete, exclusive, _ bool, _ amqp.Table) (amqp.Queue, error) {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	if name == "" {
		name = "amq.gen-" + uuid.New().String()
	}
	if existing, ok := b.queues[name]; ok {
		if existing.durable != durable || existing.autoDelete != autoDelete || existing.exclusive != exclusive {
			return amqp.Queue{}, preconditionFailed("inequivalent arg for queue '%s'", name)
		}
		return amqp.Queue{Name: name, Messages: len(existing.ready), Consumers: len(existing.consumers)}, nil
	}
	b.queues[name] = &memQueue{name: name, durable: durable, autoDelete: autoDelete, exclusive: exclusive}
	return amqp.Queue{Name: name}, nil
}

func (ch *memChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ex, ok := b.exchanges[exchange]
	if !ok {
		return notFound("no exchange '%s'", exchange)
	}
	if _, ok := b.queues[name]; !ok {
		return notFound("no queue '%s'", name)
	}
	for _, bnd := range ex.bindings {
		if bnd.queue == name && bnd.key == key {
			return nil
		}
	}
	ex.bindings = append(ex.bindings, memBinding{queue: name, key: key})
	return nil
}

func (ch *memChannel) Qos(prefetchCount, _ int, _ bool) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.prefetch = prefetchCount
	return nil
}

func (ch *memChannel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if b.publishErr != nil {
		return b.publishErr
	}
	if ch.confirming && b.nack {
		ch.confirmLocked(false)
		return nil
	}

	var targets []string
	if exchange == "" {
		if _, ok := b.queues[key]; ok {
			targets = append(targets, key)
		}
	} else {
		ex, ok := b.exchanges[exchange]
		if !ok {
			return notFound("no exchange '%s'", exchange)
		}
		seen := make(map[string]bool)
		for _, bnd := range ex.bindings {
			if seen[bnd.queue] || !routes(ex.kind, bnd.key, key) {
				continue
			}
			seen[bnd.queue] = true
			targets = append(targets, bnd.queue)
		}
	}

	b.published = append(b.published, PublishedMessage{Exchange: exchange, RoutingKey: key, Publishing: msg})

	for _, name := range targets {
		q := b.queues[name]
		q.ready = append(q.ready, &memMessage{exchange: exchange, routingKey: key, publishing: msg})
		b.dispatchLocked(q)
	}
	if ch.confirming {
		ch.confirmLocked(true)
	}
	return nil
}

func (ch *memChannel) Confirm(_ bool) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.confirming = true
	return nil
}

func (ch *memChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		close(confirm)
		return confirm
	}
	ch.confirms = append(ch.confirms, confirm)
	return confirm
}

// confirmLocked 발행 확인 통지 (수신자가 비우지 않은 버퍼가 가득 차면 버림)
func (ch *memChannel) confirmLocked(ack bool) {
	ch.publishSeq++
	c := amqp.Confirmation{DeliveryTag: ch.publishSeq, Ack: ack}
	for _, l := range ch.confirms {
		select {
		case l <- c:
		default:
		}
	}
}

func (ch *memChannel) ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return nil, amqp.ErrClosed
	}
	q, ok := b.queues[queue]
	if !ok {
		return nil, notFound("no queue '%s'", queue)
	}
	if consumer == "" {
		consumer = "ctag-" + uuid.New().String()
	}
	if _, exists := ch.consumers[consumer]; exists {
		return nil, &amqp.Error{Code: amqp.NotAllowed, Reason: "NOT_ALLOWED - attempt to reuse consumer tag '" + consumer + "'"}
	}

	c := &memConsumer{
		tag:     consumer,
		channel: ch,
		queue:   q,
		out:     make(chan amqp.Delivery, memoryConsumerBuffer),
		autoAck: autoAck,
		done:    make(chan struct{}),
	}
	ch.consumers[consumer] = c
	q.consumers = append(q.consumers, c)
	b.dispatchLocked(q)

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = ch.Cancel(c.tag, false)
			case <-c.done:
			}
		}()
	}

	return c.out, nil
}

func (ch *memChannel) Cancel(consumer string, _ bool) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	c, ok := ch.consumers[consumer]
	if !ok {
		return nil
	}
	ch.cancelLocked(c)
	return nil
}

func (ch *memChannel) Close() error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return nil
	}
	ch.closeLocked()
	delete(b.channels, ch)
	return nil
}

// Ack amqp.Acknowledger 구현
func (ch *memChannel) Ack(tag uint64, multiple bool) error {
	return ch.settle(tag, multiple, false, false)
}

// Nack amqp.Acknowledger 구현
func (ch *memChannel) Nack(tag uint64, multiple, requeue bool) error {
	return ch.settle(tag, multiple, true, requeue)
}

// Reject amqp.Acknowledger 구현
func (ch *memChannel) Reject(tag uint64, requeue bool) error {
	return ch.settle(tag, false, true, requeue)
}

func (ch *memChannel) settle(tag uint64, multiple, negative, requeue bool) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}

	var tags []uint64
	if multiple {
		for t := range ch.unacked {
			if t <= tag {
				tags = append(tags, t)
			}
		}
	} else if _, ok := ch.unacked[tag]; ok {
		tags = []uint64{tag}
	}
	if len(tags) == 0 {
		return &amqp.Error{Code: amqp.PreconditionFailed, Reason: fmt.Sprintf("PRECONDITION_FAILED - unknown delivery tag %d", tag)}
	}

	touched := make(map[*memQueue]bool)
	for _, t := range tags {
		entry := ch.unacked[t]
		delete(ch.unacked, t)
		entry.consumer.inflight--
		if negative && requeue {
			entry.message.redelivered = true
			if b.alive(entry.queue) {
				entry.queue.ready = append([]*memMessage{entry.message}, entry.queue.ready...)
			}
		}
		touched[entry.queue] = true
	}
	for q := range touched {
		b.dispatchLocked(q)
	}
	return nil
}

func (ch *memChannel) cancelLocked(c *memConsumer) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
	close(c.done)
	delete(ch.consumers, c.tag)

	q := c.queue
	for i, qc := range q.consumers {
		if qc == c {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			break
		}
	}

	b := ch.broker
	if q.autoDelete && len(q.consumers) == 0 {
		b.deleteQueueLocked(q)
	}
}

func (ch *memChannel) closeLocked() {
	// 미확인 메시지는 원래 큐로 되돌림 (재전달)
	requeued := make(map[*memQueue][]*memMessage)
	for tag, entry := range ch.unacked {
		entry.message.redelivered = true
		requeued[entry.queue] = append(requeued[entry.queue], entry.message)
		delete(ch.unacked, tag)
	}

	b := ch.broker
	for q, msgs := range requeued {
		if b.alive(q) {
			q.ready = append(msgs, q.ready...)
		}
	}

	for _, c := range ch.consumers {
		ch.cancelLocked(c)
	}
	for _, l := range ch.confirms {
		close(l)
	}
	ch.confirms = nil
	ch.closed = true

	for q := range requeued {
		if b.alive(q) {
			b.dispatchLocked(q)
		}
	}
}

func (b *MemoryBroker) alive(q *memQueue) bool {
	cur, ok := b.queues[q.name]
	return ok && cur == q
}

func (b *MemoryBroker) deleteQueueLocked(q *memQueue) {
	delete(b.queues, q.name)
	for _, ex := range b.exchanges {
		kept := ex.bindings[:0]
		for _, bnd := range ex.bindings {
			if bnd.queue != q.name {
				kept = append(kept, bnd)
			}
		}
		ex.bindings = kept
	}
}

func (b *MemoryBroker) dispatchLocked(q *memQueue) {
	for len(q.ready) > 0 {
		c := q.nextConsumer()
		if c == nil {
			return
		}
		msg := q.ready[0]
		q.ready = q.ready[1:]

		ch := c.channel
		ch.nextTag++
		delivery := amqp.Delivery{
			Acknowledger:    ch,
			Headers:         msg.publishing.Headers,
			ContentType:     msg.publishing.ContentType,
			ContentEncoding: msg.publishing.ContentEncoding,
			DeliveryMode:    msg.publishing.DeliveryMode,
			CorrelationId:   msg.publishing.CorrelationId,
			MessageId:       msg.publishing.MessageId,
			Timestamp:       msg.publishing.Timestamp,
			Type:            msg.publishing.Type,
			ConsumerTag:     c.tag,
			DeliveryTag:     ch.nextTag,
			Redelivered:     msg.redelivered,
			Exchange:        msg.exchange,
			RoutingKey:      msg.routingKey,
			Body:            msg.publishing.Body,
		}
		if !c.autoAck {
			ch.unacked[delivery.DeliveryTag] = &memUnacked{queue: q, consumer: c, message: msg}
			c.inflight++
		}
		c.out <- delivery
	}
}

func (q *memQueue) nextConsumer() *memConsumer {
	n := len(q.consumers)
	for i := 0; i < n; i++ {
		c := q.consumers[(q.next+i)%n]
		if c.hasCapacity() {
			q.next = (q.next + i + 1) % n
			return c
		}
	}
	return nil
}

func (c *memConsumer) hasCapacity() bool {
	if c.closed || len(c.out) >= cap(c.out) {
		return false
	}
	prefetch := c.channel.prefetch
	return prefetch <= 0 || c.inflight < prefetch
}

func routes(kind, bindingKey, routingKey string) bool {
	switch kind {
	case amqp.ExchangeFanout:
		return true
	case amqp.ExchangeDirect:
		return bindingKey == routingKey
	case amqp.ExchangeTopic:
		return TopicMatch(bindingKey, routingKey)
	}
	return false
}

// TopicMatch AMQP topic 패턴 매칭 ("*" 는 단어 하나, "#" 은 0개 이상의 단어)
func TopicMatch(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, words []string) bool {
	if len(pattern) == 0 {
		return len(words) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(words); i++ {
			if matchWords(pattern[1:], words[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(words) > 0 && matchWords(pattern[1:], words[1:])
	default:
		return len(words) > 0 && pattern[0] == words[0] && matchWords(pattern[1:], words[1:])
	}
}
