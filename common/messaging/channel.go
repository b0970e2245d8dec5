package messaging

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel AMQP 채널에서 사용하는 연산 집합 (*amqp.Channel 이 구현)
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	Cancel(consumer string, noWait bool) error
	Close() error
}

// Connector 채널을 열어주는 브로커 연결 (Session, MemoryBroker)
type Connector interface {
	Channel() (Channel, error)
}

var _ Channel = (*amqp.Channel)(nil)
