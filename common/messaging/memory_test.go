package messaging

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		match   bool
	}{
		{"rent.order.*", "rent.order.created", true},
		{"rent.order.*", "rent.order.created.v2", false},
		{"rent.penalty.*", "rent.order.created", false},
		{"rent.#", "rent.order.created", true},
		{"rent.#", "rent", true},
		{"#", "payment.successful", true},
		{"*.successful", "payment.successful", true},
		{"*.successful", "successful", false},
		{"rent.*.created", "rent.order.created", true},
		{"rent.#.created", "rent.a.b.created", true},
		{"payment.declined", "payment.declined", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.match, TopicMatch(tt.pattern, tt.key))
		})
	}
}

func publishRaw(t *testing.T, broker *MemoryBroker, exchange, key string, mode uint8) {
	t.Helper()
	ch, err := broker.Channel()
	require.NoError(t, err)
	defer ch.Close()
	require.NoError(t, ch.PublishWithContext(context.Background(), exchange, key, false, false, amqp.Publishing{
		DeliveryMode: mode,
		Body:         []byte(`{}`),
	}))
}

func TestMemoryBroker_RestartKeepsDurableState(t *testing.T) {
	broker := NewMemoryBroker()
	topo := DefaultTopology()
	ch, err := broker.Channel()
	require.NoError(t, err)

	_, err = topo.DeclareSubscription(ch, RentFamily.Subscription("rent_processor", "rent.#"))
	require.NoError(t, err)
	_, err = topo.DeclareSubscription(ch, BookingFamily.Subscription("booking_processor", "game.booked"))
	require.NoError(t, err)

	publishRaw(t, broker, "rent_events", "rent.order.created", amqp.Persistent)
	publishRaw(t, broker, "rent_events", "rent.order.created", amqp.Transient)
	publishRaw(t, broker, "booking_events", "game.booked", amqp.Transient)

	require.Equal(t, 2, broker.QueueDepth("rent_processor"))
	require.Equal(t, 1, broker.QueueDepth("booking_processor"))

	broker.Restart()

	assert.True(t, broker.HasExchange("rent_events"))
	assert.False(t, broker.HasExchange("booking_events"))
	assert.False(t, broker.HasQueue("booking_processor"))
	assert.Equal(t, 1, broker.QueueDepth("rent_processor"))
	assert.Equal(t, 1, broker.Bindings("rent_events"))
}

func TestMemoryBroker_AutoDeleteQueueRemovedWithLastConsumer(t *testing.T) {
	broker := NewMemoryBroker()
	topo := DefaultTopology()
	ch, err := broker.Channel()
	require.NoError(t, err)

	queue, err := topo.DeclareSubscription(ch, BookingFamily.Subscription("booking_processor", "game.booked"))
	require.NoError(t, err)

	_, err = ch.ConsumeWithContext(context.Background(), queue, "worker-1", false, false, false, false, nil)
	require.NoError(t, err)
	require.True(t, broker.HasQueue("booking_processor"))

	require.NoError(t, ch.Cancel("worker-1", false))
	assert.False(t, broker.HasQueue("booking_processor"))
	assert.Equal(t, 0, broker.Bindings("booking_events"))
}

func TestMemoryBroker_CloseRequeuesUnacked(t *testing.T) {
	broker := NewMemoryBroker()
	topo := DefaultTopology()
	setup, err := broker.Channel()
	require.NoError(t, err)
	_, err = topo.DeclareSubscription(setup, RentFamily.Subscription("rent_processor", "rent.#"))
	require.NoError(t, err)

	publishRaw(t, broker, "rent_events", "rent.game.returned", amqp.Persistent)

	ch, err := broker.Channel()
	require.NoError(t, err)
	deliveries, err := ch.ConsumeWithContext(context.Background(), "rent_processor", "c1", false, false, false, false, nil)
	require.NoError(t, err)

	d := <-deliveries
	assert.False(t, d.Redelivered)
	assert.Equal(t, 0, broker.QueueDepth("rent_processor"))

	require.NoError(t, ch.Close())
	assert.Equal(t, 1, broker.QueueDepth("rent_processor"))
	assert.ErrorIs(t, d.Ack(false), amqp.ErrClosed)
}
