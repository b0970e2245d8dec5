package messaging

import (
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyungseok/msa-rental-go/common/errors"
)

func TestTopology_Route(t *testing.T) {
	topo := DefaultTopology()

	tests := []struct {
		eventType string
		exchange  string
	}{
		{"rent.order.created", "rent_events"},
		{"rent.penalty.charged", "rent_events"},
		{"payment.successful", "payment_events"},
		{"refund.declined", "payment_events"},
		{"catalog.game.added", "game_catalog_events"},
		{"game.booked", "booking_events"},
		{"booking.cancelled", "booking_events"},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			ex, err := topo.Route(tt.eventType)
			require.NoError(t, err)
			assert.Equal(t, tt.exchange, ex.Name)
		})
	}
}

func TestTopology_Route_Unroutable(t *testing.T) {
	_, err := DefaultTopology().Route("inventory.reserved")
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnroutable))

	_, err = DefaultTopology().Route("game.booked.late")
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnroutable))
}

func TestTopology_Route_Ambiguous(t *testing.T) {
	audit := Family{
		Name:     "audit",
		Exchange: ExchangeSpec{Name: "audit_events", Kind: amqp.ExchangeTopic, Durable: true},
		Prefixes: []string{"rent."},
	}
	topo, err := NewTopology(RentFamily, audit)
	require.NoError(t, err)

	_, err = topo.Route("rent.order.created")
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnroutable))
}

func TestNewTopology_ConflictingExchange(t *testing.T) {
	conflicting := RentFamily
	conflicting.Name = "rent-transient"
	conflicting.Exchange.Durable = false

	_, err := NewTopology(RentFamily, conflicting)
	assert.Error(t, err)
}

func TestExchangeSpec_DeliveryModeAndRoutingKey(t *testing.T) {
	assert.Equal(t, uint8(amqp.Persistent), CatalogFamily.Exchange.DeliveryMode())
	assert.Equal(t, uint8(amqp.Persistent), RentFamily.Exchange.DeliveryMode())
	assert.Equal(t, uint8(amqp.Persistent), PaymentFamily.Exchange.DeliveryMode())
	assert.Equal(t, uint8(amqp.Transient), BookingFamily.Exchange.DeliveryMode())

	assert.Equal(t, "", CatalogFamily.Exchange.RoutingKey("catalog.game.added"))
	assert.Equal(t, "game.booked", BookingFamily.Exchange.RoutingKey("game.booked"))
	assert.Equal(t, "rent.order.created", RentFamily.Exchange.RoutingKey("rent.order.created"))
}

func TestFamily_QueuePolicy(t *testing.T) {
	catalog := CatalogFamily.Queue("game_catalog_listener")
	assert.True(t, catalog.Durable)
	assert.False(t, catalog.AutoDelete)

	booking := BookingFamily.Queue("booking_processor")
	assert.False(t, booking.Durable)
	assert.True(t, booking.AutoDelete)

	rent := RentFamily.Queue("rent_processor")
	assert.True(t, rent.Durable)
	assert.False(t, rent.AutoDelete)
}

func TestTopology_DeclareIsIdempotent(t *testing.T) {
	broker := NewMemoryBroker()
	topo := DefaultTopology()
	sub := RentFamily.Subscription("rent_processor", "rent.order.*")

	for i := 0; i < 2; i++ {
		ch, err := broker.Channel()
		require.NoError(t, err)
		queue, err := topo.DeclareSubscription(ch, sub)
		require.NoError(t, err)
		assert.Equal(t, "rent_processor", queue)
	}

	assert.True(t, broker.HasExchange("rent_events"))
	assert.True(t, broker.HasQueue("rent_processor"))
	assert.Equal(t, 1, broker.Bindings("rent_events"))
}

func TestTopology_ConcurrentDeclaration(t *testing.T) {
	broker := NewMemoryBroker()
	topo := DefaultTopology()
	subs := []Subscription{
		CatalogFamily.Subscription("game_catalog_listener"),
		BookingFamily.Subscription("booking_processor", "game.booked"),
		RentFamily.Subscription("rent_processor", "rent.order.*"),
	}

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, err := broker.Channel()
			if err != nil {
				errs <- err
				return
			}
			for _, sub := range subs {
				if _, err := topo.DeclareSubscription(ch, sub); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, broker.Bindings("game_catalog_events"))
	assert.Equal(t, 1, broker.Bindings("booking_events"))
	assert.Equal(t, 1, broker.Bindings("rent_events"))
}

func TestTopology_InequivalentRedeclaration(t *testing.T) {
	broker := NewMemoryBroker()
	topo := DefaultTopology()
	ch, err := broker.Channel()
	require.NoError(t, err)

	require.NoError(t, topo.DeclareExchange(ch, RentFamily.Exchange))

	transient := RentFamily.Exchange
	transient.Durable = false
	err = topo.DeclareExchange(ch, transient)
	assert.True(t, errors.HasCode(err, errors.ErrCodePreconditionFailed))
}

func TestTopology_BindingIsAdditive(t *testing.T) {
	broker := NewMemoryBroker()
	topo := DefaultTopology()
	ch, err := broker.Channel()
	require.NoError(t, err)

	_, err = topo.DeclareSubscription(ch, RentFamily.Subscription("rent_processor", "rent.order.*"))
	require.NoError(t, err)
	_, err = topo.DeclareSubscription(ch, RentFamily.Subscription("rent_processor", "rent.game.*"))
	require.NoError(t, err)

	assert.Equal(t, 2, broker.Bindings("rent_events"))
}
