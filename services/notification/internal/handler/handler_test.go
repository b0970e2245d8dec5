package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyungseok/msa-rental-go/common/events"
	"github.com/kyungseok/msa-rental-go/common/httpapi"
	"github.com/kyungseok/msa-rental-go/common/idempotency"
	"github.com/kyungseok/msa-rental-go/common/logger"
	"github.com/kyungseok/msa-rental-go/common/messaging"
	"github.com/kyungseok/msa-rental-go/common/notifier"
	"github.com/kyungseok/msa-rental-go/services/notification/internal/service"
)

func message(t *testing.T, eventType events.EventType, evt interface{}) *messaging.Message {
	t.Helper()
	body, err := json.Marshal(evt)
	require.NoError(t, err)
	return &messaging.Message{EventType: eventType, Body: body}
}

func TestEventHandler_PushesOncePerEvent(t *testing.T) {
	rec := notifier.NewRecorder()
	h := NewEventHandler(service.NewNotificationService(rec, logger.NewTestLogger(), 10), idempotency.NewMemoryStore(), time.Hour, logger.NewTestLogger())

	msg := message(t, events.EventPaymentDeclined, events.PaymentSettledEvent{
		BaseEvent: events.NewBase(events.EventPaymentDeclined, "O1"),
		OrderID:   "O1",
		UserID:    "U1",
		Status:    "declined",
	})
	require.NoError(t, h.HandleMessage(context.Background(), msg))
	require.NoError(t, h.HandleMessage(context.Background(), msg))

	assert.Len(t, rec.Sent(), 1)
}

func TestEventHandler_FailedPushIsRetried(t *testing.T) {
	rec := notifier.NewRecorder()
	rec.Fail("push")
	idem := idempotency.NewMemoryStore()
	h := NewEventHandler(service.NewNotificationService(rec, logger.NewTestLogger(), 10), idem, time.Hour, logger.NewTestLogger())

	evt := events.OrderCreatedEvent{
		BaseEvent: events.NewBase(events.EventRentOrderCreated, "O1"),
		OrderID:   "O1",
		UserID:    "U1",
	}
	err := h.HandleMessage(context.Background(), message(t, events.EventRentOrderCreated, evt))
	require.Error(t, err)
	assert.False(t, messaging.IsPermanent(err))

	processed, _ := idem.IsProcessed(context.Background(), evt.EventID)
	assert.False(t, processed)
}

func TestEventHandler_MalformedIsPermanent(t *testing.T) {
	h := NewEventHandler(service.NewNotificationService(notifier.NewRecorder(), logger.NewTestLogger(), 10), idempotency.NewMemoryStore(), time.Hour, logger.NewTestLogger())
	err := h.HandleMessage(context.Background(), &messaging.Message{EventType: events.EventGameBooked, Body: []byte("nope")})
	assert.True(t, messaging.IsPermanent(err))
}

func TestSubscriptions_CoverEveryFamily(t *testing.T) {
	subs := Subscriptions(4)
	require.Len(t, subs, 4)

	exchanges := make(map[string]messaging.Subscription)
	for _, s := range subs {
		exchanges[s.Exchange.Name] = s
		assert.Equal(t, 4, s.Prefetch)
	}

	catalog := exchanges["game_catalog_events"]
	assert.Equal(t, CatalogQueue, catalog.Queue.Name)
	assert.True(t, catalog.Queue.Durable)

	booking := exchanges["booking_events"]
	assert.Equal(t, BookingQueue, booking.Queue.Name)
	assert.True(t, booking.Queue.AutoDelete)
	assert.False(t, booking.Queue.Durable)

	assert.Contains(t, exchanges, "rent_events")
	assert.Contains(t, exchanges["payment_events"].Patterns, "refund.processed")
}

// 네 가지 익스체인지 패밀리 모두에서 이벤트를 받아 피드에 기록
func TestConsumeAllFamilies(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	topology := messaging.DefaultTopology()
	log := logger.NewTestLogger()

	rec := notifier.NewRecorder()
	svc := service.NewNotificationService(rec, log, 10)
	h := NewEventHandler(svc, idempotency.NewMemoryStore(), time.Hour, log)
	consumer := messaging.NewRabbitConsumer(broker, topology, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, sub := range Subscriptions(1) {
		go func(sub messaging.Subscription) { _ = consumer.Consume(ctx, sub, h.HandleMessage) }(sub)
	}
	for _, ex := range []string{"rent_events", "payment_events", "game_catalog_events", "booking_events"} {
		ex := ex
		require.Eventually(t, func() bool { return broker.Bindings(ex) > 0 }, time.Second, 5*time.Millisecond)
	}

	publisher := messaging.NewRabbitPublisher(broker, topology, log)
	require.NoError(t, publisher.Publish(ctx, events.EventCatalogGameAdded, events.CatalogGameEvent{
		BaseEvent: events.NewBase(events.EventCatalogGameAdded, ""),
		GameID:    "G1",
		Title:     "Chess",
	}))
	require.NoError(t, publisher.Publish(ctx, events.EventGameBooked, events.GameBookedEvent{
		BaseEvent: events.NewBase(events.EventGameBooked, ""),
		BookingID: "B1",
		GameID:    "G1",
		UserID:    "U1",
	}))
	require.NoError(t, publisher.Publish(ctx, events.EventRentOrderCreated, events.OrderCreatedEvent{
		BaseEvent: events.NewBase(events.EventRentOrderCreated, "O1"),
		OrderID:   "O1",
		UserID:    "U1",
	}))
	require.NoError(t, publisher.Publish(ctx, events.EventRefundProcessed, events.RefundProcessedEvent{
		BaseEvent: events.NewBase(events.EventRefundProcessed, "O1"),
		OrderID:   "O1",
		UserID:    "U1",
		Status:    "completed",
	}))

	require.Eventually(t, func() bool { return len(svc.Recent("", 0)) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, rec.Sent(), 2)
	assert.Len(t, svc.Recent("U1", 0), 3)
}

func TestHTTP_ListNotifications(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := service.NewNotificationService(notifier.NewRecorder(), logger.NewTestLogger(), 10)
	require.NoError(t, svc.RecordBooking(context.Background(), events.GameBookedEvent{
		BaseEvent: events.NewBase(events.EventGameBooked, ""),
		BookingID: "B1",
		UserID:    "U1",
	}))

	router := httpapi.NewRouter("notification-service", logger.NewTestLogger(), nil)
	NewHTTPHandler(svc).Register(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/notifications?user_id=U1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var feed []service.Activity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &feed))
	assert.Len(t, feed, 1)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/notifications?user_id=U9", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
