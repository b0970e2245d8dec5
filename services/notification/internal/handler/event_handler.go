package handler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/events"
	"github.com/kyungseok/msa-rental-go/common/idempotency"
	"github.com/kyungseok/msa-rental-go/common/messaging"
	"github.com/kyungseok/msa-rental-go/services/notification/internal/service"
)

const (
	// CatalogQueue 카탈로그 fanout 구독 큐
	CatalogQueue = "game_catalog_listener"
	// BookingQueue 예약 direct 구독 큐 (작업 분배)
	BookingQueue = "booking_processor"
)

// EventHandler 이벤트 핸들러
type EventHandler struct {
	notifications service.NotificationService
	idemStore     idempotency.Store
	ttl           time.Duration
	logger        *zap.Logger
}

// NewEventHandler 이벤트 핸들러 생성
func NewEventHandler(notifications service.NotificationService, idemStore idempotency.Store, ttl time.Duration, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		notifications: notifications,
		idemStore:     idemStore,
		ttl:           ttl,
		logger:        logger,
	}
}

// Subscriptions notification 서비스가 구독하는 큐 (모든 익스체인지 패밀리)
func Subscriptions(prefetch int) []messaging.Subscription {
	subs := []messaging.Subscription{
		messaging.RentFamily.Subscription("notification.rent_orders", string(events.EventRentOrderCreated)),
		messaging.PaymentFamily.Subscription("notification.payment_events",
			string(events.EventPaymentDeclined),
			string(events.EventRefundProcessed)),
		messaging.CatalogFamily.Subscription(CatalogQueue),
		messaging.BookingFamily.Subscription(BookingQueue, string(events.EventGameBooked)),
	}
	for i := range subs {
		subs[i].Prefetch = prefetch
	}
	return subs
}

// HandleMessage 메시지 처리
func (h *EventHandler) HandleMessage(ctx context.Context, msg *messaging.Message) error {
	h.logger.Debug("received message",
		zap.String("eventType", string(msg.EventType)),
		zap.String("exchange", msg.Exchange),
		zap.Bool("redelivered", msg.Redelivered))

	switch msg.EventType {
	case events.EventRentOrderCreated:
		return handle(ctx, h, msg, h.notifications.NotifyOrderCreated)
	case events.EventPaymentDeclined:
		return handle(ctx, h, msg, h.notifications.NotifyPaymentDeclined)
	case events.EventRefundProcessed:
		return handle(ctx, h, msg, h.notifications.NotifyRefundProcessed)
	case events.EventCatalogGameAdded, events.EventCatalogGameUpdated:
		return handle(ctx, h, msg, h.notifications.AnnounceCatalogChange)
	case events.EventGameBooked:
		return handle(ctx, h, msg, h.notifications.RecordBooking)
	default:
		h.logger.Warn("unknown event type", zap.String("eventType", string(msg.EventType)))
		return nil
	}
}

func handle[T events.Event](ctx context.Context, h *EventHandler, msg *messaging.Message, fn func(context.Context, T) error) error {
	evt, err := events.Decode[T](msg.Body)
	if err != nil {
		return messaging.Permanent(err)
	}

	eventID := evt.Meta().EventID
	if eventID == "" {
		eventID = msg.MessageID
	}

	if eventID != "" {
		if processed, _ := h.idemStore.IsProcessed(ctx, eventID); processed {
			h.logger.Info("event already processed", zap.String("eventId", eventID))
			return nil
		}
	}

	if err := fn(ctx, evt); err != nil {
		return err
	}

	if eventID != "" {
		if _, err := h.idemStore.Reserve(ctx, eventID, h.ttl); err != nil {
			h.logger.Warn("failed to record processed event", zap.String("eventId", eventID), zap.Error(err))
		}
	}
	return nil
}
