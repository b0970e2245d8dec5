package handler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/events"
	"github.com/kyungseok/msa-rental-go/common/idempotency"
	"github.com/kyungseok/msa-rental-go/common/messaging"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/service"
)

// CloseScheduler 반납 후 렌탈 종료 예약
type CloseScheduler interface {
	ScheduleClose(ctx context.Context, orderID string) error
}

// EventHandler 이벤트 핸들러
type EventHandler struct {
	orderService service.OrderService
	scheduler    CloseScheduler
	idemStore    idempotency.Store
	ttl          time.Duration
	logger       *zap.Logger
}

// NewEventHandler 이벤트 핸들러 생성
func NewEventHandler(
	orderService service.OrderService,
	scheduler CloseScheduler,
	idemStore idempotency.Store,
	ttl time.Duration,
	logger *zap.Logger,
) *EventHandler {
	return &EventHandler{
		orderService: orderService,
		scheduler:    scheduler,
		idemStore:    idemStore,
		ttl:          ttl,
		logger:       logger,
	}
}

// Subscriptions rent 서비스가 구독하는 큐
func Subscriptions(prefetch int) []messaging.Subscription {
	payments := messaging.PaymentFamily.Subscription("rent.payment_events",
		string(events.EventPaymentInitiated),
		string(events.EventPaymentSuccessful),
		string(events.EventPaymentDeclined),
		string(events.EventRefundProcessed))
	payments.Prefetch = prefetch

	returns := messaging.RentFamily.Subscription("rent.rental_close", string(events.EventRentGameReturned))
	returns.Prefetch = prefetch

	return []messaging.Subscription{payments, returns}
}

// HandleMessage 메시지 처리
func (h *EventHandler) HandleMessage(ctx context.Context, msg *messaging.Message) error {
	h.logger.Debug("received message",
		zap.String("eventType", string(msg.EventType)),
		zap.String("messageId", msg.MessageID),
		zap.Bool("redelivered", msg.Redelivered))

	// 이벤트 타입에 따라 분기
	switch msg.EventType {
	case events.EventPaymentInitiated:
		return handle(ctx, h, msg, h.orderService.ApplyPaymentInitiated)
	case events.EventPaymentSuccessful, events.EventPaymentDeclined:
		return handle(ctx, h, msg, func(ctx context.Context, evt events.PaymentSettledEvent) error {
			return h.orderService.ApplyPaymentSettled(ctx, msg.EventType, evt)
		})
	case events.EventRefundProcessed:
		return handle(ctx, h, msg, h.orderService.ApplyRefundProcessed)
	case events.EventRentGameReturned:
		return handle(ctx, h, msg, func(ctx context.Context, evt events.GameReturnedEvent) error {
			return h.scheduler.ScheduleClose(ctx, evt.OrderID)
		})
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

	// 멱등성 체크
	if eventID != "" {
		if processed, _ := h.idemStore.IsProcessed(ctx, eventID); processed {
			h.logger.Info("event already processed", zap.String("eventId", eventID))
			return nil
		}
	}

	if err := fn(ctx, evt); err != nil {
		return err
	}

	// 처리 완료 표시
	if eventID != "" {
		if _, err := h.idemStore.Reserve(ctx, eventID, h.ttl); err != nil {
			h.logger.Warn("failed to record processed event", zap.String("eventId", eventID), zap.Error(err))
		}
	}
	return nil
}
