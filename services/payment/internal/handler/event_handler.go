package handler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/events"
	"github.com/kyungseok/msa-rental-go/common/idempotency"
	"github.com/kyungseok/msa-rental-go/common/messaging"
	"github.com/kyungseok/msa-rental-go/services/payment/internal/service"
)

// EventHandler 이벤트 핸들러
type EventHandler struct {
	paymentService service.PaymentService
	idemStore      idempotency.Store
	ttl            time.Duration
	logger         *zap.Logger
}

// NewEventHandler 이벤트 핸들러 생성
func NewEventHandler(paymentService service.PaymentService, idemStore idempotency.Store, ttl time.Duration, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		paymentService: paymentService,
		idemStore:      idemStore,
		ttl:            ttl,
		logger:         logger,
	}
}

// Subscriptions payment 서비스가 구독하는 큐
func Subscriptions(prefetch int) []messaging.Subscription {
	orders := messaging.RentFamily.Subscription("payment.rent_orders", string(events.EventRentOrderCreated))
	orders.Prefetch = prefetch

	refunds := messaging.PaymentFamily.Subscription("payment.refunds", string(events.EventRefundRequested))
	refunds.Prefetch = prefetch

	return []messaging.Subscription{orders, refunds}
}

// HandleMessage 메시지 처리
func (h *EventHandler) HandleMessage(ctx context.Context, msg *messaging.Message) error {
	h.logger.Debug("received message",
		zap.String("eventType", string(msg.EventType)),
		zap.String("messageId", msg.MessageID),
		zap.Bool("redelivered", msg.Redelivered))

	switch msg.EventType {
	case events.EventRentOrderCreated:
		return handle(ctx, h, msg, h.paymentService.HandleOrderCreated)
	case events.EventRefundRequested:
		return handle(ctx, h, msg, func(ctx context.Context, evt events.RefundRequestedEvent) error {
			_, err := h.paymentService.ProcessRefund(ctx, evt.RefundID)
			return err
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

	if eventID != "" {
		if processed, _ := h.idemStore.IsProcessed(ctx, eventID); processed {
			h.logger.Info("event already processed", zap.String("eventId", eventID))
			return nil
		}
	}

	if err := fn(ctx, evt); err != nil {
		// 잘못된 요청은 재시도해도 같은 결과
		if errors.IsBusinessError(err) {
			h.logger.Warn("dropping event",
				zap.String("eventId", eventID),
				zap.String("eventType", string(msg.EventType)),
				zap.Error(err))
			return messaging.Permanent(err)
		}
		return err
	}

	if eventID != "" {
		if _, err := h.idemStore.Reserve(ctx, eventID, h.ttl); err != nil {
			h.logger.Warn("failed to record processed event", zap.String("eventId", eventID), zap.Error(err))
		}
	}
	return nil
}
