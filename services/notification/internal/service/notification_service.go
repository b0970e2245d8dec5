package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/events"
	"github.com/kyungseok/msa-rental-go/common/notifier"
)

// Activity 알림 피드 항목
type Activity struct {
	EventID   string           `json:"event_id"`
	EventType events.EventType `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	OrderID   string           `json:"order_id,omitempty"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Pushed    bool             `json:"pushed"`
	At        time.Time        `json:"at"`
}

// NotificationService 알림 서비스 인터페이스
type NotificationService interface {
	NotifyOrderCreated(ctx context.Context, evt events.OrderCreatedEvent) error
	NotifyPaymentDeclined(ctx context.Context, evt events.PaymentSettledEvent) error
	NotifyRefundProcessed(ctx context.Context, evt events.RefundProcessedEvent) error
	AnnounceCatalogChange(ctx context.Context, evt events.CatalogGameEvent) error
	RecordBooking(ctx context.Context, evt events.GameBookedEvent) error

	// Recent 최신순 피드 (userID 가 비어 있으면 전체)
	Recent(userID string, limit int) []Activity
}

type notificationService struct {
	notifier notifier.Notifier
	logger   *zap.Logger

	mu       sync.Mutex
	feed     []Activity
	capacity int
}

// NewNotificationService 알림 서비스 생성 (피드는 최근 capacity 건만 유지)
func NewNotificationService(n notifier.Notifier, logger *zap.Logger, capacity int) NotificationService {
	if capacity <= 0 {
		capacity = 200
	}
	return &notificationService{
		notifier: n,
		logger:   logger,
		capacity: capacity,
	}
}

// NotifyOrderCreated 주문 생성 알림
func (s *notificationService) NotifyOrderCreated(ctx context.Context, evt events.OrderCreatedEvent) error {
	body := fmt.Sprintf("Order %s for game %s: %d days, total %.2f", evt.OrderID, evt.GameID, evt.RentalDays, evt.TotalAmount)
	return s.push(ctx, evt.BaseEvent, evt.UserID, evt.OrderID, "Rental order created", body)
}

// NotifyPaymentDeclined 결제 거절 알림
func (s *notificationService) NotifyPaymentDeclined(ctx context.Context, evt events.PaymentSettledEvent) error {
	body := fmt.Sprintf("Payment for order %s was declined", evt.OrderID)
	if evt.Reason != "" {
		body += ": " + evt.Reason
	}
	return s.push(ctx, evt.BaseEvent, evt.UserID, evt.OrderID, "Payment declined", body)
}

// NotifyRefundProcessed 환불 완료 알림
func (s *notificationService) NotifyRefundProcessed(ctx context.Context, evt events.RefundProcessedEvent) error {
	if evt.Status != "completed" {
		s.logger.Info("skipping refund notification",
			zap.String("refundId", evt.RefundID),
			zap.String("status", evt.Status))
		return nil
	}
	body := fmt.Sprintf("Refund of %.2f for order %s has been processed", evt.Amount, evt.OrderID)
	return s.push(ctx, evt.BaseEvent, evt.UserID, evt.OrderID, "Refund processed", body)
}

// AnnounceCatalogChange 카탈로그 변경 공지 (로그 + 피드)
func (s *notificationService) AnnounceCatalogChange(_ context.Context, evt events.CatalogGameEvent) error {
	title := "New game available"
	if evt.EventType == events.EventCatalogGameUpdated {
		title = "Game updated"
	}
	s.logger.Info("catalog announcement",
		zap.String("gameId", evt.GameID),
		zap.String("title", evt.Title),
		zap.String("eventType", string(evt.EventType)))
	s.record(Activity{
		EventID:   evt.EventID,
		EventType: evt.EventType,
		Title:     title,
		Body:      evt.Title,
		At:        time.Now().UTC(),
	})
	return nil
}

// RecordBooking 예약 기록
func (s *notificationService) RecordBooking(_ context.Context, evt events.GameBookedEvent) error {
	s.logger.Info("game booked",
		zap.String("bookingId", evt.BookingID),
		zap.String("gameId", evt.GameID),
		zap.String("userId", evt.UserID),
		zap.Time("pickupDate", evt.PickupDate))
	s.record(Activity{
		EventID:   evt.EventID,
		EventType: evt.EventType,
		UserID:    evt.UserID,
		Title:     "Game booked",
		Body:      fmt.Sprintf("Booking %s for game %s", evt.BookingID, evt.GameID),
		At:        time.Now().UTC(),
	})
	return nil
}

// push 푸시 발송 후 피드 기록 (실패 시 에러 반환, 재전달로 재시도)
func (s *notificationService) push(ctx context.Context, meta events.BaseEvent, userID, orderID, title, body string) error {
	if err := s.notifier.SendPush(ctx, userID, title, body); err != nil {
		s.logger.Warn("failed to send push notification",
			zap.String("eventId", meta.EventID),
			zap.String("userId", userID),
			zap.Error(err))
		return err
	}
	s.record(Activity{
		EventID:   meta.EventID,
		EventType: meta.EventType,
		UserID:    userID,
		OrderID:   orderID,
		Title:     title,
		Body:      body,
		Pushed:    true,
		At:        time.Now().UTC(),
	})
	return nil
}

func (s *notificationService) record(a Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feed = append(s.feed, a)
	if over := len(s.feed) - s.capacity; over > 0 {
		s.feed = append([]Activity(nil), s.feed[over:]...)
	}
}

// Recent 최신순 피드 조회
func (s *notificationService) Recent(userID string, limit int) []Activity {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Activity
	for i := len(s.feed) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if userID != "" && s.feed[i].UserID != userID {
			continue
		}
		out = append(out, s.feed[i])
	}
	return out
}
