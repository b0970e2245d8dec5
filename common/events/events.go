package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType 이벤트 타입 정의 (점으로 구분된 이름, 라우팅 키로도 사용)
type EventType string

const (
	// Rent Events
	EventRentOrderCreated           EventType = "rent.order.created"
	EventRentPickupNotificationSent EventType = "rent.pickup_notification.sent"
	EventRentGameReceiptConfirmed   EventType = "rent.game_receipt.confirmed"
	EventRentPeriodExtended         EventType = "rent.period.extended"
	EventRentReturnReminderSent     EventType = "rent.return_reminder.sent"
	EventRentGameReturned           EventType = "rent.game.returned"
	EventRentPenaltyCharged         EventType = "rent.penalty.charged"
	EventRentOrderClosed            EventType = "rent.order.closed"

	// Payment Events
	EventPaymentInitiated  EventType = "payment.initiated"
	EventPaymentSuccessful EventType = "payment.successful"
	EventPaymentDeclined   EventType = "payment.declined"

	// Refund Events
	EventRefundRequested EventType = "refund.requested"
	EventRefundProcessed EventType = "refund.processed"
	EventRefundDeclined  EventType = "refund.declined"

	// Catalog Events (fanout)
	EventCatalogGameAdded   EventType = "catalog.game.added"
	EventCatalogGameUpdated EventType = "catalog.game.updated"

	// Booking Events (direct)
	EventGameBooked EventType = "game.booked"
)

// SchemaVersion 현재 이벤트 스키마 버전
const SchemaVersion = 1

// Event 발행 가능한 모든 이벤트가 구현하는 인터페이스
type Event interface {
	Meta() BaseEvent
}

// BaseEvent 모든 이벤트의 기본 구조
type BaseEvent struct {
	EventID       string    `json:"event_id"`
	EventType     EventType `json:"event_type"`
	SchemaVersion int       `json:"schema_version"`
	OccurredAt    time.Time `json:"occurred_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Meta 이벤트 메타데이터 반환
func (b BaseEvent) Meta() BaseEvent {
	return b
}

// NewBase 새 이벤트 메타데이터 생성
func NewBase(eventType EventType, correlationID string) BaseEvent {
	return BaseEvent{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: correlationID,
	}
}

// Decode 메시지 본문을 이벤트 구조체로 디코딩
func Decode[T any](body []byte) (T, error) {
	var evt T
	if err := json.Unmarshal(body, &evt); err != nil {
		return evt, fmt.Errorf("failed to decode event: %w", err)
	}
	return evt, nil
}

// OrderCreatedEvent 렌탈 주문 생성 이벤트
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string  `json:"order_id"`
	BookingID   string  `json:"booking_id"`
	GameID      string  `json:"game_id"`
	UserID      string  `json:"user_id"`
	RentalDays  int     `json:"rental_days"`
	TotalAmount float64 `json:"total_amount"`
	PaymentID   string  `json:"payment_id,omitempty"`
}

// PickupNotificationSentEvent 픽업 알림 발송 이벤트
type PickupNotificationSentEvent struct {
	BaseEvent
	OrderID        string    `json:"order_id"`
	UserID         string    `json:"user_id"`
	PickupDate     time.Time `json:"pickup_date"`
	PickupLocation string    `json:"pickup_location"`
	PushDelivered  bool      `json:"push_delivered"`
	EmailDelivered bool      `json:"email_delivered"`
}

// GameReceiptConfirmedEvent 게임 수령 확인 이벤트
type GameReceiptConfirmedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

// RentalPeriodExtendedEvent 렌탈 기간 연장 이벤트
type RentalPeriodExtendedEvent struct {
	BaseEvent
	OrderID        string  `json:"order_id"`
	UserID         string  `json:"user_id"`
	AdditionalDays int     `json:"additional_days"`
	RentalDays     int     `json:"rental_days"`
	TotalAmount    float64 `json:"total_amount"`
}

// ReturnReminderSentEvent 반납 알림 발송 이벤트
type ReturnReminderSentEvent struct {
	BaseEvent
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	ReturnDate time.Time `json:"return_date"`
}

// GameReturnedEvent 게임 반납 이벤트
type GameReturnedEvent struct {
	BaseEvent
	OrderID        string    `json:"order_id"`
	UserID         string    `json:"user_id"`
	ReturnLocation string    `json:"return_location"`
	ReturnDate     time.Time `json:"return_date"`
}

// PenaltyChargedEvent 연체료 부과 이벤트
type PenaltyChargedEvent struct {
	BaseEvent
	OrderID       string  `json:"order_id"`
	UserID        string  `json:"user_id"`
	PenaltyAmount float64 `json:"penalty_amount"`
	Reason        string  `json:"reason"`
}

// OrderClosedEvent 렌탈 종료 이벤트
type OrderClosedEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	Condition string `json:"condition,omitempty"`
}

// PaymentInitiatedEvent 결제 시작 이벤트
type PaymentInitiatedEvent struct {
	BaseEvent
	PaymentID string  `json:"payment_id"`
	OrderID   string  `json:"order_id"`
	UserID    string  `json:"user_id"`
	Amount    float64 `json:"amount"`
	Method    string  `json:"method"`
	Status    string  `json:"status"`
}

// PaymentSettledEvent 결제 완료/거절 이벤트 (payment.successful, payment.declined)
type PaymentSettledEvent struct {
	BaseEvent
	PaymentID     string  `json:"payment_id"`
	OrderID       string  `json:"order_id"`
	UserID        string  `json:"user_id"`
	Amount        float64 `json:"amount"`
	Status        string  `json:"status"`
	TransactionID string  `json:"transaction_id,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

// RefundRequestedEvent 환불 요청 이벤트
type RefundRequestedEvent struct {
	BaseEvent
	RefundID  string  `json:"refund_id"`
	PaymentID string  `json:"payment_id"`
	OrderID   string  `json:"order_id"`
	UserID    string  `json:"user_id"`
	Amount    float64 `json:"amount"`
	Reason    string  `json:"reason"`
	Status    string  `json:"status"`
}

// RefundProcessedEvent 환불 처리 완료 이벤트
type RefundProcessedEvent struct {
	BaseEvent
	RefundID      string  `json:"refund_id"`
	PaymentID     string  `json:"payment_id"`
	OrderID       string  `json:"order_id"`
	UserID        string  `json:"user_id"`
	Amount        float64 `json:"amount"`
	Status        string  `json:"status"`
	TransactionID string  `json:"transaction_id,omitempty"`
}

// RefundDeclinedEvent 환불 거절 이벤트
type RefundDeclinedEvent struct {
	BaseEvent
	RefundID  string `json:"refund_id"`
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason"`
}

// CatalogGameEvent 카탈로그 변경 이벤트 (fanout)
type CatalogGameEvent struct {
	BaseEvent
	GameID   string `json:"game_id"`
	Title    string `json:"title"`
	Platform string `json:"platform,omitempty"`
}

// GameBookedEvent 게임 예약 이벤트 (direct)
type GameBookedEvent struct {
	BaseEvent
	BookingID  string    `json:"booking_id"`
	GameID     string    `json:"game_id"`
	UserID     string    `json:"user_id"`
	PickupDate time.Time `json:"pickup_date"`
}
