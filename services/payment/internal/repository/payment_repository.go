package repository

import (
	"context"

	"github.com/kyungseok/msa-rental-go/common/outbox"
	"github.com/kyungseok/msa-rental-go/services/payment/internal/domain"
)

// Outbox 집계 타입
const (
	AggregatePayment = "payment"
	AggregateRefund  = "refund"
)

// PaymentRepository 결제/환불 레포지토리 인터페이스
// 쓰기 연산은 엔티티와 Outbox 레코드를 원자적으로 저장한다
type PaymentRepository interface {
	// CreatePayment 주문당 1건, 중복이면 CONFLICT
	CreatePayment(ctx context.Context, payment *domain.Payment, records ...*outbox.Record) error
	FindPayment(ctx context.Context, id string) (*domain.Payment, error)
	FindPaymentByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)
	UpdatePayment(ctx context.Context, payment *domain.Payment, records ...*outbox.Record) error

	// CreateRefund 결제가 completed 가 아니면 PRECONDITION_FAILED, 진행 중인 환불이 있으면 CONFLICT
	CreateRefund(ctx context.Context, refund *domain.Refund, records ...*outbox.Record) error
	FindRefund(ctx context.Context, id string) (*domain.Refund, error)
	ListRefunds(ctx context.Context, paymentID string) ([]*domain.Refund, error)
	// UpdateRefund payment 가 nil 이 아니면 함께 갱신
	UpdateRefund(ctx context.Context, refund *domain.Refund, payment *domain.Payment, records ...*outbox.Record) error
}
