package repository

import (
	"context"

	"github.com/kyungseok/msa-rental-go/common/outbox"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/domain"
)

// AggregateType Outbox 집계 타입
const AggregateType = "order"

// OrderRepository 주문 레포지토리 인터페이스
// Create/Update 는 주문과 Outbox 레코드를 원자적으로 저장한다
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order, records ...*outbox.Record) error
	FindByID(ctx context.Context, id string) (*domain.Order, error)
	FindByBookingID(ctx context.Context, bookingID string) (*domain.Order, error)
	Update(ctx context.Context, order *domain.Order, records ...*outbox.Record) error
}
