package repository

import (
	"context"
	"sync"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/outbox"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/domain"
)

type memoryOrderRepository struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	byBooking map[string]string
	outbox    *outbox.MemoryStore
}

// NewMemoryOrderRepository 메모리 주문 레포지토리 생성
func NewMemoryOrderRepository(store *outbox.MemoryStore) OrderRepository {
	return &memoryOrderRepository{
		orders:    make(map[string]domain.Order),
		byBooking: make(map[string]string),
		outbox:    store,
	}
}

func (r *memoryOrderRepository) Create(_ context.Context, order *domain.Order, records ...*outbox.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byBooking[order.BookingID]; exists {
		return errors.Newf(errors.ErrCodeConflict, "order for booking %s already exists", order.BookingID)
	}

	order.Version = 1
	r.outbox.Lock()
	r.orders[order.ID] = clone(order)
	r.byBooking[order.BookingID] = order.ID
	r.outbox.AppendLocked(records...)
	r.outbox.Unlock()
	return nil
}

func (r *memoryOrderRepository) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeNotFound, "order not found: %s", id)
	}
	cp := clone(&order)
	return &cp, nil
}

func (r *memoryOrderRepository) FindByBookingID(ctx context.Context, bookingID string) (*domain.Order, error) {
	r.mu.Lock()
	id, ok := r.byBooking[bookingID]
	r.mu.Unlock()

	if !ok {
		return nil, errors.Newf(errors.ErrCodeNotFound, "order not found for booking: %s", bookingID)
	}
	return r.FindByID(ctx, id)
}

func (r *memoryOrderRepository) Update(_ context.Context, order *domain.Order, records ...*outbox.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[order.ID]
	if !ok {
		return errors.Newf(errors.ErrCodeNotFound, "order not found: %s", order.ID)
	}
	if current.Version != order.Version {
		return errors.Newf(errors.ErrCodeConflict, "order %s was modified concurrently", order.ID)
	}

	order.Version++
	r.outbox.Lock()
	r.orders[order.ID] = clone(order)
	r.outbox.AppendLocked(records...)
	r.outbox.Unlock()
	return nil
}

func clone(o *domain.Order) domain.Order {
	cp := *o
	if o.ReturnDate != nil {
		d := *o.ReturnDate
		cp.ReturnDate = &d
	}
	return cp
}
