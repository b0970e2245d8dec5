package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/outbox"
	"github.com/kyungseok/msa-rental-go/services/payment/internal/domain"
)

type memoryPaymentRepository struct {
	mu       sync.Mutex
	payments map[string]domain.Payment
	byOrder  map[string]string
	refunds  map[string]domain.Refund
	outbox   *outbox.MemoryStore
}

// NewMemoryPaymentRepository 메모리 결제 레포지토리 생성
func NewMemoryPaymentRepository(store *outbox.MemoryStore) PaymentRepository {
	return &memoryPaymentRepository{
		payments: make(map[string]domain.Payment),
		byOrder:  make(map[string]string),
		refunds:  make(map[string]domain.Refund),
		outbox:   store,
	}
}

func (r *memoryPaymentRepository) CreatePayment(_ context.Context, payment *domain.Payment, records ...*outbox.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byOrder[payment.OrderID]; exists {
		return errors.Newf(errors.ErrCodeConflict, "payment for order %s already exists", payment.OrderID)
	}

	payment.Version = 1
	r.payments[payment.ID] = clonePayment(payment)
	r.byOrder[payment.OrderID] = payment.ID
	r.append(records)
	return nil
}

func (r *memoryPaymentRepository) FindPayment(_ context.Context, id string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findPaymentLocked(id)
}

func (r *memoryPaymentRepository) FindPaymentByOrderID(_ context.Context, orderID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byOrder[orderID]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeNotFound, "payment not found for order: %s", orderID)
	}
	return r.findPaymentLocked(id)
}

func (r *memoryPaymentRepository) findPaymentLocked(id string) (*domain.Payment, error) {
	payment, ok := r.payments[id]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeNotFound, "payment not found: %s", id)
	}
	cp := clonePayment(&payment)
	return &cp, nil
}

func (r *memoryPaymentRepository) UpdatePayment(_ context.Context, payment *domain.Payment, records ...*outbox.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPaymentLocked(payment); err != nil {
		return err
	}
	payment.Version++
	r.payments[payment.ID] = clonePayment(payment)
	r.append(records)
	return nil
}

func (r *memoryPaymentRepository) CreateRefund(_ context.Context, refund *domain.Refund, records ...*outbox.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	payment, ok := r.payments[refund.PaymentID]
	if !ok {
		return errors.Newf(errors.ErrCodeNotFound, "payment not found: %s", refund.PaymentID)
	}
	if !payment.CanRefund() {
		return errors.Newf(errors.ErrCodePreconditionFailed, "cannot refund payment in status %s", payment.Status)
	}
	for _, existing := range r.refunds {
		if existing.PaymentID == refund.PaymentID && existing.IsOpen() {
			return errors.Newf(errors.ErrCodeConflict, "refund %s is already in progress", existing.ID)
		}
	}

	refund.Version = 1
	r.refunds[refund.ID] = cloneRefund(refund)
	r.append(records)
	return nil
}

func (r *memoryPaymentRepository) FindRefund(_ context.Context, id string) (*domain.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	refund, ok := r.refunds[id]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeNotFound, "refund not found: %s", id)
	}
	cp := cloneRefund(&refund)
	return &cp, nil
}

func (r *memoryPaymentRepository) ListRefunds(_ context.Context, paymentID string) ([]*domain.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var refunds []*domain.Refund
	for _, refund := range r.refunds {
		if refund.PaymentID == paymentID {
			cp := cloneRefund(&refund)
			refunds = append(refunds, &cp)
		}
	}
	sort.Slice(refunds, func(i, j int) bool {
		return refunds[i].CreatedAt.Before(refunds[j].CreatedAt)
	})
	return refunds, nil
}

func (r *memoryPaymentRepository) UpdateRefund(_ context.Context, refund *domain.Refund, payment *domain.Payment, records ...*outbox.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.refunds[refund.ID]
	if !ok {
		return errors.Newf(errors.ErrCodeNotFound, "refund not found: %s", refund.ID)
	}
	if current.Version != refund.Version {
		return errors.Newf(errors.ErrCodeConflict, "refund %s was modified concurrently", refund.ID)
	}
	if payment != nil {
		if err := r.checkPaymentLocked(payment); err != nil {
			return err
		}
		payment.Version++
		r.payments[payment.ID] = clonePayment(payment)
	}

	refund.Version++
	r.refunds[refund.ID] = cloneRefund(refund)
	r.append(records)
	return nil
}

func (r *memoryPaymentRepository) checkPaymentLocked(payment *domain.Payment) error {
	current, ok := r.payments[payment.ID]
	if !ok {
		return errors.Newf(errors.ErrCodeNotFound, "payment not found: %s", payment.ID)
	}
	if current.Version != payment.Version {
		return errors.Newf(errors.ErrCodeConflict, "payment %s was modified concurrently", payment.ID)
	}
	return nil
}

func (r *memoryPaymentRepository) append(records []*outbox.Record) {
	r.outbox.Lock()
	r.outbox.AppendLocked(records...)
	r.outbox.Unlock()
}

func clonePayment(p *domain.Payment) domain.Payment {
	cp := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}

func cloneRefund(r *domain.Refund) domain.Refund {
	cp := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}
