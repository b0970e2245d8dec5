package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/kyungseok/msa-rental-go/common/errors"
)

// PaymentStatus 결제 상태
type PaymentStatus string

const (
	PaymentStatusInitiated PaymentStatus = "initiated"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusDeclined  PaymentStatus = "declined"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Payment 결제 도메인 모델
type Payment struct {
	ID            string
	OrderID       string
	UserID        string
	Amount        float64
	Method        string
	Status        PaymentStatus
	TransactionID string
	DeclineReason string
	ReceiptID     string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// NewPayment 새 결제 생성 (initiated 상태)
func NewPayment(orderID, userID string, amount float64, method string) (*Payment, error) {
	if orderID == "" {
		return nil, errors.New(errors.ErrCodeInvalidArgument, "order_id is required")
	}
	if amount <= 0 {
		return nil, errors.New(errors.ErrCodeInvalidArgument, "amount must be positive")
	}
	if method == "" {
		method = "card"
	}

	now := time.Now().UTC()
	return &Payment{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		UserID:    userID,
		Amount:    amount,
		Method:    method,
		Status:    PaymentStatusInitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsSettled 게이트웨이 처리가 끝났는지 (다시 처리하지 않음)
func (p *Payment) IsSettled() bool {
	return p.Status != PaymentStatusInitiated
}

// Complete 결제 승인 (initiated -> completed)
func (p *Payment) Complete(transactionID string, at time.Time) error {
	if p.Status != PaymentStatusInitiated {
		return errors.Newf(errors.ErrCodePreconditionFailed, "cannot complete payment in status %s", p.Status)
	}
	completedAt := at.UTC()
	p.Status = PaymentStatusCompleted
	p.TransactionID = transactionID
	p.CompletedAt = &completedAt
	p.UpdatedAt = completedAt
	return nil
}

// Decline 결제 거절 (initiated -> declined, 재시도 없음)
func (p *Payment) Decline(transactionID, reason string) error {
	if p.Status != PaymentStatusInitiated {
		return errors.Newf(errors.ErrCodePreconditionFailed, "cannot decline payment in status %s", p.Status)
	}
	p.Status = PaymentStatusDeclined
	p.TransactionID = transactionID
	p.DeclineReason = reason
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// CanRefund 환불 가능 여부 확인
func (p *Payment) CanRefund() bool {
	return p.Status == PaymentStatusCompleted
}

// MarkRefunded 환불 완료 반영 (승인 거래 ID 는 유지)
func (p *Payment) MarkRefunded() error {
	if !p.CanRefund() {
		return errors.Newf(errors.ErrCodePreconditionFailed, "cannot refund payment in status %s", p.Status)
	}
	p.Status = PaymentStatusRefunded
	p.UpdatedAt = time.Now().UTC()
	return nil
}
