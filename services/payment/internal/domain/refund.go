package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/kyungseok/msa-rental-go/common/errors"
)

// RefundStatus 환불 상태
type RefundStatus string

const (
	RefundStatusRequested RefundStatus = "requested"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusDeclined  RefundStatus = "declined"
)

// Refund 환불 도메인 모델
type Refund struct {
	ID            string
	PaymentID     string
	OrderID       string
	UserID        string
	Amount        float64
	Status        RefundStatus
	Reason        string
	DeclineReason string
	TransactionID string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// NewRefund 완료된 결제에 대한 환불 요청 생성
// amount 가 0 이면 결제 금액 전체
func NewRefund(payment *Payment, userID string, amount float64, reason string) (*Refund, error) {
	if !payment.CanRefund() {
		return nil, errors.Newf(errors.ErrCodePreconditionFailed, "cannot refund payment in status %s", payment.Status)
	}
	if amount == 0 {
		amount = payment.Amount
	}
	if amount < 0 || amount > payment.Amount {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument, "refund amount must be within (0, %.2f]", payment.Amount)
	}
	if userID == "" {
		userID = payment.UserID
	}

	now := time.Now().UTC()
	return &Refund{
		ID:        uuid.New().String(),
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		UserID:    userID,
		Amount:    amount,
		Status:    RefundStatusRequested,
		Reason:    reason,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsOpen 아직 처리되지 않은 환불인지
func (r *Refund) IsOpen() bool {
	return r.Status == RefundStatusRequested
}

// Complete 환불 완료 (requested -> completed)
func (r *Refund) Complete(transactionID string, at time.Time) error {
	if !r.IsOpen() {
		return errors.Newf(errors.ErrCodePreconditionFailed, "cannot complete refund in status %s", r.Status)
	}
	completedAt := at.UTC()
	r.Status = RefundStatusCompleted
	r.TransactionID = transactionID
	r.CompletedAt = &completedAt
	r.UpdatedAt = completedAt
	return nil
}

// Decline 환불 거절 (requested -> declined)
func (r *Refund) Decline(reason string) error {
	if !r.IsOpen() {
		return errors.Newf(errors.ErrCodePreconditionFailed, "cannot decline refund in status %s", r.Status)
	}
	r.Status = RefundStatusDeclined
	r.DeclineReason = reason
	r.UpdatedAt = time.Now().UTC()
	return nil
}
