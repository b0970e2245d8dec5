package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/kyungseok/msa-rental-go/common/errors"
)

// OrderStatus 렌탈 주문 상태
type OrderStatus string

const (
	OrderStatusCreated  OrderStatus = "created"
	OrderStatusActive   OrderStatus = "active"
	OrderStatusReturned OrderStatus = "returned"
	OrderStatusClosed   OrderStatus = "closed"
)

// PaymentStatus 주문에 반영된 결제 상태
type PaymentStatus string

const (
	PaymentStatusNone      PaymentStatus = ""
	PaymentStatusInitiated PaymentStatus = "initiated"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusDeclined  PaymentStatus = "declined"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

func (p PaymentStatus) rank() int {
	switch p {
	case PaymentStatusInitiated:
		return 1
	case PaymentStatusCompleted, PaymentStatusDeclined:
		return 2
	case PaymentStatusRefunded:
		return 3
	default:
		return 0
	}
}

const (
	MinRentalDays     = 1
	MaxRentalDays     = 30
	MaxExtensionDays  = 7
	MaxLocationLength = 200
)

// Order 렌탈 주문 도메인 모델
type Order struct {
	ID             string
	BookingID      string
	GameID         string
	UserID         string
	Status         OrderStatus
	PickupDate     time.Time
	PickupLocation string
	ReturnDate     *time.Time
	ReturnLocation string
	RentalDays     int
	TotalAmount    float64
	PenaltyAmount  float64
	PenaltyReason  string
	PaymentID      string
	PaymentStatus  PaymentStatus
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewOrder 새 주문 생성 (created 상태)
func NewOrder(bookingID, gameID, userID, pickupLocation string, pickupDate time.Time, rentalDays int, dailyRate float64) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:             uuid.New().String(),
		BookingID:      bookingID,
		GameID:         gameID,
		UserID:         userID,
		Status:         OrderStatusCreated,
		PickupDate:     pickupDate,
		PickupLocation: pickupLocation,
		RentalDays:     rentalDays,
		TotalAmount:    float64(rentalDays) * dailyRate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

var transitions = map[OrderStatus]OrderStatus{
	OrderStatusCreated:  OrderStatusActive,
	OrderStatusActive:   OrderStatusReturned,
	OrderStatusReturned: OrderStatusClosed,
}

// CanTransitionTo 상태 전이 가능 여부 확인 (한 단계 전진만 허용)
func (o *Order) CanTransitionTo(newStatus OrderStatus) bool {
	next, ok := transitions[o.Status]
	return ok && next == newStatus
}

// TransitionTo 상태 전이
func (o *Order) TransitionTo(newStatus OrderStatus) bool {
	if !o.CanTransitionTo(newStatus) {
		return false
	}
	o.Status = newStatus
	o.UpdatedAt = time.Now().UTC()
	return true
}

// CheckOwner 주문 소유자 확인
func (o *Order) CheckOwner(userID string) error {
	if o.UserID != userID {
		return errors.New(errors.ErrCodeForbidden, "order belongs to another user")
	}
	return nil
}

// ConfirmReceipt 게임 수령 확인 (created -> active)
func (o *Order) ConfirmReceipt(userID string) error {
	if err := o.CheckOwner(userID); err != nil {
		return err
	}
	if !o.TransitionTo(OrderStatusActive) {
		return errors.Newf(errors.ErrCodePreconditionFailed, "cannot confirm receipt of order in status %s", o.Status)
	}
	return nil
}

// Return 게임 반납 (active -> returned)
func (o *Order) Return(userID, location string, at time.Time) error {
	if err := o.CheckOwner(userID); err != nil {
		return err
	}
	if len(location) > MaxLocationLength {
		return errors.New(errors.ErrCodeInvalidArgument, "return_location is too long")
	}
	if !o.TransitionTo(OrderStatusReturned) {
		return errors.Newf(errors.ErrCodePreconditionFailed, "cannot return order in status %s", o.Status)
	}
	returnDate := at.UTC()
	o.ReturnDate = &returnDate
	o.ReturnLocation = location
	return nil
}

// Close 렌탈 종료 (returned -> closed)
func (o *Order) Close() error {
	if !o.TransitionTo(OrderStatusClosed) {
		return errors.Newf(errors.ErrCodePreconditionFailed, "cannot close order in status %s", o.Status)
	}
	return nil
}

// ChargePenalty 연체료 설정 (기존 값을 대체)
func (o *Order) ChargePenalty(amount float64, reason string) error {
	if amount < 0 {
		return errors.New(errors.ErrCodeInvalidArgument, "penalty_amount must not be negative")
	}
	o.PenaltyAmount = amount
	o.PenaltyReason = reason
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Extend 렌탈 기간 연장 (active 상태에서만)
func (o *Order) Extend(userID string, days int, dailyRate float64) error {
	if err := o.CheckOwner(userID); err != nil {
		return err
	}
	if days < 1 || days > MaxExtensionDays {
		return errors.Newf(errors.ErrCodeInvalidArgument, "additional_days must be between 1 and %d", MaxExtensionDays)
	}
	if o.Status != OrderStatusActive {
		return errors.Newf(errors.ErrCodePreconditionFailed, "cannot extend order in status %s", o.Status)
	}
	o.RentalDays += days
	o.TotalAmount += float64(days) * dailyRate
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// DueDate 반납 예정일
func (o *Order) DueDate() time.Time {
	return o.PickupDate.AddDate(0, 0, o.RentalDays)
}

// FoldPayment 결제 상태 반영 (역행하지 않음), 변경 여부 반환
func (o *Order) FoldPayment(paymentID string, status PaymentStatus) bool {
	changed := false
	if o.PaymentID == "" && paymentID != "" {
		o.PaymentID = paymentID
		changed = true
	}
	if status.rank() > o.PaymentStatus.rank() {
		o.PaymentStatus = status
		changed = true
	}
	if changed {
		o.UpdatedAt = time.Now().UTC()
	}
	return changed
}
