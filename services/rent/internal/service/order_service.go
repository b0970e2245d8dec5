package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/events"
	"github.com/kyungseok/msa-rental-go/common/metrics"
	"github.com/kyungseok/msa-rental-go/common/notifier"
	"github.com/kyungseok/msa-rental-go/common/outbox"
	"github.com/kyungseok/msa-rental-go/common/paymentrpc"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/client"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/domain"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/repository"
)

// DefaultPaymentMethod 주문 생성 시 결제 수단
const DefaultPaymentMethod = "card"

// CreateOrderCommand 주문 생성 커맨드
type CreateOrderCommand struct {
	BookingID      string
	UserID         string
	PickupLocation string
	RentalDays     int
}

// OrderService 렌탈 주문 서비스 인터페이스
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	SendPickupNotification(ctx context.Context, orderID string, pickupDate time.Time, pickupLocation string) (*domain.Order, error)
	ConfirmReceipt(ctx context.Context, orderID, userID string) (*domain.Order, error)
	ExtendRentalPeriod(ctx context.Context, orderID, userID string, additionalDays int) (*domain.Order, error)
	SendReturnReminder(ctx context.Context, orderID string, returnDate time.Time) (*domain.Order, error)
	ReturnGame(ctx context.Context, orderID, userID, returnLocation string) (*domain.Order, error)
	ChargePenalty(ctx context.Context, orderID string, amount float64, reason string) (*domain.Order, error)
	EndRentalPeriod(ctx context.Context, orderID, condition string) (*domain.Order, error)

	ApplyPaymentInitiated(ctx context.Context, evt events.PaymentInitiatedEvent) error
	ApplyPaymentSettled(ctx context.Context, eventType events.EventType, evt events.PaymentSettledEvent) error
	ApplyRefundProcessed(ctx context.Context, evt events.RefundProcessedEvent) error
}

// BookingGetter 예약 조회
type BookingGetter interface {
	GetBooking(ctx context.Context, bookingID string) (*client.Booking, error)
}

// UserGetter 사용자 조회
type UserGetter interface {
	GetUser(ctx context.Context, userID string) (*client.User, error)
}

// PaymentInitiator 결제 시작 (gRPC)
type PaymentInitiator interface {
	InitiatePayment(ctx context.Context, req paymentrpc.InitiateRequest) (paymentrpc.InitiateResponse, error)
}

// RelayNotifier 커밋 후 Outbox 릴레이 깨우기
type RelayNotifier interface {
	Notify()
}

// Dependencies 주문 서비스 의존성
type Dependencies struct {
	Orders   repository.OrderRepository
	Bookings BookingGetter
	Users    UserGetter
	Payments PaymentInitiator
	Notifier notifier.Notifier
	Relay    RelayNotifier
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Options 주문 서비스 설정
type Options struct {
	DailyRate       float64
	ConflictRetries int
}

type orderService struct {
	orders   repository.OrderRepository
	bookings BookingGetter
	users    UserGetter
	payments PaymentInitiator
	notifier notifier.Notifier
	relay    RelayNotifier
	logger   *zap.Logger
	metrics  *metrics.Metrics
	opts     Options
}

// NewOrderService 주문 서비스 생성
func NewOrderService(deps Dependencies, opts Options) OrderService {
	if opts.DailyRate <= 0 {
		opts.DailyRate = 100
	}
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = 3
	}
	return &orderService{
		orders:   deps.Orders,
		bookings: deps.Bookings,
		users:    deps.Users,
		payments: deps.Payments,
		notifier: deps.Notifier,
		relay:    deps.Relay,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		opts:     opts,
	}
}

// CreateOrder 확정된 예약으로 주문 생성
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error) {
	if cmd.BookingID == "" || cmd.UserID == "" {
		return nil, errors.New(errors.ErrCodeInvalidArgument, "booking_id and user_id are required")
	}
	if cmd.RentalDays < domain.MinRentalDays || cmd.RentalDays > domain.MaxRentalDays {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument, "rental_days must be between %d and %d", domain.MinRentalDays, domain.MaxRentalDays)
	}
	if len(cmd.PickupLocation) > domain.MaxLocationLength {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument, "pickup_location must be at most %d characters", domain.MaxLocationLength)
	}

	booking, err := s.bookings.GetBooking(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if booking.UserID != cmd.UserID {
		return nil, errors.New(errors.ErrCodeForbidden, "booking belongs to another user")
	}

	// 같은 예약으로 이미 만든 주문은 그대로 반환
	if existing, err := s.orders.FindByBookingID(ctx, cmd.BookingID); err == nil {
		s.logger.Info("order already exists for booking",
			zap.String("bookingId", cmd.BookingID),
			zap.String("orderId", existing.ID))
		return existing, nil
	} else if !errors.HasCode(err, errors.ErrCodeNotFound) {
		return nil, err
	}

	if booking.Status != client.BookingStatusConfirmed {
		return nil, errors.Newf(errors.ErrCodePreconditionFailed, "booking must be confirmed before creating order (status %s)", booking.Status)
	}

	order := domain.NewOrder(cmd.BookingID, booking.GameID, cmd.UserID, cmd.PickupLocation, booking.PickupDate, cmd.RentalDays, s.opts.DailyRate)
	s.initiatePayment(ctx, order)

	evt := events.OrderCreatedEvent{
		BaseEvent:   events.NewBase(events.EventRentOrderCreated, order.ID),
		OrderID:     order.ID,
		BookingID:   order.BookingID,
		GameID:      order.GameID,
		UserID:      order.UserID,
		RentalDays:  order.RentalDays,
		TotalAmount: order.TotalAmount,
		PaymentID:   order.PaymentID,
	}
	record, err := outbox.NewRecord(repository.AggregateType, order.ID, evt)
	if err != nil {
		return nil, err
	}

	if err := s.orders.Create(ctx, order, record); err != nil {
		if errors.HasCode(err, errors.ErrCodeConflict) {
			// 동시에 같은 예약으로 생성된 경우
			return s.orders.FindByBookingID(ctx, cmd.BookingID)
		}
		return nil, err
	}
	s.relay.Notify()

	s.logger.Info("order created successfully",
		zap.String("orderId", order.ID),
		zap.String("bookingId", order.BookingID),
		zap.String("paymentId", order.PaymentID),
		zap.Float64("totalAmount", order.TotalAmount))
	return order, nil
}

// initiatePayment 결제 시작 (실패해도 주문은 결제 핸들 없이 생성)
func (s *orderService) initiatePayment(ctx context.Context, order *domain.Order) {
	resp, err := s.payments.InitiatePayment(ctx, paymentrpc.InitiateRequest{
		OrderID: order.ID,
		UserID:  order.UserID,
		Amount:  order.TotalAmount,
		Method:  DefaultPaymentMethod,
	})
	if err != nil {
		s.metrics.PaymentInitiate("failed")
		s.logger.Warn("payment initiation failed, order created without payment handle",
			zap.String("orderId", order.ID),
			zap.String("code", string(errors.ErrCodeUpstreamUnavailable)),
			zap.Error(err))
		return
	}

	s.metrics.PaymentInitiate("ok")
	order.FoldPayment(resp.PaymentID, domain.PaymentStatusInitiated)
}

// GetOrder 주문 조회
func (s *orderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.orders.FindByID(ctx, orderID)
}

// SendPickupNotification 픽업 알림 발송 (created, active 상태)
func (s *orderService) SendPickupNotification(ctx context.Context, orderID string, pickupDate time.Time, pickupLocation string) (*domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(order, "send pickup notification for", domain.OrderStatusCreated, domain.OrderStatusActive); err != nil {
		return nil, err
	}
	if pickupLocation == "" {
		pickupLocation = order.PickupLocation
	}
	if pickupDate.IsZero() {
		pickupDate = order.PickupDate
	}

	when := pickupDate.Format("2006-01-02 15:04")
	pushed, emailed := s.notify(ctx, order.UserID,
		"Pickup Reminder",
		"Your game pickup is scheduled for "+when,
		"Game Pickup Reminder",
		"Your game pickup is scheduled for "+when+" at "+pickupLocation)

	return s.mutate(ctx, orderID, func(o *domain.Order) (events.Event, error) {
		if err := requireStatus(o, "send pickup notification for", domain.OrderStatusCreated, domain.OrderStatusActive); err != nil {
			return nil, err
		}
		o.UpdatedAt = time.Now().UTC()
		return events.PickupNotificationSentEvent{
			BaseEvent:      events.NewBase(events.EventRentPickupNotificationSent, o.ID),
			OrderID:        o.ID,
			UserID:         o.UserID,
			PickupDate:     pickupDate.UTC(),
			PickupLocation: pickupLocation,
			PushDelivered:  pushed,
			EmailDelivered: emailed,
		}, nil
	})
}

// ConfirmReceipt 게임 수령 확인 (created -> active)
func (s *orderService) ConfirmReceipt(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	return s.mutate(ctx, orderID, func(o *domain.Order) (events.Event, error) {
		if err := o.ConfirmReceipt(userID); err != nil {
			return nil, err
		}
		return events.GameReceiptConfirmedEvent{
			BaseEvent: events.NewBase(events.EventRentGameReceiptConfirmed, o.ID),
			OrderID:   o.ID,
			UserID:    o.UserID,
		}, nil
	})
}

// ExtendRentalPeriod 렌탈 기간 연장 (active 상태)
func (s *orderService) ExtendRentalPeriod(ctx context.Context, orderID, userID string, additionalDays int) (*domain.Order, error) {
	return s.mutate(ctx, orderID, func(o *domain.Order) (events.Event, error) {
		if err := o.Extend(userID, additionalDays, s.opts.DailyRate); err != nil {
			return nil, err
		}
		return events.RentalPeriodExtendedEvent{
			BaseEvent:      events.NewBase(events.EventRentPeriodExtended, o.ID),
			OrderID:        o.ID,
			UserID:         o.UserID,
			AdditionalDays: additionalDays,
			RentalDays:     o.RentalDays,
			TotalAmount:    o.TotalAmount,
		}, nil
	})
}

// SendReturnReminder 반납 알림 발송 (active 상태)
func (s *orderService) SendReturnReminder(ctx context.Context, orderID string, returnDate time.Time) (*domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(order, "send return reminder for", domain.OrderStatusActive); err != nil {
		return nil, err
	}
	if returnDate.IsZero() {
		returnDate = order.DueDate()
	}

	when := returnDate.Format("2006-01-02")
	s.notify(ctx, order.UserID,
		"Return Reminder",
		"Please return your game by "+when,
		"Game Return Reminder",
		"Your rental ends on "+when+". Please return the game on time to avoid a penalty.")

	return s.mutate(ctx, orderID, func(o *domain.Order) (events.Event, error) {
		if err := requireStatus(o, "send return reminder for", domain.OrderStatusActive); err != nil {
			return nil, err
		}
		o.UpdatedAt = time.Now().UTC()
		return events.ReturnReminderSentEvent{
			BaseEvent:  events.NewBase(events.EventRentReturnReminderSent, o.ID),
			OrderID:    o.ID,
			UserID:     o.UserID,
			ReturnDate: returnDate.UTC(),
		}, nil
	})
}

// ReturnGame 게임 반납 (active -> returned)
func (s *orderService) ReturnGame(ctx context.Context, orderID, userID, returnLocation string) (*domain.Order, error) {
	return s.mutate(ctx, orderID, func(o *domain.Order) (events.Event, error) {
		if err := o.Return(userID, returnLocation, time.Now()); err != nil {
			return nil, err
		}
		return events.GameReturnedEvent{
			BaseEvent:      events.NewBase(events.EventRentGameReturned, o.ID),
			OrderID:        o.ID,
			UserID:         o.UserID,
			ReturnLocation: o.ReturnLocation,
			ReturnDate:     *o.ReturnDate,
		}, nil
	})
}

// ChargePenalty 연체료 부과 (상태 무관, 마지막 값으로 대체)
func (s *orderService) ChargePenalty(ctx context.Context, orderID string, amount float64, reason string) (*domain.Order, error) {
	return s.mutate(ctx, orderID, func(o *domain.Order) (events.Event, error) {
		if err := o.ChargePenalty(amount, reason); err != nil {
			return nil, err
		}
		return events.PenaltyChargedEvent{
			BaseEvent:     events.NewBase(events.EventRentPenaltyCharged, o.ID),
			OrderID:       o.ID,
			UserID:        o.UserID,
			PenaltyAmount: amount,
			Reason:        reason,
		}, nil
	})
}

// EndRentalPeriod 렌탈 종료 (returned -> closed, 시스템 전용)
func (s *orderService) EndRentalPeriod(ctx context.Context, orderID, condition string) (*domain.Order, error) {
	return s.mutate(ctx, orderID, func(o *domain.Order) (events.Event, error) {
		if err := o.Close(); err != nil {
			return nil, err
		}
		return events.OrderClosedEvent{
			BaseEvent: events.NewBase(events.EventRentOrderClosed, o.ID),
			OrderID:   o.ID,
			UserID:    o.UserID,
			Condition: condition,
		}, nil
	})
}

// ApplyPaymentInitiated 결제 핸들 반영
func (s *orderService) ApplyPaymentInitiated(ctx context.Context, evt events.PaymentInitiatedEvent) error {
	return s.fold(ctx, evt.OrderID, evt.PaymentID, domain.PaymentStatusInitiated)
}

// ApplyPaymentSettled payment.successful / payment.declined 반영
func (s *orderService) ApplyPaymentSettled(ctx context.Context, eventType events.EventType, evt events.PaymentSettledEvent) error {
	status := domain.PaymentStatusCompleted
	if eventType == events.EventPaymentDeclined {
		status = domain.PaymentStatusDeclined
	}
	return s.fold(ctx, evt.OrderID, evt.PaymentID, status)
}

// ApplyRefundProcessed 환불 완료 반영
func (s *orderService) ApplyRefundProcessed(ctx context.Context, evt events.RefundProcessedEvent) error {
	if evt.Status != string(domain.PaymentStatusCompleted) {
		return nil
	}
	return s.fold(ctx, evt.OrderID, evt.PaymentID, domain.PaymentStatusRefunded)
}

// fold 결제 상태 반영 (이벤트 발행 없음, 중복 전달은 no-op)
func (s *orderService) fold(ctx context.Context, orderID, paymentID string, status domain.PaymentStatus) error {
	if orderID == "" {
		return errors.New(errors.ErrCodeInvalidArgument, "payment event without order_id")
	}

	var changed bool
	_, err := s.update(ctx, orderID, func(o *domain.Order) (bool, events.Event, error) {
		changed = o.FoldPayment(paymentID, status)
		return changed, nil, nil
	})
	if err != nil {
		return err
	}

	if changed {
		s.logger.Info("payment status folded into order",
			zap.String("orderId", orderID),
			zap.String("paymentId", paymentID),
			zap.String("paymentStatus", string(status)))
	}
	return nil
}

// mutate 이벤트 1건을 동반하는 상태 변경
func (s *orderService) mutate(ctx context.Context, orderID string, fn func(o *domain.Order) (events.Event, error)) (*domain.Order, error) {
	return s.update(ctx, orderID, func(o *domain.Order) (bool, events.Event, error) {
		evt, err := fn(o)
		if err != nil {
			return false, nil, err
		}
		return true, evt, nil
	})
}

// update 조회-변경-저장 (버전 충돌 시 제한적으로 재시도)
func (s *orderService) update(ctx context.Context, orderID string, fn func(o *domain.Order) (bool, events.Event, error)) (*domain.Order, error) {
	for attempt := 0; ; attempt++ {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return nil, err
		}

		changed, evt, err := fn(order)
		if err != nil {
			return nil, err
		}
		if !changed {
			return order, nil
		}

		var records []*outbox.Record
		if evt != nil {
			record, err := outbox.NewRecord(repository.AggregateType, order.ID, evt)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}

		err = s.orders.Update(ctx, order, records...)
		if err == nil {
			if evt != nil {
				s.relay.Notify()
				s.logger.Info("order updated",
					zap.String("orderId", order.ID),
					zap.String("status", string(order.Status)),
					zap.String("eventType", string(evt.Meta().EventType)))
			}
			return order, nil
		}

		if !errors.HasCode(err, errors.ErrCodeConflict) || attempt >= s.opts.ConflictRetries {
			return nil, err
		}
		s.logger.Debug("order version conflict, retrying",
			zap.String("orderId", orderID),
			zap.Int("attempt", attempt+1))
	}
}

// notify 푸시 + 이메일 발송 (실패는 로그만 남김)
func (s *orderService) notify(ctx context.Context, userID, title, pushBody, subject, emailBody string) (bool, bool) {
	pushed := true
	if err := s.notifier.SendPush(ctx, userID, title, pushBody); err != nil {
		pushed = false
		s.logger.Warn("failed to send push notification", zap.String("userId", userID), zap.Error(err))
	}

	emailed := false
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to look up user email", zap.String("userId", userID), zap.Error(err))
		return pushed, emailed
	}
	if err := s.notifier.SendEmail(ctx, user.Email, subject, emailBody); err != nil {
		s.logger.Warn("failed to send email", zap.String("userId", userID), zap.Error(err))
		return pushed, emailed
	}
	return pushed, true
}

func requireStatus(o *domain.Order, action string, allowed ...domain.OrderStatus) error {
	for _, status := range allowed {
		if o.Status == status {
			return nil
		}
	}
	return errors.Newf(errors.ErrCodePreconditionFailed, "cannot %s order in status %s", action, o.Status)
}
