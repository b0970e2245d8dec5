package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/events"
	"github.com/kyungseok/msa-rental-go/common/idempotency"
	"github.com/kyungseok/msa-rental-go/common/outbox"
	"github.com/kyungseok/msa-rental-go/common/retry"
	"github.com/kyungseok/msa-rental-go/services/payment/internal/domain"
	"github.com/kyungseok/msa-rental-go/services/payment/internal/gateway"
	"github.com/kyungseok/msa-rental-go/services/payment/internal/repository"
)

// DefaultMethod 결제 수단 기본값
const DefaultMethod = "card"

// InitiateCommand 결제 시작 커맨드
type InitiateCommand struct {
	OrderID string
	UserID  string
	Amount  float64
	Method  string
}

// RefundCommand 환불 요청 커맨드
type RefundCommand struct {
	PaymentID string
	UserID    string
	Amount    float64
	Reason    string
}

// PaymentService 결제 서비스 인터페이스
type PaymentService interface {
	InitiatePayment(ctx context.Context, cmd InitiateCommand) (*domain.Payment, error)
	ProcessPayment(ctx context.Context, paymentID string) (*domain.Payment, error)
	HandleOrderCreated(ctx context.Context, evt events.OrderCreatedEvent) error

	RequestRefund(ctx context.Context, cmd RefundCommand) (*domain.Refund, error)
	ProcessRefund(ctx context.Context, refundID string) (*domain.Refund, error)
	DeclineRefund(ctx context.Context, refundID, reason string) (*domain.Refund, error)

	GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error)
	GetPaymentByOrder(ctx context.Context, orderID string) (*domain.Payment, error)
	GetRefund(ctx context.Context, refundID string) (*domain.Refund, error)
	ListRefunds(ctx context.Context, paymentID string) ([]*domain.Refund, error)
}

// RelayNotifier 커밋 후 Outbox 릴레이 깨우기
type RelayNotifier interface {
	Notify()
}

// Dependencies 결제 서비스 의존성
// Locks 는 게이트웨이 호출을 결제/환불당 한 번으로 제한하는 잠금 저장소
type Dependencies struct {
	Payments repository.PaymentRepository
	Acquirer gateway.Acquirer
	Fiscal   gateway.FiscalRegistrar
	Locks    idempotency.Store
	Relay    RelayNotifier
	Logger   *zap.Logger
}

// Options 결제 서비스 설정
// SettleRetry 는 게이트웨이 결과를 저장하지 못했을 때(DATABASE_ERROR)의 재시도 설정
type Options struct {
	LockTTL         time.Duration
	ConflictRetries int
	SettleRetry     retry.Config
}

// DefaultSettleRetry 결과 저장 재시도 기본값
func DefaultSettleRetry() retry.Config {
	return retry.Config{
		MaxAttempts:        3,
		InitialInterval:    200 * time.Millisecond,
		MaxInterval:        2 * time.Second,
		BackoffCoefficient: 2.0,
	}
}

type paymentService struct {
	payments repository.PaymentRepository
	acquirer gateway.Acquirer
	fiscal   gateway.FiscalRegistrar
	locks    idempotency.Store
	relay    RelayNotifier
	logger   *zap.Logger
	opts     Options
}

// NewPaymentService 결제 서비스 생성
func NewPaymentService(deps Dependencies, opts Options) PaymentService {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = 3
	}
	if opts.SettleRetry.MaxAttempts <= 0 {
		opts.SettleRetry = DefaultSettleRetry()
	}
	opts.SettleRetry.RetryIf = func(err error) bool {
		return errors.HasCode(err, errors.ErrCodeDatabaseError)
	}
	return &paymentService{
		payments: deps.Payments,
		acquirer: deps.Acquirer,
		fiscal:   deps.Fiscal,
		locks:    deps.Locks,
		relay:    deps.Relay,
		logger:   deps.Logger,
		opts:     opts,
	}
}

// InitiatePayment 결제 생성 (주문당 1건, 이미 있으면 기존 결제 반환)
func (s *paymentService) InitiatePayment(ctx context.Context, cmd InitiateCommand) (*domain.Payment, error) {
	if existing, err := s.payments.FindPaymentByOrderID(ctx, cmd.OrderID); err == nil {
		return existing, nil
	} else if !errors.HasCode(err, errors.ErrCodeNotFound) {
		return nil, err
	}

	method := cmd.Method
	if method == "" {
		method = DefaultMethod
	}
	payment, err := domain.NewPayment(cmd.OrderID, cmd.UserID, cmd.Amount, method)
	if err != nil {
		return nil, err
	}

	record, err := outbox.NewRecord(repository.AggregatePayment, payment.ID, events.PaymentInitiatedEvent{
		BaseEvent: events.NewBase(events.EventPaymentInitiated, payment.OrderID),
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		UserID:    payment.UserID,
		Amount:    payment.Amount,
		Method:    payment.Method,
		Status:    string(payment.Status),
	})
	if err != nil {
		return nil, err
	}

	if err := s.payments.CreatePayment(ctx, payment, record); err != nil {
		if errors.HasCode(err, errors.ErrCodeConflict) {
			return s.payments.FindPaymentByOrderID(ctx, cmd.OrderID)
		}
		return nil, err
	}
	s.relay.Notify()

	s.logger.Info("payment initiated",
		zap.String("paymentId", payment.ID),
		zap.String("orderId", payment.OrderID),
		zap.Float64("amount", payment.Amount))
	return payment, nil
}

// ProcessPayment 게이트웨이로 결제 승인 (처리 완료된 결제는 다시 처리하지 않음)
func (s *paymentService) ProcessPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	payment, err := s.payments.FindPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.IsSettled() {
		return payment, nil
	}

	if err := s.acquire(ctx, "capture:"+paymentID); err != nil {
		return nil, err
	}

	result, err := s.acquirer.Charge(ctx, payment.ID, payment.Amount, payment.Method)
	if err != nil {
		s.release(ctx, "capture:"+paymentID)
		return nil, errors.Wrap(errors.ErrCodeUpstreamUnavailable, "acquirer charge failed", err)
	}

	var receiptID string
	if result.Approved() {
		receiptID = s.registerReceipt(ctx, payment)
	}

	settled, err := retry.DoWithResult(ctx, s.opts.SettleRetry, s.logger, func() (*domain.Payment, error) {
		return s.settle(ctx, paymentID, result, receiptID)
	})
	if err != nil {
		// 매입사는 paymentID 로 멱등, 재전달 시 같은 결과가 다시 반영된다
		s.logger.Error("failed to record acquirer result",
			zap.String("paymentId", paymentID),
			zap.String("transactionId", result.TransactionID),
			zap.Error(err))
		s.release(ctx, "capture:"+paymentID)
		return nil, err
	}

	s.logger.Info("payment processed",
		zap.String("paymentId", settled.ID),
		zap.String("orderId", settled.OrderID),
		zap.String("status", string(settled.Status)),
		zap.String("transactionId", settled.TransactionID))
	return settled, nil
}

// settle 게이트웨이 결과를 결제에 반영 (버전 충돌 시 다시 읽어서 재적용)
func (s *paymentService) settle(ctx context.Context, paymentID string, result gateway.Result, receiptID string) (*domain.Payment, error) {
	for attempt := 0; ; attempt++ {
		payment, err := s.payments.FindPayment(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		if payment.IsSettled() {
			return payment, nil
		}

		eventType := events.EventPaymentSuccessful
		if result.Approved() {
			if err := payment.Complete(result.TransactionID, time.Now()); err != nil {
				return nil, err
			}
			payment.ReceiptID = receiptID
		} else {
			eventType = events.EventPaymentDeclined
			if err := payment.Decline(result.TransactionID, result.Reason); err != nil {
				return nil, err
			}
		}

		record, err := outbox.NewRecord(repository.AggregatePayment, payment.ID, events.PaymentSettledEvent{
			BaseEvent:     events.NewBase(eventType, payment.OrderID),
			PaymentID:     payment.ID,
			OrderID:       payment.OrderID,
			UserID:        payment.UserID,
			Amount:        payment.Amount,
			Status:        string(payment.Status),
			TransactionID: payment.TransactionID,
			Reason:        payment.DeclineReason,
		})
		if err != nil {
			return nil, err
		}

		err = s.payments.UpdatePayment(ctx, payment, record)
		if err == nil {
			s.relay.Notify()
			return payment, nil
		}
		if !errors.HasCode(err, errors.ErrCodeConflict) || attempt >= s.opts.ConflictRetries {
			return nil, err
		}
	}
}

func (s *paymentService) registerReceipt(ctx context.Context, payment *domain.Payment) string {
	if s.fiscal == nil {
		return ""
	}
	receiptID, err := s.fiscal.RegisterReceipt(ctx, payment.ID, payment.Amount)
	if err != nil {
		s.logger.Warn("failed to register fiscal receipt",
			zap.String("paymentId", payment.ID),
			zap.Error(err))
		return ""
	}
	return receiptID
}

// HandleOrderCreated rent.order.created 처리 (결제 보장 후 승인)
func (s *paymentService) HandleOrderCreated(ctx context.Context, evt events.OrderCreatedEvent) error {
	s.logger.Info("handling order created event",
		zap.String("orderId", evt.OrderID),
		zap.String("correlationId", evt.CorrelationID))

	payment, err := s.InitiatePayment(ctx, InitiateCommand{
		OrderID: evt.OrderID,
		UserID:  evt.UserID,
		Amount:  evt.TotalAmount,
		Method:  DefaultMethod,
	})
	if err != nil {
		return err
	}
	if payment.IsSettled() {
		s.logger.Info("payment already processed",
			zap.String("paymentId", payment.ID),
			zap.String("status", string(payment.Status)))
		return nil
	}

	_, err = s.ProcessPayment(ctx, payment.ID)
	return err
}

// RequestRefund 완료된 결제에 대한 환불 요청 (진행 중 환불은 1건만)
func (s *paymentService) RequestRefund(ctx context.Context, cmd RefundCommand) (*domain.Refund, error) {
	payment, err := s.payments.FindPayment(ctx, cmd.PaymentID)
	if err != nil {
		return nil, err
	}

	refund, err := domain.NewRefund(payment, cmd.UserID, cmd.Amount, cmd.Reason)
	if err != nil {
		return nil, err
	}

	record, err := outbox.NewRecord(repository.AggregateRefund, refund.ID, events.RefundRequestedEvent{
		BaseEvent: events.NewBase(events.EventRefundRequested, refund.OrderID),
		RefundID:  refund.ID,
		PaymentID: refund.PaymentID,
		OrderID:   refund.OrderID,
		UserID:    refund.UserID,
		Amount:    refund.Amount,
		Reason:    refund.Reason,
		Status:    string(refund.Status),
	})
	if err != nil {
		return nil, err
	}

	if err := s.payments.CreateRefund(ctx, refund, record); err != nil {
		if errors.HasCode(err, errors.ErrCodeConflict) {
			return nil, errors.Wrap(errors.ErrCodePreconditionFailed, "a refund is already in progress for this payment", err)
		}
		return nil, err
	}
	s.relay.Notify()

	s.logger.Info("refund requested",
		zap.String("refundId", refund.ID),
		zap.String("paymentId", refund.PaymentID),
		zap.Float64("amount", refund.Amount))
	return refund, nil
}

// ProcessRefund 게이트웨이로 환불 (처리 완료된 환불은 그대로 반환)
func (s *paymentService) ProcessRefund(ctx context.Context, refundID string) (*domain.Refund, error) {
	refund, err := s.payments.FindRefund(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if !refund.IsOpen() {
		return refund, nil
	}

	if err := s.acquire(ctx, "refund:"+refundID); err != nil {
		return nil, err
	}

	result, err := s.acquirer.Refund(ctx, refund.ID, refund.PaymentID, refund.Amount)
	if err != nil {
		s.release(ctx, "refund:"+refundID)
		return nil, errors.Wrap(errors.ErrCodeUpstreamUnavailable, "acquirer refund failed", err)
	}

	refund, err = retry.DoWithResult(ctx, s.opts.SettleRetry, s.logger, func() (*domain.Refund, error) {
		if !result.Approved() {
			return s.declineRefund(ctx, refundID, result.Reason)
		}
		return s.completeRefund(ctx, refundID, result)
	})
	if err != nil {
		s.logger.Error("failed to record acquirer refund result",
			zap.String("refundId", refundID),
			zap.String("transactionId", result.TransactionID),
			zap.Error(err))
		s.release(ctx, "refund:"+refundID)
		return nil, err
	}
	return refund, nil
}

// completeRefund 승인된 환불 반영 (버전 충돌 시 다시 읽어서 재적용)
func (s *paymentService) completeRefund(ctx context.Context, refundID string, result gateway.Result) (*domain.Refund, error) {
	for attempt := 0; ; attempt++ {
		refund, err := s.payments.FindRefund(ctx, refundID)
		if err != nil {
			return nil, err
		}
		if !refund.IsOpen() {
			return refund, nil
		}
		payment, err := s.payments.FindPayment(ctx, refund.PaymentID)
		if err != nil {
			return nil, err
		}

		if err := refund.Complete(result.TransactionID, time.Now()); err != nil {
			return nil, err
		}
		if err := payment.MarkRefunded(); err != nil {
			return nil, err
		}

		record, err := outbox.NewRecord(repository.AggregateRefund, refund.ID, events.RefundProcessedEvent{
			BaseEvent:     events.NewBase(events.EventRefundProcessed, refund.OrderID),
			RefundID:      refund.ID,
			PaymentID:     refund.PaymentID,
			OrderID:       refund.OrderID,
			UserID:        refund.UserID,
			Amount:        refund.Amount,
			Status:        string(refund.Status),
			TransactionID: refund.TransactionID,
		})
		if err != nil {
			return nil, err
		}

		err = s.payments.UpdateRefund(ctx, refund, payment, record)
		if err == nil {
			s.relay.Notify()
			s.logger.Info("refund processed",
				zap.String("refundId", refund.ID),
				zap.String("paymentId", refund.PaymentID),
				zap.String("transactionId", refund.TransactionID))
			return refund, nil
		}
		if !errors.HasCode(err, errors.ErrCodeConflict) || attempt >= s.opts.ConflictRetries {
			return nil, err
		}
	}
}

// DeclineRefund 운영자 환불 거절
func (s *paymentService) DeclineRefund(ctx context.Context, refundID, reason string) (*domain.Refund, error) {
	return s.declineRefund(ctx, refundID, reason)
}

func (s *paymentService) declineRefund(ctx context.Context, refundID, reason string) (*domain.Refund, error) {
	refund, err := s.payments.FindRefund(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if err := refund.Decline(reason); err != nil {
		return nil, err
	}

	record, err := outbox.NewRecord(repository.AggregateRefund, refund.ID, events.RefundDeclinedEvent{
		BaseEvent: events.NewBase(events.EventRefundDeclined, refund.OrderID),
		RefundID:  refund.ID,
		PaymentID: refund.PaymentID,
		OrderID:   refund.OrderID,
		UserID:    refund.UserID,
		Status:    string(refund.Status),
		Reason:    reason,
	})
	if err != nil {
		return nil, err
	}

	if err := s.payments.UpdateRefund(ctx, refund, nil, record); err != nil {
		return nil, err
	}
	s.relay.Notify()

	s.logger.Info("refund declined",
		zap.String("refundId", refund.ID),
		zap.String("paymentId", refund.PaymentID),
		zap.String("reason", reason))
	return refund, nil
}

// GetPayment 결제 조회
func (s *paymentService) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return s.payments.FindPayment(ctx, paymentID)
}

// GetPaymentByOrder 주문의 결제 조회
func (s *paymentService) GetPaymentByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	return s.payments.FindPaymentByOrderID(ctx, orderID)
}

// GetRefund 환불 조회
func (s *paymentService) GetRefund(ctx context.Context, refundID string) (*domain.Refund, error) {
	return s.payments.FindRefund(ctx, refundID)
}

// ListRefunds 결제의 환불 목록
func (s *paymentService) ListRefunds(ctx context.Context, paymentID string) ([]*domain.Refund, error) {
	if _, err := s.payments.FindPayment(ctx, paymentID); err != nil {
		return nil, err
	}
	return s.payments.ListRefunds(ctx, paymentID)
}

// acquire 게이트웨이 호출 잠금 (다른 처리가 진행 중이면 CONFLICT)
func (s *paymentService) acquire(ctx context.Context, key string) error {
	ok, err := s.locks.Reserve(ctx, key, s.opts.LockTTL)
	if err != nil {
		return errors.Wrap(errors.ErrCodeUpstreamUnavailable, "failed to acquire gateway lock", err)
	}
	if !ok {
		return errors.Newf(errors.ErrCodeConflict, "gateway call already in progress: %s", key)
	}
	return nil
}

func (s *paymentService) release(ctx context.Context, key string) {
	if err := s.locks.Release(ctx, key); err != nil {
		s.logger.Warn("failed to release gateway lock", zap.String("key", key), zap.Error(err))
	}
}
