package workflow

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/services/rent/internal/domain"
)

// ConditionInspected 검수 기간 경과 후 자동 종료 시 기록되는 상태
const ConditionInspected = "inspected"

// CloseInput 렌탈 종료 워크플로우 입력
type CloseInput struct {
	OrderID          string
	InspectionWindow time.Duration
	Condition        string
}

// OrderCloser 렌탈 종료 대상 서비스
type OrderCloser interface {
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	EndRentalPeriod(ctx context.Context, orderID, condition string) (*domain.Order, error)
}

// RentalCloseWorkflow 반납 후 검수 기간을 기다렸다가 렌탈 종료
func RentalCloseWorkflow(ctx workflow.Context, input CloseInput) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    10,
		},
	})

	if input.InspectionWindow > 0 {
		if err := workflow.Sleep(ctx, input.InspectionWindow); err != nil {
			return err
		}
	}

	var a *Activities
	return workflow.ExecuteActivity(ctx, a.EndRentalPeriod, input).Get(ctx, nil)
}

// Activities 렌탈 종료 액티비티
type Activities struct {
	orders OrderCloser
	logger *zap.Logger
}

// NewActivities 액티비티 생성
func NewActivities(orders OrderCloser, logger *zap.Logger) *Activities {
	return &Activities{orders: orders, logger: logger}
}

// EndRentalPeriod returned 주문을 closed 로 전환 (이미 closed 면 성공 처리)
func (a *Activities) EndRentalPeriod(ctx context.Context, input CloseInput) error {
	condition := input.Condition
	if condition == "" {
		condition = ConditionInspected
	}

	_, err := a.orders.EndRentalPeriod(ctx, input.OrderID, condition)
	if err == nil {
		a.logger.Info("rental period ended", zap.String("orderId", input.OrderID))
		return nil
	}

	if errors.HasCode(err, errors.ErrCodePreconditionFailed) {
		order, getErr := a.orders.GetOrder(ctx, input.OrderID)
		if getErr == nil && order.Status == domain.OrderStatusClosed {
			return nil
		}
		return temporal.NewNonRetryableApplicationError(err.Error(), string(errors.ErrCodePreconditionFailed), err)
	}
	if errors.HasCode(err, errors.ErrCodeNotFound) {
		return temporal.NewNonRetryableApplicationError(err.Error(), string(errors.ErrCodeNotFound), err)
	}
	return err
}
