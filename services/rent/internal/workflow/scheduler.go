package workflow

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/retry"
)

// WorkflowIDPrefix 렌탈 종료 워크플로우 ID 접두사 (주문당 1개)
const WorkflowIDPrefix = "rental-close-"

// TemporalScheduler Temporal 워크플로우로 렌탈 종료 예약
type TemporalScheduler struct {
	client    client.Client
	taskQueue string
	window    time.Duration
	logger    *zap.Logger
}

// NewTemporalScheduler Temporal 스케줄러 생성
func NewTemporalScheduler(c client.Client, taskQueue string, window time.Duration, logger *zap.Logger) *TemporalScheduler {
	return &TemporalScheduler{client: c, taskQueue: taskQueue, window: window, logger: logger}
}

// ScheduleClose 렌탈 종료 워크플로우 시작 (같은 주문은 한 번만)
func (s *TemporalScheduler) ScheduleClose(ctx context.Context, orderID string) error {
	run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       WorkflowIDPrefix + orderID,
		TaskQueue:                                s.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, RentalCloseWorkflow, CloseInput{OrderID: orderID, InspectionWindow: s.window})
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if stderrors.As(err, &started) {
			s.logger.Debug("rental close already scheduled", zap.String("orderId", orderID))
			return nil
		}
		return errors.Wrap(errors.ErrCodeUpstreamUnavailable, "failed to start rental close workflow", err)
	}

	s.logger.Info("rental close scheduled",
		zap.String("orderId", orderID),
		zap.String("workflowId", run.GetID()),
		zap.String("runId", run.GetRunID()),
		zap.Duration("inspectionWindow", s.window))
	return nil
}

// NewWorker 렌탈 종료 워커 생성
func NewWorker(c client.Client, taskQueue string, activities *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(RentalCloseWorkflow)
	w.RegisterActivity(activities)
	return w
}

// Dial Temporal 클라이언트 연결
func Dial(hostPort, namespace string, logger *zap.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUpstreamUnavailable, "failed to connect to temporal", err)
	}
	return c, nil
}

// LocalScheduler Temporal 없이 프로세스 내 타이머로 렌탈 종료
// 프로세스가 재시작되면 예약이 사라진다
type LocalScheduler struct {
	activities *Activities
	window     time.Duration
	retry      retry.Config
	logger     *zap.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
	closed bool
}

// NewLocalScheduler 로컬 스케줄러 생성
func NewLocalScheduler(activities *Activities, window time.Duration, logger *zap.Logger) *LocalScheduler {
	return &LocalScheduler{
		activities: activities,
		window:     window,
		retry:      retry.DefaultConfig(),
		logger:     logger,
		timers:     make(map[string]*time.Timer),
	}
}

// ScheduleClose 검수 기간 후 렌탈 종료 예약 (같은 주문은 한 번만)
func (s *LocalScheduler) ScheduleClose(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New(errors.ErrCodeUpstreamUnavailable, "scheduler stopped")
	}
	if _, ok := s.timers[orderID]; ok {
		return nil
	}

	s.wg.Add(1)
	s.timers[orderID] = time.AfterFunc(s.window, func() {
		defer s.wg.Done()
		s.fire(orderID)
	})

	s.logger.Info("rental close scheduled locally",
		zap.String("orderId", orderID),
		zap.Duration("inspectionWindow", s.window))
	return nil
}

func (s *LocalScheduler) fire(orderID string) {
	ctx := context.Background()
	var permanent error
	err := retry.Do(ctx, s.retry, s.logger, func() error {
		err := s.activities.EndRentalPeriod(ctx, CloseInput{OrderID: orderID})
		var appErr *temporal.ApplicationError
		if stderrors.As(err, &appErr) && appErr.NonRetryable() {
			permanent = err
			return nil
		}
		return err
	})
	if permanent != nil {
		err = permanent
	}
	if err != nil {
		s.logger.Error("failed to end rental period", zap.String("orderId", orderID), zap.Error(err))
	}

	s.mu.Lock()
	delete(s.timers, orderID)
	s.mu.Unlock()
}

// Pending 아직 실행되지 않은 예약 수
func (s *LocalScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop 대기 중인 예약 취소, 실행 중인 예약은 완료까지 대기
func (s *LocalScheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	for orderID, timer := range s.timers {
		if timer.Stop() {
			s.wg.Done()
			delete(s.timers, orderID)
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
}
