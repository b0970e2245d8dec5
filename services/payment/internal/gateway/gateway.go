package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/metrics"
)

// Outcome 게이트웨이 처리 결과
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDeclined Outcome = "declined"
)

// Result 승인/환불 결과
type Result struct {
	TransactionID string
	Outcome       Outcome
	Reason        string
}

// Approved 승인 여부
func (r Result) Approved() bool {
	return r.Outcome == OutcomeApproved
}

// Acquirer 결제 대행(매입) 게이트웨이
// 에러는 처리 여부를 알 수 없는 통신 실패, 거절은 Result 로 반환
// paymentID/refundID 는 멱등 키: 재요청은 다시 승인하지 않고 첫 결과를 반환해야 한다
type Acquirer interface {
	Charge(ctx context.Context, paymentID string, amount float64, method string) (Result, error)
	Refund(ctx context.Context, refundID, paymentID string, amount float64) (Result, error)
}

// FiscalRegistrar 전자 영수증(국세청 신고) 등록기
type FiscalRegistrar interface {
	RegisterReceipt(ctx context.Context, paymentID string, amount float64) (string, error)
}

// Option MockAcquirer 옵션
type Option func(*MockAcquirer)

// WithDeclineRate 승인 거절 확률 (0~1)
func WithDeclineRate(rate float64) Option {
	return func(a *MockAcquirer) { a.declineRate = rate }
}

// WithRefundDeclineRate 환불 거절 확률 (0~1)
func WithRefundDeclineRate(rate float64) Option {
	return func(a *MockAcquirer) { a.refundDeclineRate = rate }
}

// WithLatency 게이트웨이 응답 지연
func WithLatency(d time.Duration) Option {
	return func(a *MockAcquirer) { a.latency = d }
}

// WithRand 난수 소스 교체
func WithRand(r *rand.Rand) Option {
	return func(a *MockAcquirer) { a.rand = r }
}

// WithMetrics 지표 연결
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *MockAcquirer) { a.metrics = m }
}

// MockAcquirer 확률적으로 승인/거절하는 매입사 흉내
type MockAcquirer struct {
	logger            *zap.Logger
	metrics           *metrics.Metrics
	declineRate       float64
	refundDeclineRate float64
	latency           time.Duration

	mu      sync.Mutex
	rand    *rand.Rand
	results map[string]Result
}

// NewMockAcquirer Mock 매입사 생성
func NewMockAcquirer(logger *zap.Logger, opts ...Option) *MockAcquirer {
	a := &MockAcquirer{
		logger:      logger,
		declineRate: 0.1,
		latency:     500 * time.Millisecond,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		results:     make(map[string]Result),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Charge 결제 승인 요청
func (a *MockAcquirer) Charge(ctx context.Context, paymentID string, amount float64, method string) (Result, error) {
	if err := a.wait(ctx); err != nil {
		a.metrics.GatewayOutcome("acquirer", "charge", "error")
		return Result{}, err
	}
	if result, ok := a.replay("charge:" + paymentID); ok {
		a.logger.Info("acquirer charge replayed",
			zap.String("paymentId", paymentID),
			zap.String("transactionId", result.TransactionID))
		return result, nil
	}

	roll, suffix := a.roll()
	result := Result{
		TransactionID: fmt.Sprintf("TXN_%s_%06d", short(paymentID), suffix),
		Outcome:       OutcomeApproved,
	}
	if roll < a.declineRate {
		result.Outcome = OutcomeDeclined
		result.Reason = "declined by issuer"
	}
	a.remember("charge:"+paymentID, result)

	a.metrics.GatewayOutcome("acquirer", "charge", string(result.Outcome))
	a.logger.Info("acquirer charge",
		zap.String("paymentId", paymentID),
		zap.Float64("amount", amount),
		zap.String("method", method),
		zap.String("transactionId", result.TransactionID),
		zap.String("outcome", string(result.Outcome)))
	return result, nil
}

// Refund 환불 요청
func (a *MockAcquirer) Refund(ctx context.Context, refundID, paymentID string, amount float64) (Result, error) {
	if err := a.wait(ctx); err != nil {
		a.metrics.GatewayOutcome("acquirer", "refund", "error")
		return Result{}, err
	}
	if result, ok := a.replay("refund:" + refundID); ok {
		a.logger.Info("acquirer refund replayed",
			zap.String("refundId", refundID),
			zap.String("transactionId", result.TransactionID))
		return result, nil
	}

	roll, suffix := a.roll()
	result := Result{
		TransactionID: fmt.Sprintf("REF_%s_%06d", short(refundID), suffix),
		Outcome:       OutcomeApproved,
	}
	if roll < a.refundDeclineRate {
		result.Outcome = OutcomeDeclined
		result.Reason = "refund rejected by acquirer"
	}
	a.remember("refund:"+refundID, result)

	a.metrics.GatewayOutcome("acquirer", "refund", string(result.Outcome))
	a.logger.Info("acquirer refund",
		zap.String("refundId", refundID),
		zap.String("paymentId", paymentID),
		zap.Float64("amount", amount),
		zap.String("transactionId", result.TransactionID),
		zap.String("outcome", string(result.Outcome)))
	return result, nil
}

func (a *MockAcquirer) wait(ctx context.Context) error {
	if a.latency <= 0 {
		return nil
	}
	timer := time.NewTimer(a.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCodeUpstreamUnavailable, "acquirer call cancelled", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (a *MockAcquirer) roll() (float64, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rand.Float64(), 100000 + a.rand.Intn(900000)
}

func (a *MockAcquirer) replay(key string) (Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	result, ok := a.results[key]
	return result, ok
}

func (a *MockAcquirer) remember(key string, result Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results[key] = result
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// LogRegistrar 영수증 발급을 로그로만 남기는 등록기
type LogRegistrar struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewLogRegistrar 로그 등록기 생성
func NewLogRegistrar(logger *zap.Logger, m *metrics.Metrics) *LogRegistrar {
	return &LogRegistrar{logger: logger, metrics: m}
}

// RegisterReceipt 영수증 등록
func (r *LogRegistrar) RegisterReceipt(_ context.Context, paymentID string, amount float64) (string, error) {
	receiptID := "RCPT_" + uuid.New().String()
	r.metrics.GatewayOutcome("fiscal", "register", "sent")
	r.logger.Info("fiscal receipt generated",
		zap.String("paymentId", paymentID),
		zap.String("receiptId", receiptID),
		zap.Float64("amount", amount))
	return receiptID, nil
}
