package notifier

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/metrics"
)

// Notifier 사용자 알림 (푸시, 이메일)
type Notifier interface {
	SendPush(ctx context.Context, userID, title, body string) error
	SendEmail(ctx context.Context, address, subject, body string) error
}

// Option Mock 옵션
type Option func(*Mock)

// WithFailureRate 실패 확률 (0~1)
func WithFailureRate(rate float64) Option {
	return func(m *Mock) { m.failureRate = rate }
}

// WithLatency 전송 지연
func WithLatency(push, email time.Duration) Option {
	return func(m *Mock) {
		m.pushLatency = push
		m.emailLatency = email
	}
}

// WithRand 난수 소스 교체
func WithRand(fn func() float64) Option {
	return func(m *Mock) { m.rand = fn }
}

// WithMetrics 지표 연결
func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Mock) { m.metrics = metrics }
}

// Mock 외부 푸시/이메일 제공자를 흉내내는 알림 발송기
type Mock struct {
	logger       *zap.Logger
	metrics      *metrics.Metrics
	failureRate  float64
	pushLatency  time.Duration
	emailLatency time.Duration

	mu   sync.Mutex
	rand func() float64
}

// NewMock Mock 알림 발송기 생성
func NewMock(logger *zap.Logger, opts ...Option) *Mock {
	m := &Mock{
		logger:       logger,
		failureRate:  0.05,
		pushLatency:  200 * time.Millisecond,
		emailLatency: 300 * time.Millisecond,
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())).Float64,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SendPush 푸시 알림 발송
func (m *Mock) SendPush(ctx context.Context, userID, title, body string) error {
	err := m.deliver(ctx, m.pushLatency)
	m.record("push", err)
	m.logger.Info("push notification",
		zap.String("userId", userID),
		zap.String("title", title),
		zap.Bool("delivered", err == nil))
	return err
}

// SendEmail 이메일 발송
func (m *Mock) SendEmail(ctx context.Context, address, subject, body string) error {
	err := m.deliver(ctx, m.emailLatency)
	m.record("email", err)
	m.logger.Info("email notification",
		zap.String("address", address),
		zap.String("subject", subject),
		zap.Bool("delivered", err == nil))
	return err
}

func (m *Mock) deliver(ctx context.Context, latency time.Duration) error {
	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return errors.Wrap(errors.ErrCodeUpstreamUnavailable, "notification cancelled", ctx.Err())
		case <-timer.C:
		}
	}

	m.mu.Lock()
	roll := m.rand()
	m.mu.Unlock()

	if roll < m.failureRate {
		return errors.New(errors.ErrCodeUpstreamUnavailable, "notification provider rejected the message")
	}
	return nil
}

func (m *Mock) record(operation string, err error) {
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	m.metrics.GatewayOutcome("notifier", operation, outcome)
}

// Sent 기록된 알림
type Sent struct {
	Channel string
	Target  string
	Title   string
	Body    string
}

// Recorder 발송 내역을 기록하는 결정적 알림 발송기
type Recorder struct {
	mu      sync.Mutex
	sent    []Sent
	failing map[string]bool
}

// NewRecorder Recorder 생성
func NewRecorder() *Recorder {
	return &Recorder{failing: make(map[string]bool)}
}

// Fail 해당 채널("push", "email") 발송을 실패시킴
func (r *Recorder) Fail(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing[channel] = true
}

// SendPush 푸시 알림 기록
func (r *Recorder) SendPush(_ context.Context, userID, title, body string) error {
	return r.add(Sent{Channel: "push", Target: userID, Title: title, Body: body})
}

// SendEmail 이메일 기록
func (r *Recorder) SendEmail(_ context.Context, address, subject, body string) error {
	return r.add(Sent{Channel: "email", Target: address, Title: subject, Body: body})
}

func (r *Recorder) add(s Sent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing[s.Channel] {
		return errors.New(errors.ErrCodeUpstreamUnavailable, s.Channel+" provider unavailable")
	}
	r.sent = append(r.sent, s)
	return nil
}

// Sent 발송된 알림 목록
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}
