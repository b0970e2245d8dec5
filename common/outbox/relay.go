package outbox

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/events"
	"github.com/kyungseok/msa-rental-go/common/metrics"
)

// Publisher 릴레이가 사용하는 발행자 (messaging.Publisher 가 만족)
type Publisher interface {
	Publish(ctx context.Context, eventType events.EventType, payload interface{}) error
}

// Relay Outbox 릴레이
// 주기적으로, 또는 Notify 로 깨어나 대기 레코드를 저장 순서대로 발행한다
type Relay struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
	kick      chan struct{}
}

// RelayOption 릴레이 옵션
type RelayOption func(*Relay)

// WithInterval 폴링 주기
func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) { r.interval = d }
}

// WithBatchSize 한 번에 조회할 레코드 수
func WithBatchSize(n int) RelayOption {
	return func(r *Relay) { r.batchSize = n }
}

// WithMetrics 지표 연결
func WithMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

// NewRelay Outbox 릴레이 생성
func NewRelay(store Store, publisher Publisher, logger *zap.Logger, opts ...RelayOption) *Relay {
	r := &Relay{
		store:     store,
		publisher: publisher,
		logger:    logger,
		interval:  time.Second,
		batchSize: 100,
		kick:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Notify 커밋 직후 릴레이를 깨움 (블로킹 없음)
func (r *Relay) Notify() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Start 릴레이 시작 (ctx 취소 시 종료)
func (r *Relay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
		case <-r.kick:
		}

		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("failed to process outbox events", zap.Error(err))
		}
	}
}

// Flush 대기 레코드를 모두 발행 시도, 발행한 건수 반환
// 순서 보장을 위해 첫 실패에서 멈춘다. 발행 불가 레코드(라우팅 불가, 직렬화 실패)는
// DEAD 로 표시하고 건너뛴다
func (r *Relay) Flush(ctx context.Context) (int, error) {
	sent := 0
	for {
		records, err := r.store.FindPending(ctx, r.batchSize)
		if err != nil {
			return sent, err
		}
		if len(records) == 0 {
			r.metrics.OutboxPending(0)
			return sent, nil
		}

		for i, record := range records {
			err := r.publisher.Publish(ctx, record.EventType, json.RawMessage(record.Payload))
			if err != nil && undeliverable(err) {
				r.logger.Error("dropping undeliverable outbox event",
					zap.Int64("recordId", record.ID),
					zap.String("eventType", string(record.EventType)),
					zap.String("aggregateId", record.AggregateID),
					zap.Error(err))
				if markErr := r.store.MarkDead(ctx, record.ID, err); markErr != nil {
					return sent, markErr
				}
				continue
			}
			if err != nil {
				r.logger.Warn("failed to relay outbox event",
					zap.Int64("recordId", record.ID),
					zap.String("eventType", string(record.EventType)),
					zap.String("aggregateId", record.AggregateID),
					zap.Error(err))
				if markErr := r.store.MarkFailed(ctx, record.ID, err); markErr != nil {
					r.logger.Error("failed to record outbox failure", zap.Int64("recordId", record.ID), zap.Error(markErr))
				}
				r.metrics.OutboxPending(len(records) - i)
				return sent, err
			}

			if err := r.store.MarkSent(ctx, record.ID); err != nil {
				// 다음 주기에 재발행될 수 있음 (구독자는 event_id 로 중복 제거)
				return sent, err
			}
			sent++
		}

		if len(records) < r.batchSize {
			r.metrics.OutboxPending(0)
			return sent, nil
		}
	}
}

func undeliverable(err error) bool {
	return errors.HasCode(err, errors.ErrCodeUnroutable) || errors.HasCode(err, errors.ErrCodeSerializationError)
}
