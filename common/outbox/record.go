package outbox

import (
	"encoding/json"
	"time"

	"github.com/kyungseok/msa-rental-go/common/errors"
	"github.com/kyungseok/msa-rental-go/common/events"
)

// Status Outbox 레코드 상태
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	// StatusDead 재시도해도 발행할 수 없는 레코드 (라우팅 불가, 직렬화 실패)
	StatusDead Status = "DEAD"
)

// Record 상태 변경과 함께 저장되는 발행 대기 이벤트
type Record struct {
	ID            int64
	AggregateType string
	AggregateID   string
	EventType     events.EventType
	Payload       json.RawMessage
	Status        Status
	Attempts      int
	LastError     string
	CreatedAt     time.Time
	SentAt        *time.Time
}

// NewRecord 이벤트로부터 Outbox 레코드 생성
func NewRecord(aggregateType, aggregateID string, event events.Event) (*Record, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal outbox event", err)
	}
	return &Record{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     event.Meta().EventType,
		Payload:       payload,
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// EventID 페이로드의 event_id
func (r *Record) EventID() string {
	var base events.BaseEvent
	if err := json.Unmarshal(r.Payload, &base); err != nil {
		return ""
	}
	return base.EventID
}
