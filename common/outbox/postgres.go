package outbox

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kyungseok/msa-rental-go/common/events"
)

// PostgresStore PostgreSQL Outbox 저장소
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore PostgreSQL Outbox 저장소 생성
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InsertTx 트랜잭션 내에서 Outbox 레코드 삽입
func InsertTx(ctx context.Context, tx *sql.Tx, record *Record) error {
	query := `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := tx.QueryRowContext(
		ctx,
		query,
		record.AggregateType,
		record.AggregateID,
		string(record.EventType),
		[]byte(record.Payload),
		string(StatusPending),
		record.CreatedAt,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// FindPending 전송 대기 중인 이벤트 조회
func (s *PostgresStore) FindPending(ctx context.Context, limit int) ([]*Record, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, status, attempts, last_error, created_at
		FROM outbox_events
		WHERE status = 'PENDING'
		ORDER BY id ASC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending events: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r := &Record{}
		var eventType, status string
		var payload []byte
		if err := rows.Scan(
			&r.ID,
			&r.AggregateType,
			&r.AggregateID,
			&eventType,
			&payload,
			&status,
			&r.Attempts,
			&r.LastError,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		r.EventType = events.EventType(eventType)
		r.Status = Status(status)
		r.Payload = payload
		records = append(records, r)
	}
	return records, rows.Err()
}

// MarkSent 이벤트를 전송 완료로 표시
func (s *PostgresStore) MarkSent(ctx context.Context, id int64) error {
	query := `
		UPDATE outbox_events
		SET status = 'SENT', sent_at = NOW()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}
	return nil
}

// MarkFailed 발행 실패 횟수와 마지막 에러 기록
func (s *PostgresStore) MarkFailed(ctx context.Context, id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	query := `
		UPDATE outbox_events
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, id, msg); err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

// MarkDead 발행 불가 이벤트를 DEAD 로 표시 (대기열에서 제외)
func (s *PostgresStore) MarkDead(ctx context.Context, id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	query := `
		UPDATE outbox_events
		SET status = 'DEAD', attempts = attempts + 1, last_error = $2
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, id, msg); err != nil {
		return fmt.Errorf("failed to mark event as dead: %w", err)
	}
	return nil
}
