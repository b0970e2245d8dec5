package outbox

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store Outbox 저장소 인터페이스
// 레코드 추가는 각 서비스 레포지토리가 상태 변경과 같은 트랜잭션에서 수행
type Store interface {
	FindPending(ctx context.Context, limit int) ([]*Record, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, cause error) error
	MarkDead(ctx context.Context, id int64, cause error) error
}

// MemoryStore 메모리 Outbox 저장소
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*Record
}

// NewMemoryStore 메모리 Outbox 저장소 생성
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]*Record)}
}

// Lock 호출자의 상태 변경과 Append 를 하나의 임계 구역으로 묶을 때 사용
func (s *MemoryStore) Lock()   { s.mu.Lock() }
func (s *MemoryStore) Unlock() { s.mu.Unlock() }

// AppendLocked Lock 을 잡은 상태에서 레코드 추가
func (s *MemoryStore) AppendLocked(records ...*Record) {
	for _, r := range records {
		s.nextID++
		r.ID = s.nextID
		if r.Status == "" {
			r.Status = StatusPending
		}
		cp := *r
		s.records[r.ID] = &cp
	}
}

// Append 레코드 추가
func (s *MemoryStore) Append(records ...*Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AppendLocked(records...)
}

// FindPending 발행 대기 레코드를 저장 순서대로 조회
func (s *MemoryStore) FindPending(_ context.Context, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*Record
	for _, r := range s.records {
		if r.Status == StatusPending {
			cp := *r
			pending = append(pending, &cp)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// MarkSent 발행 완료 표시
func (s *MemoryStore) MarkSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[id]; ok {
		now := time.Now().UTC()
		r.Status = StatusSent
		r.SentAt = &now
	}
	return nil
}

// MarkFailed 발행 실패 기록 (대기 상태 유지)
func (s *MemoryStore) MarkFailed(_ context.Context, id int64, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[id]; ok {
		r.Attempts++
		if cause != nil {
			r.LastError = cause.Error()
		}
	}
	return nil
}

// MarkDead 발행 불가 레코드를 대기열에서 제외
func (s *MemoryStore) MarkDead(_ context.Context, id int64, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[id]; ok {
		r.Status = StatusDead
		r.Attempts++
		if cause != nil {
			r.LastError = cause.Error()
		}
	}
	return nil
}

// All 저장된 모든 레코드 (ID 순)
func (s *MemoryStore) All() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		cp := *r
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}
