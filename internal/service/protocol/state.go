package protocol

import (
	"context"
	"sync"
	"time"

	"magpipeline/internal/model"
)

// StateStore 请求人会话状态存储
type StateStore interface {
	Get(ctx context.Context, requester string) (model.PendingUpdateRequest, bool, error)
	Save(ctx context.Context, p model.PendingUpdateRequest) error
	Delete(ctx context.Context, requester string) error
}

// MemoryStateStore 进程内状态（重启即丢失）
type MemoryStateStore struct {
	mu    sync.Mutex
	items map[string]model.PendingUpdateRequest
	now   func() time.Time
}

// NewMemoryStateStore 创建内存状态存储；now 为 nil 时使用系统时钟
func NewMemoryStateStore(now func() time.Time) *MemoryStateStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStateStore{
		items: make(map[string]model.PendingUpdateRequest),
		now:   now,
	}
}

func (s *MemoryStateStore) Get(_ context.Context, requester string) (model.PendingUpdateRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked(s.now())

	p, ok := s.items[requester]
	return p, ok, nil
}

func (s *MemoryStateStore) Save(_ context.Context, p model.PendingUpdateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked(s.now())
	s.items[p.Requester] = p
	return nil
}

func (s *MemoryStateStore) Delete(_ context.Context, requester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, requester)
	return nil
}

func (s *MemoryStateStore) purgeExpiredLocked(now time.Time) {
	for k, v := range s.items {
		if v.Expired(now) {
			delete(s.items, k)
		}
	}
}

// SQLBackend 由 store.Store 实现的状态持久化
type SQLBackend interface {
	GetProtocolState(ctx context.Context, requester string) (model.PendingUpdateRequest, bool, error)
	SaveProtocolState(ctx context.Context, p model.PendingUpdateRequest) error
	DeleteProtocolState(ctx context.Context, requester string) error
}

type sqlStateStore struct {
	db SQLBackend
}

// NewSQLStateStore 基于 SQLite 的状态存储，重启后会话可继续
func NewSQLStateStore(db SQLBackend) StateStore {
	return sqlStateStore{db: db}
}

func (s sqlStateStore) Get(ctx context.Context, requester string) (model.PendingUpdateRequest, bool, error) {
	return s.db.GetProtocolState(ctx, requester)
}

func (s sqlStateStore) Save(ctx context.Context, p model.PendingUpdateRequest) error {
	return s.db.SaveProtocolState(ctx, p)
}

func (s sqlStateStore) Delete(ctx context.Context, requester string) error {
	return s.db.DeleteProtocolState(ctx, requester)
}
