package saga

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store saga 持久化接口.
//
// Update 仅当存储中的版本等于 expectedVersion 时写入，
// 成功后版本加一；否则返回 ErrVersionConflict.
type Store interface {
	// Create 写入新 saga，版本置为 1.
	Create(ctx context.Context, s *Saga) (string, error)

	// Get 读取 saga，不存在时返回 ErrSagaNotFound.
	Get(ctx context.Context, id string) (*Saga, error)

	// Update 带乐观锁更新，返回写入后的 saga.
	Update(ctx context.Context, s *Saga, expectedVersion int64) (*Saga, error)

	// FindExpired 查询已过期的非终态 saga.
	FindExpired(ctx context.Context, now time.Time) ([]*Saga, error)

	// FindStuck 查询指定状态且 updatedAt 早于 olderThan 的 saga.
	FindStuck(ctx context.Context, status Status, olderThan time.Time) ([]*Saga, error)
}

// MemoryStore 基于内存的存储.
//
// 读写均深拷贝，调用方持有的对象与存储互不影响.
type MemoryStore struct {
	mu    sync.RWMutex
	sagas map[string]*Saga
	now   func() time.Time
}

// NewMemoryStore 创建内存存储.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sagas: make(map[string]*Saga),
		now:   time.Now,
	}
}

// Create 写入新 saga.
func (m *MemoryStore) Create(_ context.Context, s *Saga) (string, error) {
	if s == nil {
		return "", ErrNilSaga
	}
	if s.ID == "" {
		return "", ErrEmptyID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sagas[s.ID]; exists {
		return "", ErrDuplicateID
	}
	stored := s.Clone()
	stored.Version = 1
	now := m.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	m.sagas[s.ID] = stored
	s.Version = 1
	return s.ID, nil
}

// Get 读取 saga.
func (m *MemoryStore) Get(_ context.Context, id string) (*Saga, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sagas[id]
	if !ok {
		return nil, ErrSagaNotFound
	}
	return s.Clone(), nil
}

// Update 带乐观锁更新.
func (m *MemoryStore) Update(_ context.Context, s *Saga, expectedVersion int64) (*Saga, error) {
	if s == nil {
		return nil, ErrNilSaga
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sagas[s.ID]
	if !ok {
		return nil, ErrSagaNotFound
	}
	if current.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	stored := s.Clone()
	stored.Version = expectedVersion + 1
	stored.CreatedAt = current.CreatedAt
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = m.now()
	}
	m.sagas[s.ID] = stored
	return stored.Clone(), nil
}

// FindExpired 查询已过期的非终态 saga.
func (m *MemoryStore) FindExpired(_ context.Context, now time.Time) ([]*Saga, error) {
	return m.filter(func(s *Saga) bool {
		return !s.IsTerminal() && !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now)
	}), nil
}

// FindStuck 查询停滞的 saga.
func (m *MemoryStore) FindStuck(_ context.Context, status Status, olderThan time.Time) ([]*Saga, error) {
	return m.filter(func(s *Saga) bool {
		return s.Status == status && s.UpdatedAt.Before(olderThan)
	}), nil
}

// Len 返回 saga 数量.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sagas)
}

func (m *MemoryStore) filter(match func(*Saga) bool) []*Saga {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Saga
	for _, s := range m.sagas {
		if match(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out
}

var _ Store = (*MemoryStore)(nil)
