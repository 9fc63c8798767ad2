package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Tsukikage7/transit-checkout/logger"
)

// memoryCache 内存缓存实现，用于单进程部署与测试.
type memoryCache struct {
	data      map[string]*cacheItem
	mu        sync.Mutex
	maxSize   int
	closeCh   chan struct{}
	closeOnce sync.Once
}

type cacheItem struct {
	value    string
	expireAt time.Time
}

func (i *cacheItem) expired(now time.Time) bool {
	return !i.expireAt.IsZero() && now.After(i.expireAt)
}

// NewMemoryCache 创建内存缓存.
func NewMemoryCache(config *Config, log logger.Logger) Cache {
	if config == nil {
		config = &Config{Type: TypeMemory}
	}
	config.ApplyDefaults()

	c := &memoryCache{
		data:    make(map[string]*cacheItem),
		maxSize: config.MaxSize,
		closeCh: make(chan struct{}),
	}
	go c.cleanupLoop(config.CleanupInterval)

	if log != nil {
		log.Debug("[Cache] memory cache initialized")
	}
	return c
}

func (m *memoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for key, item := range m.data {
				if item.expired(now) {
					delete(m.data, key)
				}
			}
			m.mu.Unlock()
		case <-m.closeCh:
			return
		}
	}
}

// lookup 返回未过期的缓存项，调用方需持有锁.
func (m *memoryCache) lookup(key string) (*cacheItem, bool) {
	item, ok := m.data[key]
	if !ok {
		return nil, false
	}
	if item.expired(time.Now()) {
		delete(m.data, key)
		return nil, false
	}
	return item, true
}

// store 写入缓存项，调用方需持有锁.
func (m *memoryCache) store(key, value string, ttl time.Duration) {
	if _, exists := m.data[key]; !exists && len(m.data) >= m.maxSize {
		for k := range m.data {
			delete(m.data, k)
			break
		}
	}
	item := &cacheItem{value: value}
	if ttl > 0 {
		item.expireAt = time.Now().Add(ttl)
	}
	m.data[key] = item
}

func (m *memoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := serialize(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(key, data, ttl)
	return nil
}

func (m *memoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.lookup(key)
	if !ok {
		return "", ErrNotFound
	}
	return item.value, nil
}

func (m *memoryCache) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memoryCache) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lookup(key)
	return ok, nil
}

func (m *memoryCache) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	data, err := serialize(value)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.store(key, data, ttl)
	return true, nil
}

func (m *memoryCache) TryLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return m.SetNX(ctx, key, value, ttl)
}

func (m *memoryCache) Unlock(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.lookup(key)
	if !ok || item.value != value {
		return ErrLockNotHeld
	}
	delete(m.data, key)
	return nil
}

func (m *memoryCache) Extend(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.lookup(key)
	if !ok || item.value != value {
		return ErrLockNotHeld
	}
	item.expireAt = time.Now().Add(ttl)
	return nil
}

func (m *memoryCache) Ping(context.Context) error { return nil }

func (m *memoryCache) Close() error {
	m.closeOnce.Do(func() { close(m.closeCh) })
	return nil
}
