package saga

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Tsukikage7/transit-checkout/cache"
	"github.com/Tsukikage7/transit-checkout/logger"
)

// DefaultCacheTTL 缓存默认过期时间.
const DefaultCacheTTL = 30 * time.Second

// CachedStore 读穿透缓存装饰器，每次写入后失效对应条目.
//
// 缓存故障只记录日志，读写回落到底层存储.
type CachedStore struct {
	Store
	cache  cache.Cache
	ttl    time.Duration
	prefix string
	log    logger.Logger
}

// CachedOption 缓存装饰器选项.
type CachedOption func(*CachedStore)

// WithCacheTTL 设置缓存过期时间.
func WithCacheTTL(ttl time.Duration) CachedOption {
	return func(c *CachedStore) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCachePrefix 设置缓存键前缀.
func WithCachePrefix(prefix string) CachedOption {
	return func(c *CachedStore) {
		c.prefix = prefix
	}
}

// WithCacheLogger 设置日志记录器.
func WithCacheLogger(log logger.Logger) CachedOption {
	return func(c *CachedStore) {
		if log != nil {
			c.log = log
		}
	}
}

// NewCachedStore 创建缓存装饰器.
func NewCachedStore(store Store, c cache.Cache, opts ...CachedOption) *CachedStore {
	cs := &CachedStore{
		Store:  store,
		cache:  c,
		ttl:    DefaultCacheTTL,
		prefix: "saga:",
		log:    logger.NewNop(),
	}
	for _, opt := range opts {
		opt(cs)
	}
	return cs
}

// Unwrap 返回被装饰的存储.
func (c *CachedStore) Unwrap() Store {
	return c.Store
}

// Durable 剥离所有装饰器，返回最底层的存储.
//
// 依赖版本号做决策的读-改-写应当从这里读取，缓存条目可能落后于已提交的版本.
func Durable(s Store) Store {
	for {
		u, ok := s.(interface{ Unwrap() Store })
		if !ok {
			return s
		}
		s = u.Unwrap()
	}
}

func (c *CachedStore) key(id string) string {
	return c.prefix + id
}

// Get 优先读缓存，未命中时读存储并回填.
func (c *CachedStore) Get(ctx context.Context, id string) (*Saga, error) {
	raw, err := c.cache.Get(ctx, c.key(id))
	switch {
	case err == nil:
		var s Saga
		if jsonErr := json.Unmarshal([]byte(raw), &s); jsonErr == nil {
			return &s, nil
		}
		c.log.WithContext(ctx).Warn("[SagaStore] 缓存条目损坏，回落存储",
			logger.SagaID(id))
	case !errors.Is(err, cache.ErrNotFound):
		c.log.WithContext(ctx).Warn("[SagaStore] 读取缓存失败",
			logger.SagaID(id), logger.Err(err))
	}

	s, err := c.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, s)
	return s, nil
}

// Update 写入存储后失效缓存.
func (c *CachedStore) Update(ctx context.Context, s *Saga, expectedVersion int64) (*Saga, error) {
	updated, err := c.Store.Update(ctx, s, expectedVersion)
	if s != nil {
		c.invalidate(ctx, s.ID)
	}
	return updated, err
}

// Create 写入存储后失效缓存.
func (c *CachedStore) Create(ctx context.Context, s *Saga) (string, error) {
	id, err := c.Store.Create(ctx, s)
	if err == nil {
		c.invalidate(ctx, id)
	}
	return id, err
}

func (c *CachedStore) fill(ctx context.Context, s *Saga) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, c.key(s.ID), string(b), c.ttl); err != nil {
		c.log.WithContext(ctx).Warn("[SagaStore] 写入缓存失败",
			logger.SagaID(s.ID), logger.Err(err))
	}
}

func (c *CachedStore) invalidate(ctx context.Context, id string) {
	if err := c.cache.Del(ctx, c.key(id)); err != nil {
		c.log.WithContext(ctx).Warn("[SagaStore] 失效缓存失败",
			logger.SagaID(id), logger.Err(err))
	}
}

var _ Store = (*CachedStore)(nil)
