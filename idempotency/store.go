package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/Tsukikage7/transit-checkout/cache"
	"github.com/Tsukikage7/transit-checkout/logger"
)

// IdempotentStore 幂等性存储实现.
//
// 基于 KV 接口实现，Redis 缓存下可跨实例共享.
type IdempotentStore struct {
	kv          KV
	keyPrefix   string
	ttl         time.Duration
	lockTimeout time.Duration
	logger      logger.Logger
	now         func() time.Time
}

// NewStore 创建幂等性存储.
//
// kv: KV 存储实现（可用 CacheKV 适配 cache.Cache）
func NewStore(kv KV, opts ...Option) *IdempotentStore {
	s := &IdempotentStore{
		kv:          kv,
		keyPrefix:   "idempotency:",
		ttl:         DefaultTTL,
		lockTimeout: DefaultLockTimeout,
		logger:      logger.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get 获取幂等键对应的记录.
func (s *IdempotentStore) Get(ctx context.Context, key string) (*Record, error) {
	data, err := s.kv.Get(ctx, s.keyPrefix+key)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if data == "" {
		return nil, nil
	}
	return DecodeRecord([]byte(data))
}

// Set 保存记录并释放处理锁.
func (s *IdempotentStore) Set(ctx context.Context, key string, record *Record, ttl time.Duration) error {
	data, err := record.Encode()
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, s.keyPrefix+key, string(data), ttl); err != nil {
		return err
	}
	_ = s.kv.Del(ctx, s.lockKey(key))
	return nil
}

// SetNX 仅在没有记录且未被锁定时获取处理锁.
func (s *IdempotentStore) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	// 先检查是否已有结果
	exists, err := s.kv.Exists(ctx, s.keyPrefix+key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	return s.kv.SetNX(ctx, s.lockKey(key), "1", ttl)
}

// Delete 删除记录与处理锁.
func (s *IdempotentStore) Delete(ctx context.Context, key string) error {
	return s.kv.Del(ctx, s.keyPrefix+key, s.lockKey(key))
}

// Execute 以幂等方式执行 fn.
//
// 已有记录时返回记录中的结果且 replayed 为 true；
// 其他实例正在处理时返回 ErrInProgress；fn 出错时释放处理锁且不保存记录.
func (s *IdempotentStore) Execute(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) (outcome []byte, replayed bool, err error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if rec != nil {
		s.logger.WithContext(ctx).Debug("[Idempotency] 重放已有记录", logger.String("key", key))
		return rec.Outcome, true, nil
	}

	acquired, err := s.SetNX(ctx, key, s.lockTimeout)
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		// 获取锁失败时记录可能刚刚写入
		if rec, err := s.Get(ctx, key); err == nil && rec != nil {
			return rec.Outcome, true, nil
		}
		return nil, false, ErrInProgress
	}

	outcome, err = fn(ctx)
	if err != nil {
		_ = s.kv.Del(ctx, s.lockKey(key))
		return nil, false, err
	}

	record := &Record{Key: key, Outcome: outcome, CreatedAt: s.now()}
	if err := s.Set(ctx, key, record, s.ttl); err != nil {
		// 记录未写入，释放锁以便重投递重新执行
		_ = s.kv.Del(ctx, s.lockKey(key))
		s.logger.WithContext(ctx).Warn("[Idempotency] 保存记录失败",
			logger.String("key", key), logger.Err(err))
		return outcome, false, nil
	}
	return outcome, false, nil
}

func (s *IdempotentStore) lockKey(key string) string {
	return s.keyPrefix + "lock:" + key
}

var _ Store = (*IdempotentStore)(nil)

// cacheKV 是 cache.Cache 到 KV 的适配器.
type cacheKV struct {
	cache cache.Cache
}

// CacheKV 将 cache.Cache 适配为 KV 接口.
//
// 示例:
//
//	redisCache, _ := cache.New(&cache.Config{Type: "redis", ...})
//	kv := idempotency.CacheKV(redisCache)
//	store := idempotency.NewStore(kv)
func CacheKV(c cache.Cache) KV {
	return &cacheKV{cache: c}
}

func (c *cacheKV) Get(ctx context.Context, key string) (string, error) {
	return c.cache.Get(ctx, key)
}

func (c *cacheKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.cache.Set(ctx, key, value, ttl)
}

func (c *cacheKV) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return c.cache.SetNX(ctx, key, value, ttl)
}

func (c *cacheKV) Exists(ctx context.Context, key string) (bool, error) {
	return c.cache.Exists(ctx, key)
}

func (c *cacheKV) Del(ctx context.Context, keys ...string) error {
	return c.cache.Del(ctx, keys...)
}
