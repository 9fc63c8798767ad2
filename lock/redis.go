package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/Tsukikage7/transit-checkout/cache"
)

// Redis 基于 cache.Cache 的分布式锁，cache 为 redis 时多副本共享.
//
// owner ID 为 主机名/UUID，只有持有者能释放或延长锁.
type Redis struct {
	cache      cache.Cache
	keyPrefix  string
	ownerID    string
	retryWait  time.Duration
	maxRetries int

	mu   sync.Mutex
	held map[string]struct{}
}

var _ Locker = (*Redis)(nil)

// RedisOption Redis 锁配置选项.
type RedisOption func(*Redis)

// WithKeyPrefix 设置锁键前缀，默认 "lock:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.keyPrefix = prefix
	}
}

// WithOwnerID 设置锁持有者 ID，默认自动生成 UUID.
func WithOwnerID(id string) RedisOption {
	return func(r *Redis) {
		r.ownerID = id
	}
}

// WithRetryWait 设置 Lock 的重试间隔，默认 100ms.
func WithRetryWait(wait time.Duration) RedisOption {
	return func(r *Redis) {
		r.retryWait = wait
	}
}

// WithMaxRetries 设置 Lock 的最大重试次数，0 表示直到 ctx 取消.
func WithMaxRetries(n int) RedisOption {
	return func(r *Redis) {
		r.maxRetries = n
	}
}

// NewRedis 创建分布式锁.
func NewRedis(c cache.Cache, opts ...RedisOption) *Redis {
	if c == nil {
		panic("lock: cache is required")
	}

	r := &Redis{
		cache:     c,
		keyPrefix: "lock:",
		ownerID:   defaultOwnerID(),
		retryWait: 100 * time.Millisecond,
		held:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TryLock 尝试获取锁.
func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	acquired, err := r.cache.TryLock(ctx, r.keyPrefix+key, r.ownerID, ttl)
	if err != nil {
		return false, err
	}
	if acquired {
		r.mu.Lock()
		r.held[key] = struct{}{}
		r.mu.Unlock()
	}
	return acquired, nil
}

// errBusy 锁被占用，触发重试.
var errBusy = errors.New("lock: busy")

// Lock 以固定间隔重试 TryLock，直到成功、重试耗尽或 ctx 取消.
func (r *Redis) Lock(ctx context.Context, key string, ttl time.Duration) error {
	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(r.retryWait)),
		backoff.WithMaxElapsedTime(0),
	}
	if r.maxRetries > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(r.maxRetries)))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		acquired, err := r.TryLock(ctx, key, ttl)
		switch {
		case err != nil:
			return struct{}{}, backoff.Permanent(err)
		case !acquired:
			return struct{}{}, errBusy
		}
		return struct{}{}, nil
	}, opts...)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	if errors.Is(err, errBusy) {
		return ErrLockNotAcquired
	}
	return err
}

// Unlock 释放锁.
func (r *Redis) Unlock(ctx context.Context, key string) error {
	if !r.IsHeld(key) {
		return ErrLockNotHeld
	}

	err := r.cache.Unlock(ctx, r.keyPrefix+key, r.ownerID)

	r.mu.Lock()
	delete(r.held, key)
	r.mu.Unlock()

	if errors.Is(err, cache.ErrLockNotHeld) {
		return ErrLockNotHeld
	}
	return err
}

// Extend 延长锁的过期时间.
func (r *Redis) Extend(ctx context.Context, key string, ttl time.Duration) error {
	if !r.IsHeld(key) {
		return ErrLockNotHeld
	}

	err := r.cache.Extend(ctx, r.keyPrefix+key, r.ownerID, ttl)
	if errors.Is(err, cache.ErrLockNotHeld) {
		r.mu.Lock()
		delete(r.held, key)
		r.mu.Unlock()
		return ErrLockNotHeld
	}
	return err
}

// OwnerID 返回当前锁持有者 ID.
func (r *Redis) OwnerID() string {
	return r.ownerID
}

// IsHeld 检查本实例是否持有指定的锁.
func (r *Redis) IsHeld(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[key]
	return ok
}

func defaultOwnerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uuid.NewString()
	}
	return host + "/" + uuid.NewString()
}
