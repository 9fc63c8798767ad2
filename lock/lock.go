// Package lock 提供分布式锁.
//
// reaper 等多副本任务通过它保证同一时刻只有一个实例执行.
package lock

import (
	"context"
	"errors"
	"time"
)

// 预定义错误.
var (
	ErrLockNotAcquired = errors.New("lock: failed to acquire lock")
	ErrLockNotHeld     = errors.New("lock: lock not held")
)

// Locker 分布式锁接口.
type Locker interface {
	// TryLock 尝试获取锁，不阻塞.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Lock 获取锁，阻塞直到成功、重试耗尽或 ctx 取消.
	Lock(ctx context.Context, key string, ttl time.Duration) error
	// Unlock 释放锁.
	Unlock(ctx context.Context, key string) error
	// Extend 延长锁的过期时间.
	Extend(ctx context.Context, key string, ttl time.Duration) error
}

// WithLock 在持有锁期间执行 fn.
func WithLock(ctx context.Context, l Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if err := l.Lock(ctx, key, ttl); err != nil {
		return err
	}
	defer func() {
		// 使用独立 context，避免调用方取消导致锁无法释放
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.Unlock(unlockCtx, key)
	}()
	return fn(ctx)
}
