package idempotency

import (
	"time"

	"github.com/Tsukikage7/transit-checkout/logger"
)

// Option 配置选项函数.
type Option func(*IdempotentStore)

// WithKeyPrefix 设置键前缀.
func WithKeyPrefix(prefix string) Option {
	return func(s *IdempotentStore) {
		s.keyPrefix = prefix
	}
}

// WithTTL 设置幂等记录过期时间.
//
// 默认 24 小时.
func WithTTL(ttl time.Duration) Option {
	return func(s *IdempotentStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) Option {
	return func(s *IdempotentStore) {
		if log != nil {
			s.logger = log
		}
	}
}

// WithLockTimeout 设置处理锁超时时间.
//
// 持锁实例崩溃后，锁在超时后自动释放，重投的命令可以重新执行.
// 默认 2 分钟.
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *IdempotentStore) {
		if timeout > 0 {
			s.lockTimeout = timeout
		}
	}
}
