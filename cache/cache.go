// Package cache 提供统一的缓存接口，支持 Redis 与内存两种实现.
//
// 服务中的用途:
//   - saga 状态读缓存（saga.CachedStore）
//   - 步骤处理器的幂等记录（idempotency）
//   - reaper 的分布式锁（lock）
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/Tsukikage7/transit-checkout/logger"
)

// 缓存类型常量.
const (
	TypeRedis  = "redis"
	TypeMemory = "memory"
)

// 默认配置值.
const (
	DefaultPoolSize        = 10
	DefaultDialTimeout     = 5 * time.Second
	DefaultReadTimeout     = 3 * time.Second
	DefaultWriteTimeout    = 3 * time.Second
	DefaultMaxRetries      = 3
	DefaultCleanupInterval = time.Minute
	DefaultMaxSize         = 100000
)

// 预定义错误.
var (
	ErrNotFound    = errors.New("cache: key not found")
	ErrLockNotHeld = errors.New("cache: lock not held or expired")
	ErrNilConfig   = errors.New("cache: config is nil")
	ErrEmptyAddr   = errors.New("cache: redis addr is empty")
	ErrUnsupported = errors.New("cache: unsupported cache type")
	ErrNilLogger   = errors.New("cache: logger is nil")
)

// Cache 缓存接口.
type Cache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// SetNX 仅当键不存在时设置，返回是否设置成功.
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)

	// TryLock 以 value 作为持有者标识获取锁.
	TryLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Unlock 仅当持有者匹配时释放锁.
	Unlock(ctx context.Context, key, value string) error
	// Extend 仅当持有者匹配时延长锁.
	Extend(ctx context.Context, key, value string, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}

// Config 缓存配置.
type Config struct {
	Type string `json:"type" yaml:"type" mapstructure:"type"`

	// Redis
	Addr         string        `json:"addr" yaml:"addr" mapstructure:"addr"`
	Password     string        `json:"password" yaml:"password" mapstructure:"password"`
	DB           int           `json:"db" yaml:"db" mapstructure:"db"`
	PoolSize     int           `json:"pool_size" yaml:"pool_size" mapstructure:"pool_size"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// Memory
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
	MaxSize         int           `json:"max_size" yaml:"max_size" mapstructure:"max_size"`
}

// Validate 验证配置.
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	switch c.Type {
	case TypeRedis:
		if c.Addr == "" {
			return ErrEmptyAddr
		}
	case TypeMemory, "":
	default:
		return ErrUnsupported
	}
	return nil
}

// ApplyDefaults 应用默认值.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = TypeMemory
	}
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
}

// NewCache 创建缓存实例.
func NewCache(config *Config, log logger.Logger) (Cache, error) {
	if log == nil {
		return nil, ErrNilLogger
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	switch config.Type {
	case TypeRedis:
		return NewRedisCache(config, log)
	default:
		return NewMemoryCache(config, log), nil
	}
}
