package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tsukikage7/transit-checkout/logger"
)

var (
	unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// redisCache Redis 缓存实现.
type redisCache struct {
	client redis.UniversalClient
	logger logger.Logger
}

// NewRedisCache 创建 Redis 缓存并测试连接.
func NewRedisCache(config *Config, log logger.Logger) (Cache, error) {
	if config == nil {
		return nil, ErrNilConfig
	}
	if config.Addr == "" {
		return nil, ErrEmptyAddr
	}
	config.ApplyDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		MaxRetries:   config.MaxRetries,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		log.With(logger.String("addr", config.Addr), logger.Err(err)).Error("[Cache] redis connect failed")
		return nil, fmt.Errorf("cache: redis connect: %w", err)
	}

	log.With(logger.String("addr", config.Addr), logger.Int("db", config.DB)).Debug("[Cache] redis connected")

	return NewRedisCacheFromClient(client, log), nil
}

// NewRedisCacheFromClient 使用已有客户端创建 Redis 缓存.
func NewRedisCacheFromClient(client redis.UniversalClient, log logger.Logger) Cache {
	return &redisCache{client: client, logger: log}
}

func (r *redisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := serialize(value)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		r.logger.With(logger.String("key", key), logger.Err(err)).Error("[Cache] SET failed")
		return err
	}
	return nil
}

func (r *redisCache) Get(ctx context.Context, key string) (string, error) {
	result, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		r.logger.With(logger.String("key", key), logger.Err(err)).Error("[Cache] GET failed")
		return "", err
	}
	return result, nil
}

func (r *redisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *redisCache) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	data, err := serialize(value)
	if err != nil {
		return false, err
	}
	return r.client.SetNX(ctx, key, data, ttl).Result()
}

func (r *redisCache) TryLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *redisCache) Unlock(ctx context.Context, key, value string) error {
	n, err := unlockScript.Run(ctx, r.client, []string{key}, value).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (r *redisCache) Extend(ctx context.Context, key, value string, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, r.client, []string{key}, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (r *redisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisCache) Close() error {
	return r.client.Close()
}

func serialize(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("cache: serialize value: %w", err)
		}
		return string(data), nil
	}
}
