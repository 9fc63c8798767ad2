package step

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Tsukikage7/transit-checkout/collaborator"
	"github.com/Tsukikage7/transit-checkout/logger"
)

// Config 下游调用配置.
type Config struct {
	// CallTimeout 单次调用超时
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// MaxAttempts 单个调用最多尝试次数，包含首次
	MaxAttempts uint `mapstructure:"max_attempts"`
	// InitialInterval 首次重试间隔
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	// MaxInterval 重试间隔上限
	MaxInterval time.Duration `mapstructure:"max_interval"`
	// Concurrency 每个步骤的并发消费者数
	Concurrency int `mapstructure:"concurrency"`
	// GroupPrefix 消费组前缀
	GroupPrefix string `mapstructure:"group_prefix"`
}

// DefaultConfig 返回默认配置.
func DefaultConfig() *Config {
	return &Config{
		CallTimeout:     5 * time.Second,
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Concurrency:     1,
		GroupPrefix:     "checkout-step",
	}
}

// ApplyDefaults 填充零值字段.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = d.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = d.MaxInterval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.GroupPrefix == "" {
		c.GroupPrefix = d.GroupPrefix
	}
}

// Caller 以超时与指数退避重试调用下游服务.
//
// collaborator.IsPermanent 判定的错误不会重试.
type Caller struct {
	cfg *Config
	log logger.Logger
}

// NewCaller 创建 Caller，cfg 为 nil 时使用默认配置.
func NewCaller(cfg *Config, log logger.Logger) *Caller {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Caller{cfg: cfg, log: log}
}

func (c *Caller) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxInterval = c.cfg.MaxInterval
	return b
}

// Call 调用 fn，每次尝试使用独立的超时 context.
func Call[T any](ctx context.Context, c *Caller, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	attempt := 0
	log := c.log.WithContext(ctx)

	operation := func() (T, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()

		v, err := fn(callCtx)
		if err != nil && collaborator.IsPermanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.With(
				logger.String("op", op),
				logger.Int("attempt", attempt),
				logger.Duration("backoff", next),
				logger.Err(err),
			).Warn("[Step] 下游调用失败，即将重试")
		}),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		log.With(
			logger.String("op", op),
			logger.Int("attempts", attempt),
			logger.Duration("elapsed", time.Since(start)),
			logger.Err(err),
		).Warn("[Step] 下游调用失败")
		return v, err
	}
	return v, nil
}

// Do 调用无返回值的 fn.
func Do(ctx context.Context, c *Caller, op string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, c, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
