// Package orchestrator 驱动结账 saga 的状态机.
//
// Orchestrator 消费 saga.outcome 上的步骤结果，推进正向步骤或逐步回滚已完成步骤.
// 所有状态变更都遵循 读取 → 决策 → 带版本号更新 的流程，版本冲突时基于最新
// 记录重新决策；事件总是在持久化成功之后发布.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/Tsukikage7/transit-checkout/logger"
	"github.com/Tsukikage7/transit-checkout/metrics"
	"github.com/Tsukikage7/transit-checkout/saga"
)

// Config 编排器配置.
type Config struct {
	// Timeout saga 超时时间
	Timeout time.Duration `mapstructure:"timeout"`
	// CompensationTimeout 每个补偿步骤的截止时间，进入补偿及每推进一步时重置
	CompensationTimeout time.Duration `mapstructure:"compensation_timeout"`
	// MaxConflictRetries 版本冲突时最多尝试次数
	MaxConflictRetries uint `mapstructure:"max_conflict_retries"`
	// ConflictBackoff 冲突重试的初始间隔
	ConflictBackoff time.Duration `mapstructure:"conflict_backoff"`
	// ConsumerGroup 结果事件消费组
	ConsumerGroup string `mapstructure:"consumer_group"`
}

// DefaultConfig 返回默认配置.
func DefaultConfig() *Config {
	return &Config{
		Timeout:             saga.DefaultTimeout,
		CompensationTimeout: saga.DefaultTimeout,
		MaxConflictRetries:  5,
		ConflictBackoff:     10 * time.Millisecond,
		ConsumerGroup:       "checkout-orchestrator",
	}
}

// ApplyDefaults 填充零值字段.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.CompensationTimeout <= 0 {
		c.CompensationTimeout = d.CompensationTimeout
	}
	if c.MaxConflictRetries == 0 {
		c.MaxConflictRetries = d.MaxConflictRetries
	}
	if c.ConflictBackoff <= 0 {
		c.ConflictBackoff = d.ConflictBackoff
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = d.ConsumerGroup
	}
}

// Orchestrator saga 编排器.
type Orchestrator struct {
	store saga.Store
	// durable 绕过缓存的底层存储，读-改-写必须基于它
	durable   saga.Store
	publisher saga.Publisher
	cfg       *Config
	log       logger.Logger
	metrics   *metrics.PrometheusCollector
	now       func() time.Time
	newID     func() string
}

// Option 编排器配置选项.
type Option func(*Orchestrator)

// WithConfig 设置配置.
func WithConfig(cfg *Config) Option {
	return func(o *Orchestrator) {
		if cfg != nil {
			o.cfg = cfg
		}
	}
}

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) Option {
	return func(o *Orchestrator) {
		o.log = log
	}
}

// WithMetrics 设置指标收集器.
func WithMetrics(collector *metrics.PrometheusCollector) Option {
	return func(o *Orchestrator) {
		o.metrics = collector
	}
}

// WithClock 设置时钟.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithIDGenerator 设置 ID 生成器.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newID = fn
	}
}

// New 创建编排器.
func New(store saga.Store, publisher saga.Publisher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		publisher: publisher,
		cfg:       DefaultConfig(),
		log:       logger.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.cfg.ApplyDefaults()
	o.durable = saga.Durable(store)
	return o
}

// change 一次决策的结果.
type change struct {
	// publish 持久化后发布的事件
	publish *saga.Event
	// after 持久化后执行，用于日志与指标
	after func(s *saga.Saga)
}

// decideFunc 在最新的 saga 副本上做出决策.
//
// 返回 nil change 表示无需变更.
type decideFunc func(s *saga.Saga) (*change, error)

type mutation struct {
	saga    *saga.Saga
	change  *change
	from    saga.Status
	skipped bool
}

// mutate 以乐观锁执行 读取 → 决策 → 更新，冲突时重新读取并决策.
func (o *Orchestrator) mutate(ctx context.Context, id, op string, decide decideFunc) (*mutation, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.ConflictBackoff
	bo.MaxInterval = 20 * o.cfg.ConflictBackoff

	attempt := 0
	m, err := backoff.Retry(ctx, func() (*mutation, error) {
		attempt++
		s, err := o.durable.Get(ctx, id)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		from, expected := s.Status, s.Version

		c, err := decide(s)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if c == nil {
			return &mutation{saga: s, from: from, skipped: true}, nil
		}

		s.UpdatedAt = o.now()
		updated, err := o.store.Update(ctx, s, expected)
		if errors.Is(err, saga.ErrVersionConflict) {
			o.metrics.VersionConflict(op)
			o.log.WithContext(ctx).With(
				logger.SagaID(id),
				logger.String("op", op),
				logger.Int("attempt", attempt),
			).Debug("[Orchestrator] 版本冲突，重新读取")
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return &mutation{saga: updated, change: c, from: from}, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(o.cfg.MaxConflictRetries),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		if errors.Is(err, saga.ErrVersionConflict) {
			o.log.WithContext(ctx).With(
				logger.SagaID(id),
				logger.String("op", op),
				logger.Int("attempts", attempt),
			).Warn("[Orchestrator] 版本冲突重试耗尽")
		}
		return nil, err
	}
	if m.skipped {
		return m, nil
	}

	if m.change.after != nil {
		m.change.after(m.saga)
	}
	if m.saga.IsTerminal() && !m.from.IsTerminal() {
		o.metrics.SagaFinished(string(m.saga.Status))
		o.log.WithContext(ctx).With(
			logger.SagaID(m.saga.ID),
			logger.String("status", string(m.saga.Status)),
			logger.String("error", m.saga.ErrorMessage),
		).Info("[Orchestrator] saga 已结束")
	}
	if e := m.change.publish; e != nil {
		if err := o.publisher.Publish(ctx, e); err != nil {
			return m, fmt.Errorf("orchestrator: publish %s: %w", e.Step, err)
		}
	}
	return m, nil
}

// sagaLog 返回带 saga 信息的 logger.
func (o *Orchestrator) sagaLog(ctx context.Context, id string) logger.Logger {
	return o.log.WithContext(ctx).With(logger.SagaID(id))
}
