package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tsukikage7/transit-checkout/logger"
	"github.com/Tsukikage7/transit-checkout/metrics"
	"github.com/Tsukikage7/transit-checkout/saga"
	"github.com/Tsukikage7/transit-checkout/scheduler"
)

// ReaperConfig 超时清理与卡住重驱配置.
type ReaperConfig struct {
	// ExpiredSchedule 清理超时 saga 的 cron 表达式
	ExpiredSchedule string `mapstructure:"expired_schedule"`
	// StuckSchedule 重驱卡住 saga 的 cron 表达式
	StuckSchedule string `mapstructure:"stuck_schedule"`
	// StuckAfter 超过该时长未更新视为卡住
	StuckAfter time.Duration `mapstructure:"stuck_after"`
	// JobTimeout 单次任务超时
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// DefaultReaperConfig 返回默认配置.
func DefaultReaperConfig() *ReaperConfig {
	return &ReaperConfig{
		ExpiredSchedule: "*/30 * * * * *",
		StuckSchedule:   "0 * * * * *",
		StuckAfter:      2 * time.Minute,
		JobTimeout:      time.Minute,
	}
}

// ApplyDefaults 填充零值字段.
func (c *ReaperConfig) ApplyDefaults() {
	d := DefaultReaperConfig()
	if c.ExpiredSchedule == "" {
		c.ExpiredSchedule = d.ExpiredSchedule
	}
	if c.StuckSchedule == "" {
		c.StuckSchedule = d.StuckSchedule
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = d.StuckAfter
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
}

// 任务名.
const (
	JobReapExpired  = "saga-reap-expired"
	JobRedriveStuck = "saga-redrive-stuck"
)

// Reaper 清理超时 saga 并重驱卡住的 saga.
type Reaper struct {
	orch    *Orchestrator
	cfg     *ReaperConfig
	log     logger.Logger
	metrics *metrics.PrometheusCollector
}

// NewReaper 创建 Reaper，cfg 为 nil 时使用默认配置.
func NewReaper(orch *Orchestrator, cfg *ReaperConfig) *Reaper {
	if cfg == nil {
		cfg = DefaultReaperConfig()
	}
	cfg.ApplyDefaults()
	return &Reaper{orch: orch, cfg: cfg, log: orch.log, metrics: orch.metrics}
}

// Register 将清理任务注册到调度器，两个任务都是单例且分布式互斥的.
func (r *Reaper) Register(s scheduler.Scheduler) error {
	expired, err := scheduler.NewJob(JobReapExpired).
		Schedule(r.cfg.ExpiredSchedule).
		Handler(r.ReapExpired).
		Timeout(r.cfg.JobTimeout).
		Singleton().
		Distributed().
		Build()
	if err != nil {
		return err
	}
	stuck, err := scheduler.NewJob(JobRedriveStuck).
		Schedule(r.cfg.StuckSchedule).
		Handler(r.RedriveStuck).
		Timeout(r.cfg.JobTimeout).
		Singleton().
		Distributed().
		Build()
	if err != nil {
		return err
	}
	if err := s.Add(expired); err != nil {
		return err
	}
	return s.Add(stuck)
}

// ReapExpired 让超时的 saga 失败.
//
// 正向执行中的 saga 进入补偿，补偿中的 saga 直接 FAILED 等待人工处理.
func (r *Reaper) ReapExpired(ctx context.Context) error {
	now := r.orch.now()
	expired, err := r.orch.store.FindExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("orchestrator: find expired: %w", err)
	}

	var errs []error
	for _, s := range expired {
		if err := r.orch.Expire(ctx, s.ID); err != nil && !errors.Is(err, saga.ErrSagaNotFound) {
			errs = append(errs, err)
			continue
		}
		r.metrics.Counter("saga_reaped_total", map[string]string{"status": string(s.Status)})
	}
	if len(expired) > 0 {
		r.log.WithContext(ctx).With(
			logger.Int("expired", len(expired)),
			logger.Int("errors", len(errs)),
		).Info("[Reaper] 已处理超时 saga")
	}
	return errors.Join(errs...)
}

// RedriveStuck 为长时间未更新的活跃 saga 重新发布当前步骤命令.
func (r *Reaper) RedriveStuck(ctx context.Context) error {
	olderThan := r.orch.now().Add(-r.cfg.StuckAfter)

	var (
		errs  []error
		total int
	)
	for _, status := range saga.ActiveStatuses() {
		stuck, err := r.orch.store.FindStuck(ctx, status, olderThan)
		if err != nil {
			errs = append(errs, fmt.Errorf("orchestrator: find stuck %s: %w", status, err))
			continue
		}
		for _, s := range stuck {
			if err := r.orch.Redrive(ctx, s.ID, olderThan); err != nil && !errors.Is(err, saga.ErrSagaNotFound) {
				errs = append(errs, err)
				continue
			}
			total++
			r.metrics.Counter("saga_redrives_total", map[string]string{"step": string(s.CurrentStep)})
		}
	}
	if total > 0 {
		r.log.WithContext(ctx).With(
			logger.Int("redriven", total),
			logger.Int("errors", len(errs)),
		).Info("[Reaper] 已重驱卡住的 saga")
	}
	return errors.Join(errs...)
}

// Expire 让一个超时的 saga 失败，未超时或已结束时不做任何事.
func (o *Orchestrator) Expire(ctx context.Context, sagaID string) error {
	log := o.sagaLog(ctx, sagaID)

	_, err := o.mutate(ctx, sagaID, "expire", func(s *saga.Saga) (*change, error) {
		if s.IsTerminal() || !s.ExpiresAt.Before(o.now()) {
			return nil, nil
		}
		step := s.CurrentStep

		if s.Status == saga.StatusCompensating {
			s.AppendError(fmt.Sprintf("compensation timed out at %s", step))
			if err := s.TransitionTo(saga.StatusFailed); err != nil {
				return nil, err
			}
			return &change{after: func(s *saga.Saga) {
				o.metrics.CompensationFailed(string(step))
				log.With(
					logger.Step(string(step)),
					logger.String("error", s.ErrorMessage),
				).Error("[Reaper] 补偿超时，需要人工介入 (manual intervention required)")
			}}, nil
		}

		s.SetError(fmt.Sprintf("Expired: saga timed out at %s", step))
		c, err := o.beginCompensation(s)
		if err != nil {
			return nil, err
		}
		c.after = func(s *saga.Saga) {
			log.With(
				logger.Step(string(step)),
				logger.String("status", string(s.Status)),
			).Warn("[Reaper] saga 已超时")
		}
		return c, nil
	})
	return err
}

// Redrive 重新发布卡住 saga 的当前步骤命令并刷新更新时间.
//
// 记录在 olderThan 之后有过更新时不做任何事，同一次卡住在每个周期内只重驱一次.
func (o *Orchestrator) Redrive(ctx context.Context, sagaID string, olderThan time.Time) error {
	log := o.sagaLog(ctx, sagaID)

	_, err := o.mutate(ctx, sagaID, "redrive", func(s *saga.Saga) (*change, error) {
		if s.IsTerminal() || s.UpdatedAt.After(olderThan) {
			return nil, nil
		}

		step := s.CurrentStep
		payload, err := saga.CommandPayload(s, step)
		if err != nil {
			return nil, err
		}
		cmd := saga.NewCommand(s, step, payload, o.now())
		if s.Status == saga.StatusCompensating {
			cmd = saga.NewCompensationCommand(s, step, undoFor(s, step), payload, o.now())
		}
		return &change{
			publish: cmd,
			after: func(*saga.Saga) {
				log.With(
					logger.Step(string(step)),
					logger.String("status", string(s.Status)),
				).Warn("[Reaper] 重新发布卡住的步骤命令")
			},
		}, nil
	})
	return err
}
