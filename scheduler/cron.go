package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/robfig/cron/v3"

	"github.com/Tsukikage7/transit-checkout/logger"
)

// cronScheduler 基于 robfig/cron 的调度器实现.
type cronScheduler struct {
	cron *cron.Cron
	opts *options

	// ctx 为所有执行的父 context，Shutdown 超时后取消
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	jobs    map[string]*Job
	running bool
	closed  bool
}

func newCronScheduler(o *options) *cronScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &cronScheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger{o.log}))),
		opts:   o,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*Job),
	}
}

func (s *cronScheduler) Add(job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}
	if _, exists := s.jobs[job.Name]; exists {
		return ErrJobExists
	}
	if job.Timeout <= 0 {
		job.Timeout = s.opts.jobTimeout
	}
	if s.running {
		if err := s.schedule(job); err != nil {
			return err
		}
	}
	s.jobs[job.Name] = job

	s.opts.log.Debugf("[Scheduler] 添加任务 [job:%s] [schedule:%s] [distributed:%t]",
		job.Name, job.Schedule, job.Distributed)
	return nil
}

func (s *cronScheduler) Get(name string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[name]
	return job, ok
}

func (s *cronScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}
	if s.running {
		return nil
	}
	for _, job := range s.jobs {
		if err := s.schedule(job); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.running = true

	s.opts.log.Infof("[Scheduler] 调度器启动 [jobs:%d]", len(s.jobs))
	return nil
}

func (s *cronScheduler) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

func (s *cronScheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed, s.running = true, false
	s.mu.Unlock()

	stopped := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.opts.log.Info("[Scheduler] 调度器已停止")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.opts.log.Warn("[Scheduler] 等待任务结束超时，已取消执行中的任务")
		return ctx.Err()
	}
}

func (s *cronScheduler) Trigger(name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return ErrSchedulerClosed
	}
	if !ok {
		return ErrJobNotFound
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(job)
	}()
	return nil
}

// schedule 调用方持有 s.mu.
func (s *cronScheduler) schedule(job *Job) error {
	id, err := s.cron.AddFunc(job.Schedule, func() {
		s.wg.Add(1)
		defer s.wg.Done()
		s.execute(job)
	})
	if err != nil {
		return errors.Join(ErrScheduleInvalid, err)
	}
	job.entryID = int(id)
	return nil
}

func (s *cronScheduler) execute(job *Job) {
	if job.Singleton {
		if !job.running.CompareAndSwap(false, true) {
			s.skip(job, "上一次执行未结束")
			return
		}
		defer job.running.Store(false)
	}

	if job.Distributed && s.opts.locker != nil {
		key := s.opts.lockPrefix + job.Name
		acquired, err := s.opts.locker.TryLock(s.ctx, key, s.opts.lockTTLFor(job))
		if err != nil {
			s.opts.log.Errorf("[Scheduler] 获取分布式锁失败 [job:%s]: %v", job.Name, err)
			s.skip(job, "获取锁失败")
			return
		}
		if !acquired {
			s.skip(job, "其他实例持有锁")
			return
		}
		defer func() {
			if err := s.opts.locker.Unlock(context.WithoutCancel(s.ctx), key); err != nil {
				s.opts.log.Warnf("[Scheduler] 释放分布式锁失败 [job:%s]: %v", job.Name, err)
			}
		}()
	}

	s.runWithRetry(job)
}

func (s *cronScheduler) skip(job *Job, reason string) {
	job.stats.recordSkip()
	s.opts.log.Debugf("[Scheduler] 跳过执行 [job:%s]: %s", job.Name, reason)
	if s.opts.observer != nil {
		s.opts.observer(job.Name, 0, true, nil)
	}
}

// runWithRetry 每次尝试使用独立的超时，失败时按固定间隔重试.
func (s *cronScheduler) runWithRetry(job *Job) {
	attempt := 0
	_, err := backoff.Retry(s.ctx, func() (struct{}, error) {
		attempt++
		ctx, cancel := context.WithTimeout(s.ctx, job.Timeout)
		start := time.Now()
		err := job.Handler(ctx)
		d := time.Since(start)
		cancel()

		job.stats.record(d, err)
		if s.opts.observer != nil {
			s.opts.observer(job.Name, d, false, err)
		}
		if err != nil {
			s.opts.log.With(
				logger.String("job", job.Name),
				logger.Int("attempt", attempt),
				logger.Err(err),
			).Warn("[Scheduler] 任务执行失败")
			return struct{}{}, err
		}
		s.opts.log.Debugf("[Scheduler] 任务完成 [job:%s] [duration:%s]", job.Name, d)
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(job.RetryInterval)),
		backoff.WithMaxTries(uint(job.RetryCount+1)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		s.opts.log.Errorf("[Scheduler] 任务重试耗尽 [job:%s] [attempts:%d]: %v", job.Name, attempt, err)
	}
}

// cronLogger 将 robfig/cron 的日志接入 logger.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugf("[Scheduler] cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorf("[Scheduler] cron: %s %v: %v", msg, keysAndValues, err)
}
