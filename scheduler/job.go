package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// JobFunc 任务执行函数，ctx 在任务超时或调度器强制关闭时取消.
type JobFunc func(ctx context.Context) error

// Job 调度任务，由 NewJob 构建.
type Job struct {
	Name     string
	Schedule string
	Handler  JobFunc
	// Timeout 单次尝试的超时，零值取 WithJobTimeout
	Timeout     time.Duration
	Singleton   bool
	Distributed bool
	// RetryCount 失败后在同一次调度内的重试次数
	RetryCount    int
	RetryInterval time.Duration

	entryID int
	running atomic.Bool
	stats   stats
}

// Stats 任务执行统计快照.
type Stats struct {
	SuccessCount int64
	FailCount    int64
	SkipCount    int64
	LastRunAt    time.Time
	LastDuration time.Duration
	LastError    error
}

// RunCount 已执行的尝试次数，不含跳过.
func (s Stats) RunCount() int64 {
	return s.SuccessCount + s.FailCount
}

type stats struct {
	mu   sync.Mutex
	snap Stats
}

func (s *stats) record(d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastRunAt = time.Now()
	s.snap.LastDuration = d
	s.snap.LastError = err
	if err != nil {
		s.snap.FailCount++
	} else {
		s.snap.SuccessCount++
	}
}

func (s *stats) recordSkip() {
	s.mu.Lock()
	s.snap.SkipCount++
	s.mu.Unlock()
}

// Validate 验证任务配置.
func (j *Job) Validate() error {
	switch {
	case j.Name == "":
		return ErrJobNameEmpty
	case j.Schedule == "":
		return ErrScheduleEmpty
	case j.Handler == nil:
		return ErrHandlerNil
	}
	return nil
}

// Stats 返回统计快照.
func (j *Job) Stats() Stats {
	j.stats.mu.Lock()
	defer j.stats.mu.Unlock()
	return j.stats.snap
}

// JobBuilder 任务构建器.
type JobBuilder struct {
	job *Job
}

// NewJob 创建任务构建器.
func NewJob(name string) *JobBuilder {
	return &JobBuilder{job: &Job{Name: name}}
}

// Schedule 设置 cron 表达式或 @every 描述符.
func (b *JobBuilder) Schedule(expr string) *JobBuilder {
	b.job.Schedule = expr
	return b
}

func (b *JobBuilder) Handler(fn JobFunc) *JobBuilder {
	b.job.Handler = fn
	return b
}

func (b *JobBuilder) Timeout(d time.Duration) *JobBuilder {
	b.job.Timeout = d
	return b
}

// Singleton 上一次执行未结束时跳过本次.
func (b *JobBuilder) Singleton() *JobBuilder {
	b.job.Singleton = true
	return b
}

// Distributed 多副本间通过 Locker 互斥.
func (b *JobBuilder) Distributed() *JobBuilder {
	b.job.Distributed = true
	return b
}

func (b *JobBuilder) Retry(count int, interval time.Duration) *JobBuilder {
	b.job.RetryCount = count
	b.job.RetryInterval = interval
	return b
}

// Build 构建任务.
func (b *JobBuilder) Build() (*Job, error) {
	if err := b.job.Validate(); err != nil {
		return nil, err
	}
	return b.job, nil
}

// MustBuild 构建任务，失败时 panic.
func (b *JobBuilder) MustBuild() *Job {
	job, err := b.Build()
	if err != nil {
		panic(err)
	}
	return job
}
