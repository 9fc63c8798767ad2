package scheduler

import (
	"time"

	"github.com/Tsukikage7/transit-checkout/lock"
	"github.com/Tsukikage7/transit-checkout/logger"
)

// Option 调度器配置选项.
type Option func(*options)

type options struct {
	log             logger.Logger
	locker          lock.Locker
	lockPrefix      string
	jobTimeout      time.Duration
	lockTTL         time.Duration
	shutdownTimeout time.Duration
	observer        Observer
}

// Observer 每次执行结束后回调，skipped 为 true 时 err 为空.
type Observer func(job string, d time.Duration, skipped bool, err error)

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithLocker 设置分布式锁，配合 Job.Distributed 使用.
func WithLocker(l lock.Locker) Option {
	return func(o *options) { o.locker = l }
}

// WithJobTimeout 设置未单独指定超时的任务的超时时间，默认 1 分钟.
func WithJobTimeout(d time.Duration) Option {
	return func(o *options) { o.jobTimeout = d }
}

// WithLockTTL 设置分布式锁过期时间，默认为任务超时加 30 秒.
func WithLockTTL(d time.Duration) Option {
	return func(o *options) { o.lockTTL = d }
}

// WithShutdownTimeout 设置 Run 退出时等待执行中任务的时间，默认 10 秒.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) { o.shutdownTimeout = d }
}

// WithObserver 设置执行结果回调.
func WithObserver(fn Observer) Option {
	return func(o *options) { o.observer = fn }
}

func newOptions(opts []Option) *options {
	o := &options{
		lockPrefix:      "scheduler:",
		jobTimeout:      time.Minute,
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.NewNop()
	}
	return o
}

// lockTTLFor 锁必须覆盖整次执行.
func (o *options) lockTTLFor(job *Job) time.Duration {
	if o.lockTTL > job.Timeout {
		return o.lockTTL
	}
	return job.Timeout + 30*time.Second
}
