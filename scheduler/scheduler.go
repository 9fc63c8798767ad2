// Package scheduler 提供基于 robfig/cron 的周期任务调度.
//
// 表达式带秒字段 (秒 分 时 日 月 周)，也支持 @every 1m 这样的描述符.
// Singleton 任务在上一次执行未结束时跳过本次，Distributed 任务在多副本间
// 通过 lock.Locker 互斥，同一时刻只有一个实例执行.
//
//	s := scheduler.MustNew(
//	    scheduler.WithLogger(log),
//	    scheduler.WithLocker(lock.NewRedis(c)),
//	)
//	s.Add(scheduler.NewJob("reap-expired").
//	    Schedule("@every 30s").
//	    Handler(reaper.ReapExpired).
//	    Singleton().
//	    Distributed().
//	    MustBuild(),
//	)
//	err := s.Run(ctx)
package scheduler

import "context"

// Scheduler 调度器接口.
type Scheduler interface {
	// Add 添加任务，调度器运行中添加的任务立即生效.
	Add(job *Job) error
	// Get 获取任务.
	Get(name string) (*Job, bool)
	// Start 启动调度器.
	Start() error
	// Run 启动调度器并阻塞到 ctx 取消，随后等待执行中的任务结束.
	Run(ctx context.Context) error
	// Shutdown 停止调度并等待执行中的任务完成，超时后取消任务的 context.
	Shutdown(ctx context.Context) error
	// Trigger 立即触发一次执行，不影响正常调度.
	Trigger(name string) error
}

// New 创建调度器.
func New(opts ...Option) (Scheduler, error) {
	return newCronScheduler(newOptions(opts)), nil
}

// MustNew 创建调度器，失败时 panic.
func MustNew(opts ...Option) Scheduler {
	s, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return s
}
