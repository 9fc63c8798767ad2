package app

import (
	"context"
	"sync"
)

// RunFunc 阻塞运行直到 ctx 取消.
type RunFunc func(ctx context.Context) error

// Runner 把阻塞的消费循环适配为 Server.
//
// Stop 取消传给 RunFunc 的 ctx 并等待其返回.
type Runner struct {
	name string
	run  RunFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner 创建 Runner.
func NewRunner(name string, run RunFunc) *Runner {
	return &Runner{name: name, run: run}
}

// Start 运行 RunFunc.
func (r *Runner) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	r.cancel, r.done = cancel, done
	r.mu.Unlock()

	defer close(done)
	defer cancel()
	return r.run(ctx)
}

// Stop 取消运行并等待退出，ctx 到期时提前返回.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name 名称.
func (r *Runner) Name() string {
	return r.name
}

// Addr Runner 不监听地址.
func (r *Runner) Addr() string {
	return "-"
}
