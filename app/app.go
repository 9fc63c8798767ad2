// Package app 管理 checkoutd 进程的生命周期.
//
// 消费循环、调度器与 HTTP 服务都以 Server 的形式注册；任一 Server 返回错误、
// 收到退出信号或调用 Stop 时，应用按超时优雅关闭并依优先级执行清理任务.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	"github.com/Tsukikage7/transit-checkout/logger"
)

// ErrRunning 应用正在运行.
var ErrRunning = errors.New("app: 应用正在运行")

// Server 由应用管理生命周期的组件.
//
// Start 阻塞直到 ctx 取消或组件出错.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
	Addr() string
}

// Application 应用程序.
type Application struct {
	opts    *options
	servers []Server
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	running bool
}

// New 创建应用程序.
func New(opts ...Option) *Application {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Application{opts: o, ctx: ctx, cancel: cancel}
}

// Use 注册 Server.
func (a *Application) Use(servers ...Server) *Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.servers = append(a.servers, servers...)
	return a
}

// Run 启动所有 Server 并阻塞到关闭完成.
//
// 因 Server 出错而关闭时返回该错误.
func (a *Application) Run() error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrRunning
	}
	a.running = true
	servers := slices.Clone(a.servers)
	a.mu.Unlock()

	if err := a.opts.hooks.run(a.ctx, PhaseBeforeStart); err != nil {
		return err
	}

	a.opts.logger.With(
		logger.String("name", a.opts.name),
		logger.String("version", a.opts.version),
		logger.Int("servers", len(servers)),
	).Info("[App] starting")

	errCh := a.start(servers)

	if err := a.opts.hooks.run(a.ctx, PhaseAfterStart); err != nil {
		a.opts.logger.With(logger.Err(err)).Error("[App] after start hook failed")
	}

	runErr := a.wait(errCh)
	a.shutdown(servers)
	return runErr
}

// Stop 触发关闭.
func (a *Application) Stop() {
	a.cancel()
}

// Context 应用上下文，关闭时取消.
func (a *Application) Context() context.Context {
	return a.ctx
}

// Name 应用名称.
func (a *Application) Name() string {
	return a.opts.name
}

// Version 应用版本.
func (a *Application) Version() string {
	return a.opts.version
}

func (a *Application) start(servers []Server) <-chan error {
	errCh := make(chan error, len(servers))
	if len(servers) == 0 {
		a.opts.logger.Warn("[App] no servers registered")
		return errCh
	}

	for _, srv := range servers {
		go func() {
			a.opts.logger.With(
				logger.String("server", srv.Name()),
				logger.String("addr", srv.Addr()),
			).Info("[App] starting server")
			if err := srv.Start(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("app: server %s: %w", srv.Name(), err)
			}
		}()
	}
	return errCh
}

func (a *Application) wait(errCh <-chan error) error {
	signals := a.opts.signals
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.opts.logger.With(logger.String("signal", sig.String())).Info("[App] received signal")
		return nil
	case err := <-errCh:
		a.opts.logger.With(logger.Err(err)).Error("[App] server failed")
		return err
	case <-a.ctx.Done():
		a.opts.logger.Info("[App] context cancelled")
		return nil
	}
}

func (a *Application) shutdown(servers []Server) {
	a.opts.logger.With(logger.Duration("timeout", a.opts.gracefulTimeout)).Info("[App] shutting down")
	a.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), a.opts.gracefulTimeout)
	defer cancel()

	if err := a.opts.hooks.run(ctx, PhaseBeforeStop); err != nil {
		a.opts.logger.With(logger.Err(err)).Error("[App] before stop hook failed")
	}

	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Stop(ctx); err != nil {
				a.opts.logger.With(
					logger.String("server", srv.Name()),
					logger.Err(err),
				).Error("[App] server stop failed")
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.opts.logger.Info("[App] all servers stopped")
	case <-ctx.Done():
		a.opts.logger.Warn("[App] shutdown timeout")
	}

	a.runCleanups(ctx)

	if err := a.opts.hooks.run(context.Background(), PhaseAfterStop); err != nil {
		a.opts.logger.With(logger.Err(err)).Error("[App] after stop hook failed")
	}

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	a.opts.logger.Info("[App] stopped")
}

func (a *Application) runCleanups(ctx context.Context) {
	cleanups := slices.Clone(a.opts.cleanups)
	slices.SortStableFunc(cleanups, func(x, y Cleanup) int {
		return x.Priority - y.Priority
	})

	for _, c := range cleanups {
		if err := c.Fn(ctx); err != nil {
			a.opts.logger.With(
				logger.String("cleanup", c.Name),
				logger.Err(err),
			).Error("[App] cleanup failed")
			continue
		}
		a.opts.logger.With(logger.String("cleanup", c.Name)).Debug("[App] cleanup done")
	}
}
