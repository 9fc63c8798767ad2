package app

import (
	"context"
	"errors"
	"fmt"
)

// Phase 生命周期阶段.
type Phase int

const (
	// PhaseBeforeStart Server 启动前，任一钩子失败则中止启动.
	PhaseBeforeStart Phase = iota
	// PhaseAfterStart Server 启动后.
	PhaseAfterStart
	// PhaseBeforeStop 停止 Server 之前，如摘除就绪状态.
	PhaseBeforeStop
	// PhaseAfterStop 清理任务完成之后.
	PhaseAfterStop

	phaseCount
)

func (p Phase) String() string {
	switch p {
	case PhaseBeforeStart:
		return "before start"
	case PhaseAfterStart:
		return "after start"
	case PhaseBeforeStop:
		return "before stop"
	case PhaseAfterStop:
		return "after stop"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Hook 生命周期钩子函数.
type Hook func(ctx context.Context) error

type namedHook struct {
	name string
	fn   Hook
}

// Hooks 按阶段登记的钩子，同一阶段按登记顺序执行.
type Hooks struct {
	phases [phaseCount][]namedHook
}

// run 执行 p 阶段的钩子.
//
// 启动前阶段遇错即返回；其他阶段执行全部钩子并合并错误.
func (h *Hooks) run(ctx context.Context, p Phase) error {
	if h == nil {
		return nil
	}
	var errs []error
	for _, hook := range h.phases[p] {
		if err := hook.fn(ctx); err != nil {
			err = fmt.Errorf("%s hook %s: %w", p, hook.name, err)
			if p == PhaseBeforeStart {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len 返回 p 阶段的钩子数.
func (h *Hooks) Len(p Phase) int {
	if h == nil || p < 0 || p >= phaseCount {
		return 0
	}
	return len(h.phases[p])
}

// HooksBuilder 钩子构建器.
type HooksBuilder struct {
	hooks *Hooks
}

// NewHooks 创建钩子构建器.
//
//	hooks := app.NewHooks().
//	    On(app.PhaseBeforeStop, "drain", func(context.Context) error { hc.Drain(); return nil }).
//	    Build()
func NewHooks() *HooksBuilder {
	return &HooksBuilder{hooks: &Hooks{}}
}

// On 在 p 阶段登记具名钩子.
func (b *HooksBuilder) On(p Phase, name string, hook Hook) *HooksBuilder {
	if p < 0 || p >= phaseCount || hook == nil {
		return b
	}
	b.hooks.phases[p] = append(b.hooks.phases[p], namedHook{name: name, fn: hook})
	return b
}

func (b *HooksBuilder) anonymous(p Phase, hook Hook) *HooksBuilder {
	return b.On(p, fmt.Sprintf("#%d", b.hooks.Len(p)+1), hook)
}

// BeforeStart 添加启动前钩子.
func (b *HooksBuilder) BeforeStart(hook Hook) *HooksBuilder {
	return b.anonymous(PhaseBeforeStart, hook)
}

// AfterStart 添加启动后钩子.
func (b *HooksBuilder) AfterStart(hook Hook) *HooksBuilder {
	return b.anonymous(PhaseAfterStart, hook)
}

// BeforeStop 添加停止前钩子.
func (b *HooksBuilder) BeforeStop(hook Hook) *HooksBuilder {
	return b.anonymous(PhaseBeforeStop, hook)
}

// AfterStop 添加停止后钩子.
func (b *HooksBuilder) AfterStop(hook Hook) *HooksBuilder {
	return b.anonymous(PhaseAfterStop, hook)
}

// Build 构建钩子.
func (b *HooksBuilder) Build() *Hooks {
	return b.hooks
}
