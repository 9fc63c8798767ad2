// Package step 实现结账 saga 的步骤处理器.
//
// 每个处理器消费自己的命令主题 saga.<step>，调用下游服务后向 saga.outcome
// 发布且只发布一个结果事件. 处理器不会把错误抛给总线，失败一律转为 FAILED 结果；
// 只有幂等锁冲突或发布失败这类基础设施错误才会让总线重新投递.
//
// 基本用法:
//
//	caller := step.NewCaller(step.DefaultConfig(), log)
//	w := step.NewWorker(client.Consumer, publisher, idemStore, step.WithLogger(log))
//	w.Register(step.Handlers(deps, caller)...)
//	w.Run(ctx)
package step

import (
	"context"
	"errors"

	"github.com/Tsukikage7/transit-checkout/collaborator"
	"github.com/Tsukikage7/transit-checkout/saga"
)

// ErrUnexpectedEvent 事件与处理器不匹配.
var ErrUnexpectedEvent = errors.New("step: unexpected event")

// Handler 步骤处理器.
type Handler interface {
	// Step 处理器负责的步骤.
	Step() saga.Step

	// Handle 执行步骤并返回结果 payload，错误会被转为 FAILED 结果.
	Handle(ctx context.Context, e *saga.Event) (map[string]any, error)
}

// Dependencies 处理器依赖的下游服务.
type Dependencies struct {
	Catalog   collaborator.Catalog
	Discounts collaborator.Discounts
	Orders    collaborator.Orders
	Payments  *collaborator.PaymentRouter
	Tickets   collaborator.Tickets
}

// Handlers 创建全部正向与补偿处理器.
func Handlers(deps *Dependencies, caller *Caller) []Handler {
	return []Handler{
		&validateItems{catalog: deps.Catalog, call: caller},
		&calculatePricing{catalog: deps.Catalog, call: caller},
		&applyDiscounts{discounts: deps.Discounts, call: caller},
		&createOrder{orders: deps.Orders, call: caller},
		&processPayment{payments: deps.Payments, call: caller},
		&generateTickets{tickets: deps.Tickets, call: caller},
		&cancelPayment{payments: deps.Payments, call: caller},
		&cancelOrder{orders: deps.Orders, call: caller},
		&releaseDiscounts{discounts: deps.Discounts, call: caller},
		&cleanupItems{catalog: deps.Catalog, call: caller},
	}
}

// HandlerFunc 函数适配器.
type HandlerFunc struct {
	Name saga.Step
	Fn   func(ctx context.Context, e *saga.Event) (map[string]any, error)
}

// Step 实现 Handler.
func (h HandlerFunc) Step() saga.Step { return h.Name }

// Handle 实现 Handler.
func (h HandlerFunc) Handle(ctx context.Context, e *saga.Event) (map[string]any, error) {
	return h.Fn(ctx, e)
}

// decode 校验事件步骤并解析命令 payload.
func decode(e *saga.Event, step saga.Step, cmd any) error {
	if e == nil || e.Step != step {
		return ErrUnexpectedEvent
	}
	return saga.FromPayload(e.Payload, cmd)
}

// ignoreNotFound 补偿时"没有可撤销的内容"视为成功.
func ignoreNotFound(err error) error {
	if errors.Is(err, collaborator.ErrNotFound) {
		return nil
	}
	return err
}
