package orchestrator

import (
	"context"
	"errors"

	"github.com/Tsukikage7/transit-checkout/logger"
	"github.com/Tsukikage7/transit-checkout/messaging"
	"github.com/Tsukikage7/transit-checkout/saga"
)

// Run 阻塞消费 saga.outcome，直到 ctx 取消或消费者关闭.
func (o *Orchestrator) Run(ctx context.Context, consumer messaging.Consumer) error {
	o.log.Infof("[Orchestrator] 开始消费结果事件: topic=%s", saga.OutcomeTopic)
	return consumer.Consume(ctx, []string{saga.OutcomeTopic}, o.HandleMessage)
}

// HandleMessage 处理一条结果消息.
//
// 无法解析或无法应用的事件被记录后确认；存储、版本冲突耗尽与发布失败返回错误以便重投.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg *messaging.Message) error {
	e, err := saga.FromMessage(msg)
	if err != nil {
		o.log.WithContext(ctx).With(
			logger.String("topic", msg.Topic),
			logger.Int64("offset", msg.Offset),
			logger.Err(err),
		).Error("[Orchestrator] 丢弃无法解析的结果事件")
		return nil
	}

	err = o.OnStepOutcome(ctx, e)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, saga.ErrMalformedEvent), errors.Is(err, saga.ErrInvalidTransition):
		o.sagaLog(ctx, e.SagaID).With(
			logger.Step(string(e.Step)),
			logger.String("status", string(e.Status)),
			logger.Err(err),
		).Error("[Orchestrator] 结果事件无法应用，已丢弃")
		return nil
	default:
		o.sagaLog(ctx, e.SagaID).With(
			logger.Step(string(e.Step)),
			logger.Int("attempt", msg.Attempt),
			logger.Err(err),
		).Warn("[Orchestrator] 处理结果事件失败，等待重投")
		return err
	}
}
