package saga

import (
	"context"
	"fmt"

	"github.com/Tsukikage7/transit-checkout/logger"
	"github.com/Tsukikage7/transit-checkout/messaging"
)

// Publisher 事件发布接口.
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// BusPublisher 基于 messaging.Producer 的发布器.
//
// 事件以 JSON 编码，消息键为 saga ID，主题由事件推导.
type BusPublisher struct {
	producer messaging.Producer
	log      logger.Logger
}

// NewPublisher 创建发布器.
func NewPublisher(producer messaging.Producer, log logger.Logger) *BusPublisher {
	if log == nil {
		log = logger.NewNop()
	}
	return &BusPublisher{producer: producer, log: log}
}

// Publish 发布事件.
func (p *BusPublisher) Publish(ctx context.Context, e *Event) error {
	msg, err := ToMessage(e)
	if err != nil {
		return err
	}
	if _, err := p.producer.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("saga: publish %s to %s: %w", e.Step, msg.Topic, err)
	}
	p.log.WithContext(ctx).Debug("[Saga] 事件已发布",
		logger.SagaID(e.SagaID),
		logger.Step(string(e.Step)),
		logger.String("status", string(e.Status)),
		logger.String("topic", msg.Topic),
	)
	return nil
}

// ToMessage 将事件转换为总线消息.
func ToMessage(e *Event) (*messaging.Message, error) {
	body, err := EncodeEvent(e)
	if err != nil {
		return nil, err
	}
	return &messaging.Message{
		Topic:     e.Topic(),
		Key:       []byte(e.SagaID),
		Value:     body,
		Headers:   e.Headers(),
		Timestamp: e.Timestamp,
	}, nil
}

// FromMessage 从总线消息解析事件，缺失的关联 ID 从消息头补齐.
func FromMessage(msg *messaging.Message) (*Event, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformedEvent)
	}
	e, err := DecodeEvent(msg.Value)
	if err != nil {
		return nil, err
	}
	if e.CorrelationID == "" {
		e.CorrelationID = msg.Headers[HeaderCorrelationID]
	}
	return e, nil
}

// ContextWithEvent 将事件的关联 ID 写入 context.
func ContextWithEvent(ctx context.Context, e *Event) context.Context {
	return logger.ContextWithCorrelationID(ctx, e.CorrelationID)
}

var _ Publisher = (*BusPublisher)(nil)
