package messaging

import (
	"context"
	"maps"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Tsukikage7/transit-checkout/logger"
	"github.com/Tsukikage7/transit-checkout/tracing"
)

// 死信消息头.
const (
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderConsumerGroup = "x-consumer-group"
	HeaderAttempts      = "x-attempts"
)

// sendFunc 驱动层的实际发送函数.
type sendFunc func(ctx context.Context, msg *Message) (*Message, error)

// instrumentedSend 为发送加上追踪与指标.
//
// 追踪上下文写入消息头副本，调用方传入的 msg 不会被修改.
func instrumentedSend(ctx context.Context, o *options, system string, msg *Message, send sendFunc) (*Message, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	if msg.Topic == "" {
		return nil, ErrEmptyTopic
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartProducerSpan(ctx, msg.Topic, attribute.String("messaging.system", system))
	defer span.End()

	out := msg.Clone()
	out.Headers = tracing.InjectHeaders(ctx, maps.Clone(msg.Headers))

	result, err := send(ctx, out)
	o.metrics.MessagePublished(msg.Topic, err)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

// dispatcher 消费端的公共处理流程: 追踪、重投、指标与死信.
type dispatcher struct {
	system  string
	groupID string
	handler MessageHandler
	opts    *options
	// deadLetter 发送死信，nil 表示未启用.
	deadLetter func(ctx context.Context, msg *Message) error
	// sleep 可在测试中替换.
	sleep func(ctx context.Context, d time.Duration)
}

func newDispatcher(system, groupID string, handler MessageHandler, o *options) *dispatcher {
	return &dispatcher{
		system:  system,
		groupID: groupID,
		handler: handler,
		opts:    o,
		sleep:   sleepContext,
	}
}

// process 处理单条消息，直到成功、重试耗尽或 ctx 取消.
//
// 返回 true 表示消息可以确认（成功或已转入死信）；
// 返回 false 表示消费者正在退出，消息应留待重新投递.
func (d *dispatcher) process(ctx context.Context, msg *Message) bool {
	start := time.Now()

	ctx, span := tracing.StartConsumerSpan(ctx, msg.Topic, msg.Headers,
		attribute.String("messaging.system", d.system),
		attribute.String("messaging.consumer.group.name", d.groupID),
	)
	defer span.End()

	log := d.logger(ctx)

	var lastErr error
	maxAttempts := d.opts.maxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		msg.Attempt = attempt
		lastErr = d.safeHandle(ctx, msg)
		if lastErr == nil {
			d.opts.metrics.MessageConsumed(msg.Topic, "ack", time.Since(start))
			return true
		}
		if ctx.Err() != nil {
			d.opts.metrics.MessageConsumed(msg.Topic, "abandoned", time.Since(start))
			return false
		}
		if attempt < maxAttempts {
			backoff := d.opts.retryInterval * time.Duration(1<<(attempt-1))
			log.With(
				logger.Duration("backoff", backoff),
				logger.Int("attempt", attempt),
				logger.Int("maxRetries", d.opts.maxRetries),
				logger.String("topic", msg.Topic),
				logger.Err(lastErr),
			).Warn("[Messaging] 消息处理失败，即将重投")
			d.opts.metrics.Counter("messaging_redeliveries_total", map[string]string{"topic": msg.Topic})
			d.sleep(ctx, backoff)
		}
	}

	tracing.RecordError(span, lastErr)
	log.With(
		logger.String("topic", msg.Topic),
		logger.String("group", d.groupID),
		logger.Int("attempts", maxAttempts),
		logger.Err(lastErr),
	).Error("[Messaging] 消息处理失败，重投耗尽")

	if d.deadLetter == nil {
		d.opts.metrics.MessageConsumed(msg.Topic, "dropped", time.Since(start))
		return true
	}

	dlq := d.deadLetterMessage(msg, lastErr, maxAttempts)
	if err := d.deadLetter(ctx, dlq); err != nil {
		log.With(
			logger.String("topic", msg.Topic),
			logger.Err(err),
		).Error("[Messaging] 发送死信失败")
		d.opts.metrics.MessageConsumed(msg.Topic, "dlq_failed", time.Since(start))
		return false
	}
	log.With(
		logger.String("originalTopic", msg.Topic),
		logger.String("dlqTopic", dlq.Topic),
	).Warn("[Messaging] 消息已转入死信主题")
	d.opts.metrics.MessageConsumed(msg.Topic, "dlq", time.Since(start))
	return true
}

// safeHandle 调用 handler 并把 panic 转为错误.
func (d *dispatcher) safeHandle(ctx context.Context, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return d.handler(ctx, msg)
}

func (d *dispatcher) deadLetterMessage(msg *Message, cause error, attempts int) *Message {
	headers := map[string]string{
		HeaderOriginalTopic: msg.Topic,
		HeaderErrorMessage:  cause.Error(),
		HeaderConsumerGroup: d.groupID,
		HeaderAttempts:      strconv.Itoa(attempts),
	}
	for k, v := range msg.Headers {
		if _, exists := headers[k]; !exists {
			headers[k] = v
		}
	}
	return &Message{
		Topic:   DeadLetterTopic(msg.Topic),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}

func (d *dispatcher) logger(ctx context.Context) logger.Logger {
	if d.opts.logger == nil {
		return logger.NewNop()
	}
	return d.opts.logger.WithContext(ctx)
}

// panicError handler panic 转换而来的错误.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return "messaging: handler panic: " + toString(e.value)
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case error:
		return x.Error()
	default:
		return "non-error panic value"
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
