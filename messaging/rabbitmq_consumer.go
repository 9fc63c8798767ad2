package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Tsukikage7/transit-checkout/logger"
)

// rabbitMQConsumer RabbitMQ 消费者.
//
// 每个消费者组对应一个持久队列，按主题绑定到交换机，组内实例竞争消费.
// 处理成功或转入死信后 Ack，消费者退出时未完成的消息 Nack 并重新入队.
type rabbitMQConsumer struct {
	conn    *rabbitMQConnection
	channel *amqp.Channel
	mu      sync.RWMutex
	closed  atomic.Bool
	groupID string

	consuming atomic.Bool
	cancel    context.CancelFunc

	exchange      string
	exchangeType  string
	durable       bool
	prefetchCount int
	opts          *options
	dlqProducer   *rabbitMQProducer
}

func newRabbitMQConsumer(cfg *Config, groupID string, o *options) (*rabbitMQConsumer, error) {
	if groupID == "" {
		return nil, ErrEmptyGroupID
	}
	if cfg.URL == "" {
		return nil, ErrNoBrokers
	}

	c := &rabbitMQConsumer{
		groupID:       groupID,
		exchange:      cfg.RabbitMQ.Exchange,
		exchangeType:  cfg.RabbitMQ.ExchangeType,
		durable:       cfg.RabbitMQ.Durable,
		prefetchCount: cfg.RabbitMQ.PrefetchCount,
		opts:          o,
	}

	conn, err := newRabbitMQConnection(cfg.URL, o)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	if err := c.setupChannel(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if o.deadLetter {
		dlq, err := newRabbitMQProducer(cfg, o)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.dlqProducer = dlq
	}
	return c, nil
}

func (c *rabbitMQConsumer) setupChannel() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return errors.Join(ErrCreateConsumer, err)
	}

	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("设置 QoS 失败: %w", err)
	}

	if err := declareExchange(ch, c.exchange, c.exchangeType, c.durable); err != nil {
		_ = ch.Close()
		return err
	}

	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()
	return nil
}

// Consume 阻塞消费，直到 ctx 取消或 Close.
//
// 连接断开后等待重连通知并重新声明队列.
func (c *rabbitMQConsumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if c.closed.Load() {
		return ErrConsumerClosed
	}
	if len(topics) == 0 {
		return ErrNoTopics
	}
	if handler == nil {
		return ErrNilHandler
	}
	if c.consuming.Swap(true) {
		return ErrAlreadyConsuming
	}
	defer c.consuming.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	d := newDispatcher(TypeRabbitMQ, c.groupID, handler, c.opts)
	if c.dlqProducer != nil {
		d.deadLetter = func(ctx context.Context, msg *Message) error {
			_, err := c.dlqProducer.SendMessage(ctx, msg)
			return err
		}
	}

	log := c.conn.logger.With(logger.String("group", c.groupID))

	deliveries, err := c.setupQueue(topics)
	if err != nil {
		return err
	}
	log.With(logger.Any("topics", topics)).Info("[Messaging] 开始消费队列")

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-c.conn.ReconnectNotify():
			if err := c.setupChannel(); err != nil {
				log.With(logger.Err(err)).Error("[Messaging] 重建消费者 channel 失败")
				continue
			}
			if deliveries, err = c.setupQueue(topics); err != nil {
				log.With(logger.Err(err)).Error("[Messaging] 重新声明队列失败")
			}

		case delivery, ok := <-deliveries:
			if !ok {
				// channel 已关闭，等待重连通知
				deliveries = nil
				continue
			}

			if d.process(ctx, fromDelivery(&delivery)) {
				_ = delivery.Ack(false)
			} else {
				_ = delivery.Nack(false, true)
			}
		}
	}
}

func (c *rabbitMQConsumer) setupQueue(topics []string) (<-chan amqp.Delivery, error) {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil {
		return nil, ErrNoBrokersAvailable
	}

	queue, err := ch.QueueDeclare(c.groupID, c.durable, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("声明队列失败: %w", err)
	}

	if c.exchange != "" {
		for _, topic := range topics {
			if err := ch.QueueBind(queue.Name, topic, c.exchange, false, nil); err != nil {
				return nil, fmt.Errorf("绑定队列失败: %w", err)
			}
		}
	}

	deliveries, err := ch.Consume(queue.Name, c.groupID, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("启动消费失败: %w", err)
	}
	return deliveries, nil
}

func fromDelivery(delivery *amqp.Delivery) *Message {
	msg := &Message{
		Topic:     delivery.RoutingKey,
		Key:       []byte(delivery.MessageId),
		Value:     delivery.Body,
		Timestamp: delivery.Timestamp,
		Offset:    int64(delivery.DeliveryTag),
		Headers:   make(map[string]string, len(delivery.Headers)),
	}
	for k, v := range delivery.Headers {
		if str, ok := v.(string); ok {
			msg.Headers[k] = str
		}
	}
	return msg
}

// Close 停止消费并释放资源，重复调用是安全的.
func (c *rabbitMQConsumer) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.channel != nil {
		_ = c.channel.Close()
	}
	c.mu.Unlock()

	var errs []error
	if c.dlqProducer != nil {
		errs = append(errs, c.dlqProducer.Close())
	}
	errs = append(errs, c.conn.Close())
	return errors.Join(errs...)
}
