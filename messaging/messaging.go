// Package messaging 提供事件总线的生产者与消费者抽象.
//
// 支持 Kafka、RabbitMQ 以及进程内的 memory 实现，通过 Config.Type 切换.
// 所有实现都提供至少一次投递语义：handler 返回错误时消息会被重新投递，
// 重试耗尽后转入死信主题 <topic>.dlq.
//
// 示例:
//
//	client, _ := messaging.NewClient(cfg, messaging.WithLogger(log), messaging.WithMetrics(collector))
//	defer client.Close()
//
//	producer, _ := client.Producer()
//	producer.SendMessage(ctx, &messaging.Message{Topic: "saga.outcome", Key: []byte(id), Value: body})
//
//	consumer, _ := client.Consumer("checkout-orchestrator")
//	consumer.Consume(ctx, []string{"saga.outcome"}, func(ctx context.Context, msg *messaging.Message) error {
//	    return nil
//	})
package messaging

import (
	"context"
	"errors"
	"sync"
)

// MessageHandler 消息处理函数.
//
// ctx 中携带从消息头恢复的追踪上下文. 返回 nil 表示处理成功并确认消息.
type MessageHandler func(ctx context.Context, msg *Message) error

// Producer 生产者接口.
type Producer interface {
	// SendMessage 发送单条消息，返回服务端填充了分区与偏移量的消息.
	SendMessage(ctx context.Context, msg *Message) (*Message, error)
	// Close 关闭生产者.
	Close() error
}

// Consumer 消费者接口.
type Consumer interface {
	// Consume 阻塞消费 topics，直到 ctx 取消或消费者关闭.
	Consume(ctx context.Context, topics []string, handler MessageHandler) error
	// Close 关闭消费者.
	Close() error
}

// Client 消息队列客户端.
//
// 统一管理生产者和消费者的生命周期，Close 时关闭所有由它创建的实例.
// memory 类型下，同一个 Client 创建的生产者和消费者共享一个进程内总线.
type Client struct {
	cfg       *Config
	opts      *options
	memory    *MemoryBus
	producers []Producer
	consumers []Consumer
	mu        sync.Mutex
	closed    bool
}

// NewClient 创建消息队列客户端.
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := newOptions(cfg, opts...)
	c := &Client{cfg: cfg, opts: o}
	if cfg.Type == TypeMemory {
		c.memory = newMemoryBus(o)
	}

	if o.logger != nil {
		o.logger.Debugf("[Messaging] 客户端已创建: type=%s", cfg.Type)
	}
	return c, nil
}

// Type 返回消息队列类型.
func (c *Client) Type() string {
	return c.cfg.Type
}

// Producer 创建生产者.
func (c *Client) Producer() (Producer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}

	var (
		p   Producer
		err error
	)
	switch c.cfg.Type {
	case TypeKafka:
		p, err = newKafkaProducer(c.cfg, c.opts)
	case TypeRabbitMQ:
		p, err = newRabbitMQProducer(c.cfg, c.opts)
	case TypeMemory:
		p = c.memory.Producer()
	default:
		err = ErrUnsupportedType
	}
	if err != nil {
		return nil, err
	}

	c.producers = append(c.producers, p)
	return p, nil
}

// Consumer 创建属于 groupID 消费者组的消费者.
//
// 同组消费者竞争消费，不同组各自收到全部消息.
func (c *Client) Consumer(groupID string) (Consumer, error) {
	if groupID == "" {
		return nil, ErrEmptyGroupID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}

	var (
		cons Consumer
		err  error
	)
	switch c.cfg.Type {
	case TypeKafka:
		cons, err = newKafkaConsumer(c.cfg, groupID, c.opts)
	case TypeRabbitMQ:
		cons, err = newRabbitMQConsumer(c.cfg, groupID, c.opts)
	case TypeMemory:
		cons = c.memory.Consumer(groupID)
	default:
		err = ErrUnsupportedType
	}
	if err != nil {
		return nil, err
	}

	c.consumers = append(c.consumers, cons)
	return cons, nil
}

// Close 关闭客户端及其创建的所有生产者和消费者，重复调用是安全的.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for _, cons := range c.consumers {
		if err := cons.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range c.producers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.memory != nil {
		c.memory.Close()
	}
	return errors.Join(errs...)
}
