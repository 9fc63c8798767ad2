package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"

	"github.com/Tsukikage7/transit-checkout/logger"
)

// KafkaConsumer Kafka 消费者组.
//
// 关闭自动提交，消息处理完成（成功或转入死信）后才标记偏移量.
// 新消费者组从最早的偏移量开始消费，避免丢失加入之前发出的命令.
type KafkaConsumer struct {
	consumerGroup sarama.ConsumerGroup
	groupID       string
	opts          *options
	dlqProducer   *KafkaProducer
	dispatcher    *dispatcher
	consuming     atomic.Bool
	cancel        context.CancelFunc
	mu            sync.Mutex
}

func newKafkaConsumer(cfg *Config, groupID string, o *options) (*KafkaConsumer, error) {
	if groupID == "" {
		return nil, ErrEmptyGroupID
	}

	config := newKafkaConfig(cfg)
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Offsets.AutoCommit.Enable = false

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, config)
	if err != nil {
		return nil, errors.Join(ErrCreateConsumer, err)
	}

	c := &KafkaConsumer{
		consumerGroup: consumerGroup,
		groupID:       groupID,
		opts:          o,
	}

	if o.deadLetter {
		dlq, err := newKafkaProducer(cfg, o)
		if err != nil {
			_ = consumerGroup.Close()
			return nil, err
		}
		c.dlqProducer = dlq
	}

	if o.logger != nil {
		o.logger.With(
			logger.Any("brokers", cfg.Brokers),
			logger.String("groupID", groupID),
		).Debug("[Messaging] Kafka消费者启动")
	}
	return c, nil
}

// Consume 阻塞消费，直到 ctx 取消或 Close.
//
// 消费组重平衡或连接错误后按重连间隔重新加入.
func (c *KafkaConsumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
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

	c.dispatcher = newDispatcher(TypeKafka, c.groupID, handler, c.opts)
	if c.dlqProducer != nil {
		c.dispatcher.deadLetter = func(ctx context.Context, msg *Message) error {
			_, err := c.dlqProducer.SendMessage(ctx, msg)
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	go c.watchErrors(ctx)

	for {
		if err := c.consumerGroup.Consume(ctx, topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			if c.opts.logger != nil {
				c.opts.logger.With(logger.Err(err)).Error("[Messaging] 消费失败")
			}
			sleepContext(ctx, c.opts.reconnectInterval)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *KafkaConsumer) watchErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-c.consumerGroup.Errors():
			if !ok {
				return
			}
			if c.opts.logger != nil {
				c.opts.logger.With(logger.Err(err)).Warn("[Messaging] 消费者错误")
			}
		}
	}
}

// Close 停止消费并释放资源，重复调用是安全的.
func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	var errs []error
	if c.consumerGroup != nil {
		if err := c.consumerGroup.Close(); err != nil && !errors.Is(err, sarama.ErrClosedConsumerGroup) {
			errs = append(errs, err)
		}
	}
	if c.dlqProducer != nil {
		errs = append(errs, c.dlqProducer.Close())
	}
	return errors.Join(errs...)
}

// Setup 实现 sarama.ConsumerGroupHandler.
func (c *KafkaConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup 实现 sarama.ConsumerGroupHandler，提交已标记的偏移量.
func (c *KafkaConsumer) Cleanup(session sarama.ConsumerGroupSession) error {
	session.Commit()
	return nil
}

// ConsumeClaim 实现 sarama.ConsumerGroupHandler.
func (c *KafkaConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !c.dispatcher.process(session.Context(), fromSaramaMessage(msg)) {
				// 会话正在结束，不标记偏移量，消息在重平衡后重新投递
				return nil
			}
			session.MarkMessage(msg, "")
			session.Commit()

		case <-session.Context().Done():
			return nil
		}
	}
}

func fromSaramaMessage(msg *sarama.ConsumerMessage) *Message {
	message := &Message{
		Topic:     msg.Topic,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   make(map[string]string, len(msg.Headers)),
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Timestamp,
	}
	for _, header := range msg.Headers {
		if header == nil {
			continue
		}
		message.Headers[string(header.Key)] = string(header.Value)
	}
	return message
}
