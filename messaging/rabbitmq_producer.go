package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// rabbitMQProducer RabbitMQ 生产者.
//
// 消息发布到 topic 交换机，路由键为消息主题，消息键写入 MessageId.
// 启用发布确认时每条消息等待 broker ack.
type rabbitMQProducer struct {
	conn    *rabbitMQConnection
	channel *amqp.Channel
	mu      sync.Mutex
	closed  atomic.Bool

	exchange     string
	exchangeType string
	durable      bool
	confirm      bool
	opts         *options
}

func newRabbitMQProducer(cfg *Config, o *options) (*rabbitMQProducer, error) {
	if cfg.URL == "" {
		return nil, ErrNoBrokers
	}

	p := &rabbitMQProducer{
		exchange:     cfg.RabbitMQ.Exchange,
		exchangeType: cfg.RabbitMQ.ExchangeType,
		durable:      cfg.RabbitMQ.Durable,
		confirm:      cfg.RabbitMQ.Confirm,
		opts:         o,
	}

	conn, err := newRabbitMQConnection(cfg.URL, o)
	if err != nil {
		return nil, err
	}
	p.conn = conn

	if err := p.setupChannel(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go p.handleReconnect()
	return p, nil
}

func (p *rabbitMQProducer) setupChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return errors.Join(ErrCreateProducer, err)
	}

	if err := declareExchange(ch, p.exchange, p.exchangeType, p.durable); err != nil {
		_ = ch.Close()
		return err
	}

	if p.confirm {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return fmt.Errorf("启用发布确认失败: %w", err)
		}
	}

	p.mu.Lock()
	p.channel = ch
	p.mu.Unlock()
	return nil
}

func declareExchange(ch *amqp.Channel, name, kind string, durable bool) error {
	if name == "" {
		return nil
	}
	if err := ch.ExchangeDeclare(name, kind, durable, false, false, false, nil); err != nil {
		return fmt.Errorf("声明交换机失败: %w", err)
	}
	return nil
}

func (p *rabbitMQProducer) handleReconnect() {
	for range p.conn.ReconnectNotify() {
		if p.closed.Load() {
			return
		}

		p.mu.Lock()
		if p.channel != nil {
			_ = p.channel.Close()
		}
		p.mu.Unlock()

		if err := p.setupChannel(); err != nil {
			p.conn.logger.Errorf("[Messaging] 重建生产者 channel 失败: %v", err)
		} else {
			p.conn.logger.Info("[Messaging] 生产者 channel 重建成功")
		}
	}
}

// SendMessage 发布消息，启用确认时阻塞到 broker ack.
func (p *rabbitMQProducer) SendMessage(ctx context.Context, msg *Message) (*Message, error) {
	if p.closed.Load() {
		return nil, ErrProducerClosed
	}

	return instrumentedSend(ctx, p.opts, TypeRabbitMQ, msg, func(ctx context.Context, out *Message) (*Message, error) {
		publishing := amqp.Publishing{
			ContentType:  "application/json",
			Body:         out.Value,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			MessageId:    string(out.Key),
		}
		if len(out.Headers) > 0 {
			publishing.Headers = make(amqp.Table, len(out.Headers))
			for k, v := range out.Headers {
				publishing.Headers[k] = v
			}
		}

		// channel 不是并发安全的，发布与等待确认串行进行
		p.mu.Lock()
		defer p.mu.Unlock()

		if p.channel == nil {
			return nil, ErrNoBrokersAvailable
		}

		if !p.confirm {
			if err := p.channel.PublishWithContext(ctx, p.exchange, out.Topic, false, false, publishing); err != nil {
				return nil, errors.Join(ErrSendMessage, err)
			}
			out.Timestamp = publishing.Timestamp
			return out, nil
		}

		confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, p.exchange, out.Topic, false, false, publishing)
		if err != nil {
			return nil, errors.Join(ErrSendMessage, err)
		}
		acked, err := confirmation.WaitContext(ctx)
		if err != nil {
			return nil, errors.Join(ErrSendMessage, err)
		}
		if !acked {
			return nil, fmt.Errorf("%w: broker nack", ErrSendMessage)
		}

		out.Offset = int64(confirmation.DeliveryTag)
		out.Timestamp = publishing.Timestamp
		return out, nil
	})
}

// Close 关闭生产者，重复调用是安全的.
func (p *rabbitMQProducer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	p.mu.Lock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	p.mu.Unlock()

	return p.conn.Close()
}
