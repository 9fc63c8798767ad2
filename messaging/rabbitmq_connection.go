package messaging

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Tsukikage7/transit-checkout/logger"
)

// rabbitMQConnection RabbitMQ 连接管理器，断线后自动重连.
type rabbitMQConnection struct {
	url            string
	conn           *amqp.Connection
	mu             sync.RWMutex
	closed         atomic.Bool
	reconnectDelay time.Duration
	maxRetries     int
	logger         logger.Logger

	notifyClose chan *amqp.Error
	reconnectCh chan struct{}
}

// dialAMQP 建立 AMQP 连接，测试中可替换.
var dialAMQP = amqp.Dial

func newRabbitMQConnection(url string, o *options) (*rabbitMQConnection, error) {
	c := &rabbitMQConnection{
		url:            url,
		reconnectDelay: 5 * time.Second,
		maxRetries:     -1,
		logger:         o.logger,
		reconnectCh:    make(chan struct{}, 1),
	}
	if o.reconnectInterval > 0 {
		c.reconnectDelay = o.reconnectInterval
	}
	if c.logger == nil {
		c.logger = logger.NewNop()
	}

	if err := c.connect(); err != nil {
		return nil, errors.Join(ErrCreateClient, err)
	}

	go c.handleReconnect()
	return c, nil
}

func (c *rabbitMQConnection) connect() error {
	conn, err := dialAMQP(c.url)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.notifyClose = conn.NotifyClose(make(chan *amqp.Error, 1))
	c.mu.Unlock()

	c.logger.Info("[Messaging] RabbitMQ 连接已建立")
	return nil
}

func (c *rabbitMQConnection) handleReconnect() {
	for {
		c.mu.RLock()
		notify := c.notifyClose
		c.mu.RUnlock()

		err, ok := <-notify
		if !ok || c.closed.Load() {
			return
		}
		c.logger.With(logger.Err(err)).Warn("[Messaging] RabbitMQ 连接断开，开始重连")

		for retries := 0; ; {
			if c.closed.Load() {
				return
			}
			if c.maxRetries > 0 && retries >= c.maxRetries {
				c.logger.Error("[Messaging] RabbitMQ 重连失败，已达最大重试次数")
				return
			}

			time.Sleep(c.reconnectDelay)

			if err := c.connect(); err != nil {
				retries++
				c.logger.With(logger.Int("retries", retries), logger.Err(err)).Warn("[Messaging] RabbitMQ 重连失败")
				continue
			}

			select {
			case c.reconnectCh <- struct{}{}:
			default:
			}
			break
		}
	}
}

// Channel 在当前连接上打开新的 channel.
func (c *rabbitMQConnection) Channel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if c.conn == nil {
		return nil, ErrNoBrokersAvailable
	}
	return c.conn.Channel()
}

// ReconnectNotify 返回重连成功通知.
func (c *rabbitMQConnection) ReconnectNotify() <-chan struct{} {
	return c.reconnectCh
}

// Close 关闭连接，重复调用是安全的.
func (c *rabbitMQConnection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}
