package messaging

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryBus 进程内事件总线.
//
// 语义与 Kafka 消费者组一致:
//   - 每个主题保留一份有序日志，消费者组各自维护偏移量
//   - 组内多个消费者竞争消费，不同组各自收到全部消息
//   - 新加入的组从最早保留的消息开始消费
//   - handler 失败时按重投策略重新投递，耗尽后转入 <topic>.dlq
//
// 所有组都消费过的消息会被回收.
type MemoryBus struct {
	mu     sync.Mutex
	cond   *sync.Cond
	topics map[string]*memoryTopic
	groups map[string]*memoryGroup
	closed bool
	opts   *options
}

type memoryTopic struct {
	base int64 // msgs[0] 的偏移量
	msgs []*Message
}

type memoryGroup struct {
	offsets map[string]int64 // 下一条待投递消息的偏移量
}

// NewMemoryBus 创建进程内事件总线.
func NewMemoryBus(opts ...Option) *MemoryBus {
	return newMemoryBus(newOptions(nil, opts...))
}

func newMemoryBus(o *options) *MemoryBus {
	b := &MemoryBus{
		topics: make(map[string]*memoryTopic),
		groups: make(map[string]*memoryGroup),
		opts:   o,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Producer 返回总线的生产者.
func (b *MemoryBus) Producer() Producer {
	return &memoryProducer{bus: b}
}

// Consumer 返回属于 groupID 的消费者.
func (b *MemoryBus) Consumer(groupID string) Consumer {
	return &memoryConsumer{bus: b, groupID: groupID}
}

// Close 关闭总线并唤醒所有消费者.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Pending 返回 groupID 在 topic 上尚未投递的消息数，主要用于测试.
func (b *MemoryBus) Pending(groupID, topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		return 0
	}
	g, ok := b.groups[groupID]
	if !ok {
		return len(t.msgs)
	}
	off, ok := g.offsets[topic]
	if !ok {
		off = t.base
	}
	return int(t.base + int64(len(t.msgs)) - off)
}

func (b *MemoryBus) publish(msg *Message) (*Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrProducerClosed
	}

	t := b.topic(msg.Topic)
	stored := msg.Clone()
	stored.Offset = t.base + int64(len(t.msgs))
	stored.Timestamp = time.Now()
	t.msgs = append(t.msgs, stored)

	b.cond.Broadcast()
	return stored.Clone(), nil
}

func (b *MemoryBus) topic(name string) *memoryTopic {
	t, ok := b.topics[name]
	if !ok {
		t = &memoryTopic{}
		b.topics[name] = t
	}
	return t
}

// subscribe 注册消费组对主题的订阅，已订阅的主题保持原偏移量.
func (b *MemoryBus) subscribe(groupID string, topics []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.groups[groupID]
	if !ok {
		g = &memoryGroup{offsets: make(map[string]int64)}
		b.groups[groupID] = g
	}
	for _, name := range topics {
		if _, ok := g.offsets[name]; !ok {
			g.offsets[name] = b.topic(name).base
		}
	}
}

// next 阻塞直到 groupID 在 topics 上有可投递的消息，ctx 取消或总线关闭时返回 nil.
func (b *MemoryBus) next(ctx context.Context, groupID string, topics []string) *Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	g := b.groups[groupID]
	for {
		if b.closed || ctx.Err() != nil {
			return nil
		}
		for _, name := range topics {
			t := b.topics[name]
			off := g.offsets[name]
			if idx := off - t.base; idx < int64(len(t.msgs)) {
				g.offsets[name] = off + 1
				msg := t.msgs[idx].Clone()
				b.compact(name)
				return msg
			}
		}
		b.cond.Wait()
	}
}

// compact 回收所有订阅组都已消费的消息，调用方持有锁.
func (b *MemoryBus) compact(name string) {
	t := b.topics[name]
	low := t.base + int64(len(t.msgs))
	for _, g := range b.groups {
		if off, ok := g.offsets[name]; ok && off < low {
			low = off
		}
	}
	if drop := low - t.base; drop > 0 {
		t.msgs = append([]*Message(nil), t.msgs[drop:]...)
		t.base = low
	}
}

// memoryProducer 进程内生产者.
type memoryProducer struct {
	bus    *MemoryBus
	closed atomic.Bool
}

func (p *memoryProducer) SendMessage(ctx context.Context, msg *Message) (*Message, error) {
	if p.closed.Load() {
		return nil, ErrProducerClosed
	}
	return instrumentedSend(ctx, p.bus.opts, TypeMemory, msg, func(_ context.Context, out *Message) (*Message, error) {
		return p.bus.publish(out)
	})
}

func (p *memoryProducer) Close() error {
	p.closed.Store(true)
	return nil
}

// memoryConsumer 进程内消费者.
type memoryConsumer struct {
	bus     *MemoryBus
	groupID string
	mu      sync.Mutex
	cancel  context.CancelFunc
	closed  atomic.Bool
}

// Consume 阻塞消费，直到 ctx 取消、消费者关闭或总线关闭.
func (c *memoryConsumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if c.closed.Load() {
		return ErrConsumerClosed
	}
	if len(topics) == 0 {
		return ErrNoTopics
	}
	if handler == nil {
		return ErrNilHandler
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	// ctx 取消时唤醒阻塞在 cond 上的 next
	stop := context.AfterFunc(ctx, func() {
		c.bus.mu.Lock()
		c.bus.cond.Broadcast()
		c.bus.mu.Unlock()
	})
	defer stop()

	c.bus.subscribe(c.groupID, topics)

	d := newDispatcher(TypeMemory, c.groupID, handler, c.bus.opts)
	if c.bus.opts.deadLetter {
		d.deadLetter = func(ctx context.Context, msg *Message) error {
			_, err := c.bus.publish(msg)
			return err
		}
	}

	for {
		msg := c.bus.next(ctx, c.groupID, topics)
		if msg == nil {
			return nil
		}
		if !d.process(ctx, msg) {
			// 退出前把未完成的消息放回主题尾部
			_, _ = c.bus.publish(msg)
			return nil
		}
	}
}

func (c *memoryConsumer) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	return nil
}
