package messaging

import (
	"maps"
	"time"
)

// Message 消息结构.
//
// Key 和 Value 均为 []byte，序列化由调用方控制.
// 相同 Key 的消息在 Kafka 上路由到同一分区，保证单个 key 内的顺序.
type Message struct {
	// Topic 消息主题，必填.
	Topic string

	// Key 消息键，用于分区路由.
	Key []byte

	// Value 消息内容.
	Value []byte

	// Headers 消息头，用于传递关联 ID 与追踪上下文.
	Headers map[string]string

	// Partition 分区号，发送后由服务端填充.
	Partition int32

	// Offset 消息偏移量，发送后由服务端填充.
	Offset int64

	// Timestamp 消息时间戳.
	Timestamp time.Time

	// Attempt 当前投递次数，从 1 开始.
	Attempt int
}

// Clone 返回消息的副本，Headers 独立.
func (m *Message) Clone() *Message {
	c := *m
	c.Headers = maps.Clone(m.Headers)
	return &c
}

// DeadLetterTopic 返回主题对应的死信主题.
func DeadLetterTopic(topic string) string {
	return topic + ".dlq"
}
