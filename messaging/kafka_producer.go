package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

// KafkaProducer Kafka 生产者.
//
// 使用同步发送模式并启用幂等生产:
//   - Idempotent: true
//   - RequiredAcks: WaitForAll
//   - Retry.Max: 3
//   - Compression: Snappy
//
// 分区器按消息 Key 哈希，同一个 saga 的事件落在同一分区.
type KafkaProducer struct {
	producer sarama.SyncProducer
	closed   bool
	mu       sync.RWMutex
	opts     *options
}

func newKafkaConfig(cfg *Config) *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V3_8_0_0
	if cfg.ClientID != "" {
		config.ClientID = cfg.ClientID
	}
	return config
}

func newKafkaProducer(cfg *Config, o *options) (*KafkaProducer, error) {
	config := newKafkaConfig(cfg)
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, errors.Join(ErrCreateProducer, err)
	}

	if o.logger != nil {
		o.logger.Debugf("[Messaging] Kafka生产者启动: brokers=%v", cfg.Brokers)
	}
	return newKafkaProducerFromSync(producer, o), nil
}

func newKafkaProducerFromSync(producer sarama.SyncProducer, o *options) *KafkaProducer {
	return &KafkaProducer{producer: producer, opts: o}
}

// SendMessage 同步发送消息并等待所有副本确认.
func (p *KafkaProducer) SendMessage(ctx context.Context, msg *Message) (*Message, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrProducerClosed
	}

	return instrumentedSend(ctx, p.opts, TypeKafka, msg, func(_ context.Context, out *Message) (*Message, error) {
		saramaMsg := &sarama.ProducerMessage{
			Topic:     out.Topic,
			Value:     sarama.ByteEncoder(out.Value),
			Timestamp: time.Now(),
		}
		if len(out.Key) > 0 {
			saramaMsg.Key = sarama.ByteEncoder(out.Key)
		}
		for k, v := range out.Headers {
			saramaMsg.Headers = append(saramaMsg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
		}

		partition, offset, err := p.producer.SendMessage(saramaMsg)
		if err != nil {
			return nil, errors.Join(ErrSendMessage, err)
		}

		out.Partition = partition
		out.Offset = offset
		out.Timestamp = saramaMsg.Timestamp
		return out, nil
	})
}

// Close 关闭生产者，重复调用是安全的.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
