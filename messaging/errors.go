package messaging

import "errors"

// 配置与客户端错误.
var (
	ErrNilConfig          = errors.New("messaging: 配置为空")
	ErrUnsupportedType    = errors.New("messaging: 不支持的消息队列类型")
	ErrNoBrokers          = errors.New("messaging: 未配置服务器地址")
	ErrNoBrokersAvailable = errors.New("messaging: 没有可用的服务器")
	ErrCreateClient       = errors.New("messaging: 创建客户端失败")
	ErrClientClosed       = errors.New("messaging: 客户端已关闭")
)

// 生产侧错误.
var (
	ErrCreateProducer = errors.New("messaging: 创建生产者失败")
	ErrProducerClosed = errors.New("messaging: 生产者已关闭")
	ErrNilMessage     = errors.New("messaging: 消息为空")
	ErrEmptyTopic     = errors.New("messaging: 消息主题为空")
	ErrSendMessage    = errors.New("messaging: 消息发送失败")
)

// 消费侧错误.
var (
	ErrCreateConsumer   = errors.New("messaging: 创建消费者失败")
	ErrConsumerClosed   = errors.New("messaging: 消费者已关闭")
	ErrEmptyGroupID     = errors.New("messaging: 消费者组ID为空")
	ErrNoTopics         = errors.New("messaging: 未指定消费主题")
	ErrNilHandler       = errors.New("messaging: 消息处理器为空")
	ErrAlreadyConsuming = errors.New("messaging: 消费者已在运行")
)
