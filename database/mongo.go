package database

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/Tsukikage7/transit-checkout/logger"
)

// MongoConfig MongoDB 配置.
type MongoConfig struct {
	// URI 连接字符串
	URI string `json:"uri" yaml:"uri" mapstructure:"uri"`
	// Database 数据库名
	Database string `json:"database" yaml:"database" mapstructure:"database"`
	// ConnectTimeout 连接超时
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`
	// ServerSelectionTimeout 服务器选择超时
	ServerSelectionTimeout time.Duration `json:"server_selection_timeout" yaml:"server_selection_timeout" mapstructure:"server_selection_timeout"`
	// MaxPoolSize 最大连接池大小
	MaxPoolSize uint64 `json:"max_pool_size" yaml:"max_pool_size" mapstructure:"max_pool_size"`
	// MinPoolSize 最小连接池大小
	MinPoolSize uint64 `json:"min_pool_size" yaml:"min_pool_size" mapstructure:"min_pool_size"`
	// ReplicaSet 副本集名称
	ReplicaSet string `json:"replica_set" yaml:"replica_set" mapstructure:"replica_set"`
}

// ApplyDefaults 应用默认值.
func (c *MongoConfig) ApplyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ServerSelectionTimeout == 0 {
		c.ServerSelectionTimeout = 5 * time.Second
	}
	if c.MaxPoolSize == 0 {
		c.MaxPoolSize = 100
	}
}

// Validate 验证配置.
func (c *MongoConfig) Validate() error {
	if c.URI == "" {
		return ErrEmptyURI
	}
	if c.Database == "" {
		return ErrEmptyDatabase
	}
	return nil
}

// OpenMongo 连接 MongoDB 并返回配置中的数据库.
//
// 连接建立后会立即 Ping 一次，失败时断开连接并返回错误.
func OpenMongo(ctx context.Context, config *MongoConfig, log logger.Logger) (*mongo.Database, error) {
	if config == nil {
		return nil, ErrNilConfig
	}
	if log == nil {
		return nil, ErrNilLogger
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := options.Client().
		ApplyURI(config.URI).
		SetConnectTimeout(config.ConnectTimeout).
		SetServerSelectionTimeout(config.ServerSelectionTimeout).
		SetMaxPoolSize(config.MaxPoolSize).
		SetMinPoolSize(config.MinPoolSize)
	if config.ReplicaSet != "" {
		opts.SetReplicaSet(config.ReplicaSet)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	log.With(logger.String("database", config.Database)).Info("[Database] MongoDB 连接已建立")
	return client.Database(config.Database), nil
}
