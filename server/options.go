package server

import (
	"time"

	"github.com/Tsukikage7/transit-checkout/logger"
)

// 默认值.
const (
	DefaultAddr         = ":8080"
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 15 * time.Second
	DefaultIdleTimeout  = 2 * time.Minute
)

// Option HTTP 服务器选项.
type Option func(*options)

type options struct {
	name string
	cfg  Config
	log  logger.Logger
}

func newOptions(opts []Option) *options {
	o := &options{name: "http"}
	o.cfg.ApplyDefaults()
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.NewNop()
	}
	return o
}

// WithName 设置服务器名称，用于 app 日志与错误.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithConfig 使用配置中的监听地址与超时，零值字段取默认值.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		cfg.ApplyDefaults()
		o.cfg = cfg
	}
}

// WithAddr 覆盖监听地址.
func WithAddr(addr string) Option {
	return func(o *options) { o.cfg.Addr = addr }
}

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.log = log }
}
