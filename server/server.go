// Package server 提供 HTTP 服务器，实现 app.Server.
package server

import (
	"errors"
	"time"
)

var (
	ErrAddrEmpty  = errors.New("server: listen address is empty")
	ErrNilHandler = errors.New("server: nil http.Handler")
)

// Config HTTP 服务器配置.
type Config struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// Validate 校验配置.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return ErrAddrEmpty
	}
	return nil
}

// ApplyDefaults 填充零值字段.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
}
