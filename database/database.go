// Package database 提供 saga 存储所需的数据库连接.
//
// 关系型数据库通过 GORM 接入（mysql、postgres、sqlite），文档数据库通过官方 mongo-driver 接入.
package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// 支持的驱动类型.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// 预定义错误.
var (
	ErrNilConfig             = errors.New("database: 配置为空")
	ErrNilLogger             = errors.New("database: 日志记录器为空")
	ErrEmptyDriver           = errors.New("database: 驱动类型为空")
	ErrEmptyDSN              = errors.New("database: 连接字符串为空")
	ErrUnsupportedDriver     = errors.New("database: 不支持的驱动类型")
	ErrRegisterTracingPlugin = errors.New("database: 注册追踪插件失败")
	ErrEmptyURI              = errors.New("database: mongodb uri 为空")
	ErrEmptyDatabase         = errors.New("database: mongodb 数据库名为空")
)

// dialectors 驱动名到 Dialector 构造函数，别名在 ApplyDefaults 中归一.
var dialectors = map[string]func(dsn string) gorm.Dialector{
	DriverMySQL:    mysql.Open,
	DriverPostgres: postgres.Open,
	DriverSQLite:   sqlite.Open,
}

var driverAliases = map[string]string{
	"postgresql": DriverPostgres,
	"pgx":        DriverPostgres,
	"sqlite3":    DriverSQLite,
}

// Config 关系型数据库配置.
type Config struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`

	Pool PoolConfig `mapstructure:"pool"`

	// SlowThreshold 超过该耗时的 SQL 记 Warn
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
	// LogLevel silent, error, warn, info
	LogLevel      string `mapstructure:"log_level"`
	EnableTracing bool   `mapstructure:"enable_tracing"`
}

// PoolConfig 连接池配置.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
	MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
}

// Validate 验证配置.
func (c *Config) Validate() error {
	if c.Driver == "" {
		return ErrEmptyDriver
	}
	if _, ok := dialectors[c.Driver]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedDriver, c.Driver)
	}
	if c.DSN == "" {
		return ErrEmptyDSN
	}
	return nil
}

// ApplyDefaults 应用默认值并归一驱动别名.
func (c *Config) ApplyDefaults() {
	c.Driver = strings.ToLower(c.Driver)
	if canonical, ok := driverAliases[c.Driver]; ok {
		c.Driver = canonical
	}
	if c.SlowThreshold == 0 {
		c.SlowThreshold = 200 * time.Millisecond
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.Pool.MaxOpen == 0 {
		c.Pool.MaxOpen = 50
	}
	if c.Pool.MaxIdle == 0 {
		c.Pool.MaxIdle = 10
	}
	if c.Pool.MaxLifetime == 0 {
		c.Pool.MaxLifetime = time.Hour
	}
	if c.Pool.MaxIdleTime == 0 {
		c.Pool.MaxIdleTime = 10 * time.Minute
	}
}

// memoryOnly sqlite 内存库的每个连接都是独立的空库.
func (c *Config) memoryOnly() bool {
	return c.Driver == DriverSQLite && (c.DSN == ":memory:" || strings.Contains(c.DSN, "mode=memory"))
}
