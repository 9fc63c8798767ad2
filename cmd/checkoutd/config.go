package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tsukikage7/transit-checkout/cache"
	"github.com/Tsukikage7/transit-checkout/collaborator/stripe"
	"github.com/Tsukikage7/transit-checkout/database"
	"github.com/Tsukikage7/transit-checkout/logger"
	"github.com/Tsukikage7/transit-checkout/messaging"
	"github.com/Tsukikage7/transit-checkout/metrics"
	"github.com/Tsukikage7/transit-checkout/orchestrator"
	"github.com/Tsukikage7/transit-checkout/saga"
	"github.com/Tsukikage7/transit-checkout/server"
	"github.com/Tsukikage7/transit-checkout/step"
	"github.com/Tsukikage7/transit-checkout/tracing"
)

// 存储类型.
const (
	StoreMemory = "memory"
	StoreGORM   = "gorm"
	StoreMongo  = "mongo"
)

// Config checkoutd 配置.
type Config struct {
	App           AppConfig                 `mapstructure:"app"`
	Log           logger.Config             `mapstructure:"log"`
	Bus           messaging.Config          `mapstructure:"bus"`
	Store         StoreConfig               `mapstructure:"store"`
	Redis         cache.Config              `mapstructure:"redis"`
	Saga          orchestrator.Config       `mapstructure:"saga"`
	Step          step.Config               `mapstructure:"step"`
	Reaper        orchestrator.ReaperConfig `mapstructure:"reaper"`
	HTTP          server.Config             `mapstructure:"http"`
	Metrics       metrics.Config            `mapstructure:"metrics"`
	Tracing       tracing.Config            `mapstructure:"tracing"`
	Payment       PaymentConfig             `mapstructure:"payment"`
	Collaborators CollaboratorsConfig       `mapstructure:"collaborators"`
}

// AppConfig 进程配置.
type AppConfig struct {
	Name            string        `mapstructure:"name"`
	Version         string        `mapstructure:"version"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// StoreConfig saga 存储配置.
type StoreConfig struct {
	// Type memory、gorm 或 mongo
	Type     string               `mapstructure:"type"`
	Database database.Config      `mapstructure:"database"`
	Mongo    database.MongoConfig `mapstructure:"mongo"`
	// Migrate 启动时迁移表结构或创建索引
	Migrate bool `mapstructure:"migrate"`
	// CacheTTL 大于 0 时启用状态读缓存
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// PaymentConfig 支付配置，未配置 Stripe 密钥时 CARD 使用内存网关.
type PaymentConfig struct {
	Stripe stripe.Config `mapstructure:"stripe"`
}

// CollaboratorsConfig 内存下游服务的初始数据.
type CollaboratorsConfig struct {
	Catalog  []CatalogItemConfig `mapstructure:"catalog"`
	Packages map[string]string   `mapstructure:"packages"`
	Vouchers []VoucherConfig     `mapstructure:"vouchers"`
}

// CatalogItemConfig 票种.
type CatalogItemConfig struct {
	ID        string `mapstructure:"id"`
	Name      string `mapstructure:"name"`
	Kind      string `mapstructure:"kind"`
	Available int    `mapstructure:"available"`
	UnitPrice string `mapstructure:"unit_price"`
}

// VoucherConfig 代金券.
type VoucherConfig struct {
	ID     string `mapstructure:"id"`
	Amount string `mapstructure:"amount"`
	Owner  string `mapstructure:"owner"`
}

// ApplyDefaults 填充默认值.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "checkoutd"
	}
	if c.App.Version == "" {
		c.App.Version = "dev"
	}
	if c.App.GracefulTimeout <= 0 {
		c.App.GracefulTimeout = 20 * time.Second
	}
	if c.Log.ServiceName == "" {
		c.Log.ServiceName = c.App.Name
	}
	if c.Store.Type == "" {
		c.Store.Type = StoreMemory
	}
	switch c.Store.Type {
	case StoreGORM:
		c.Store.Database.ApplyDefaults()
	case StoreMongo:
		c.Store.Mongo.ApplyDefaults()
	}
	if c.Bus.Type == "" {
		c.Bus.Type = messaging.TypeMemory
	}
	c.Bus.ApplyDefaults()
	c.Redis.ApplyDefaults()
	c.Saga.ApplyDefaults()
	c.Step.ApplyDefaults()
	c.Reaper.ApplyDefaults()
	c.HTTP.ApplyDefaults()
	c.Metrics.ApplyDefaults()
	c.Tracing.ApplyDefaults()
}

// Validate 校验配置.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Bus.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Redis.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.HTTP.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Type {
	case StoreMemory:
	case StoreGORM:
		if err := c.Store.Database.Validate(); err != nil {
			errs = append(errs, err)
		}
	case StoreMongo:
		if err := c.Store.Mongo.Validate(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("store: unsupported type %q", c.Store.Type))
	}
	for _, item := range c.Collaborators.Catalog {
		if item.ID == "" {
			errs = append(errs, errors.New("collaborators: catalog item id is empty"))
		}
		if item.Kind != saga.KindP2P && item.Kind != saga.KindPass {
			errs = append(errs, fmt.Errorf("collaborators: catalog item %s has invalid kind %q", item.ID, item.Kind))
		}
		if _, err := decimal.NewFromString(item.UnitPrice); err != nil {
			errs = append(errs, fmt.Errorf("collaborators: catalog item %s: %w", item.ID, err))
		}
	}
	for id, percent := range c.Collaborators.Packages {
		if _, err := decimal.NewFromString(percent); err != nil {
			errs = append(errs, fmt.Errorf("collaborators: package %s: %w", id, err))
		}
	}
	for _, v := range c.Collaborators.Vouchers {
		if _, err := decimal.NewFromString(v.Amount); err != nil {
			errs = append(errs, fmt.Errorf("collaborators: voucher %s: %w", v.ID, err))
		}
	}
	return errors.Join(errs...)
}

// ErrSharedBusRequired 多进程模式不能使用内存总线.
var ErrSharedBusRequired = errors.New("checkoutd: memory bus is only available in the all command")

// requireSharedBus 校验总线可被多个进程共享.
func (c *Config) requireSharedBus() error {
	if c.Bus.Type == messaging.TypeMemory {
		return ErrSharedBusRequired
	}
	return nil
}
