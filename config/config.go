// Package config 提供基于 viper 的配置加载.
//
// 配置文件中的键可被环境变量覆盖，例如前缀为 CHECKOUT 时
// CHECKOUT_BUS_TYPE 覆盖 bus.type. 只有文件或默认值中出现过的键才会绑定环境变量.
package config

import (
	"errors"
	"path/filepath"
	"strings"
)

// 预定义错误.
var (
	ErrFileNotFound = errors.New("config: 配置文件不存在")
	ErrReadConfig   = errors.New("config: 读取配置失败")
	ErrUnmarshal    = errors.New("config: 解析配置失败")
	ErrValidation   = errors.New("config: 配置验证失败")
)

// Validatable 可验证的配置接口.
type Validatable interface {
	Validate() error
}

// Defaultable 可填充默认值的配置接口，在验证之前调用.
type Defaultable interface {
	ApplyDefaults()
}

// GetConfigType 根据文件扩展名获取配置类型.
func GetConfigType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return ""
	}
}
