package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Load 从文件加载配置.
//
// configPath 为空时只使用默认值与环境变量.
// 类型实现 Defaultable 时先填充默认值，实现 Validatable 时随后验证.
func Load[T any](configPath string, opts ...Option) (*T, error) {
	options := newLoadOptions(opts)
	v := viper.New()
	options.apply(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, configPath)
		}
		v.SetConfigFile(configPath)
		if t := GetConfigType(configPath); t != "" {
			v.SetConfigType(t)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Join(ErrReadConfig, err)
		}
	}

	options.override(v)
	return unmarshalAndValidate[T](v)
}

// MustLoad 加载配置，失败时 panic.
func MustLoad[T any](configPath string, opts ...Option) *T {
	config, err := Load[T](configPath, opts...)
	if err != nil {
		panic(err)
	}
	return config
}

// LoadFromBytes 从字节数组加载配置.
func LoadFromBytes[T any](data []byte, configType string, opts ...Option) (*T, error) {
	options := newLoadOptions(opts)
	v := viper.New()
	v.SetConfigType(configType)
	options.apply(v)

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, errors.Join(ErrReadConfig, err)
	}
	options.override(v)

	return unmarshalAndValidate[T](v)
}

func unmarshalAndValidate[T any](v *viper.Viper) (*T, error) {
	config := new(T)
	if err := v.Unmarshal(config); err != nil {
		return nil, errors.Join(ErrUnmarshal, err)
	}

	if d, ok := any(config).(Defaultable); ok {
		d.ApplyDefaults()
	}
	if validator, ok := any(config).(Validatable); ok {
		if err := validator.Validate(); err != nil {
			return nil, errors.Join(ErrValidation, err)
		}
	}

	return config, nil
}
