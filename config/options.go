package config

import (
	"strings"

	"github.com/spf13/viper"
)

// loadOptions 加载选项，优先级从低到高为 defaults、文件、环境变量、overrides.
type loadOptions struct {
	envPrefix string
	useEnv    bool
	defaults  map[string]any
	overrides map[string]any
}

// Option 配置加载选项.
type Option func(*loadOptions)

// WithEnvPrefix 设置环境变量前缀，例如 "CHECKOUT" 会将 CHECKOUT_STORE_TYPE 映射到 store.type.
func WithEnvPrefix(prefix string) Option {
	return func(o *loadOptions) {
		o.envPrefix = prefix
	}
}

// WithoutEnv 不读取环境变量.
func WithoutEnv() Option {
	return func(o *loadOptions) {
		o.useEnv = false
	}
}

// WithDefaults 设置默认值，键为点分路径.
func WithDefaults(defaults map[string]any) Option {
	return func(o *loadOptions) {
		for k, v := range defaults {
			o.defaults[k] = v
		}
	}
}

// WithOverrides 设置覆盖值，键为点分路径，优先级高于文件与环境变量.
func WithOverrides(overrides map[string]string) Option {
	return func(o *loadOptions) {
		for k, v := range overrides {
			o.overrides[k] = v
		}
	}
}

func newLoadOptions(opts []Option) *loadOptions {
	o := &loadOptions{
		useEnv:    true,
		defaults:  make(map[string]any),
		overrides: make(map[string]any),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// apply 在读取配置前设置 viper.
func (o *loadOptions) apply(v *viper.Viper) {
	for key, value := range o.defaults {
		v.SetDefault(key, value)
	}
	if o.useEnv {
		if o.envPrefix != "" {
			v.SetEnvPrefix(o.envPrefix)
		}
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}
}

// override 在读取配置后写入覆盖值.
func (o *loadOptions) override(v *viper.Viper) {
	for key, value := range o.overrides {
		v.Set(key, value)
	}
}
