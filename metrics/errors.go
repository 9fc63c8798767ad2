package metrics

import "errors"

var (
	// ErrNilConfig 配置为空.
	ErrNilConfig = errors.New("metrics: config is nil")
	// ErrRegisterMetric 指标注册失败.
	ErrRegisterMetric = errors.New("metrics: failed to register metric")
)
