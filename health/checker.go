package health

import "context"

// Pinger 实现了 Ping 的依赖，如 cache.Cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc 函数适配器.
type PingFunc func(ctx context.Context) error

// Ping 调用 f.
func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// PingChecker 通过 Ping 判断依赖是否可用.
type PingChecker struct {
	name   string
	kind   string
	pinger Pinger
}

// NewPingChecker 创建 Ping 检查器，kind 标识依赖类型，如 database、redis、bus.
func NewPingChecker(name, kind string, pinger Pinger) *PingChecker {
	return &PingChecker{name: name, kind: kind, pinger: pinger}
}

// Name 返回检查器名称.
func (c *PingChecker) Name() string {
	return c.name
}

// Check 执行 Ping.
func (c *PingChecker) Check(ctx context.Context) CheckResult {
	if err := c.pinger.Ping(ctx); err != nil {
		return CheckResult{Status: StatusDown, Kind: c.kind, Message: err.Error()}
	}
	return CheckResult{Status: StatusUp, Kind: c.kind}
}
