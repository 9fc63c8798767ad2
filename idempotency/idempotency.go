// Package idempotency 为步骤处理器提供幂等控制.
//
// 同一 saga 的同一步骤命令可能被总线重复投递. 处理器以 sagaID:step 为幂等键，
// 首次执行的结果事件保存为记录，重复投递时直接重放记录而不再调用下游服务.
//
// 工作原理:
//  1. 查询幂等键是否已有记录，有则重放
//  2. 通过 SetNX 获取处理锁，防止并发重复执行
//  3. 执行并保存结果记录，释放处理锁
//
// 基本用法:
//
//	store := idempotency.NewStore(idempotency.CacheKV(redisCache))
//	out, replayed, err := store.Execute(ctx, idempotency.Key(sagaID, step), func(ctx context.Context) ([]byte, error) {
//	    return encodeOutcome(handle(ctx))
//	})
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// DefaultTTL 默认的幂等记录过期时间.
const DefaultTTL = 24 * time.Hour

// DefaultLockTimeout 默认的处理锁过期时间.
const DefaultLockTimeout = 2 * time.Minute

// 预定义错误.
var (
	// ErrInProgress 相同幂等键的请求正在处理中.
	ErrInProgress = errors.New("idempotency: request in progress")

	// ErrEmptyKey 幂等键为空.
	ErrEmptyKey = errors.New("idempotency: key is empty")
)

// Record 幂等记录.
type Record struct {
	// Key 幂等键
	Key string `json:"key"`

	// Outcome 首次执行产生的结果，通常是编码后的结果事件
	Outcome []byte `json:"outcome"`

	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at"`
}

// Encode 将 Record 编码为字节数组.
func (r *Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord 从字节数组解码 Record.
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Key 返回 saga 步骤的幂等键.
func Key(sagaID, step string) string {
	return sagaID + ":" + step
}

// Store 幂等性存储接口.
type Store interface {
	// Get 获取幂等键对应的记录.
	// 如果键不存在，返回 nil, nil.
	Get(ctx context.Context, key string) (*Record, error)

	// Set 保存记录并释放处理锁.
	Set(ctx context.Context, key string, record *Record, ttl time.Duration) error

	// SetNX 仅在没有记录且未被锁定时获取处理锁.
	// 返回 true 表示获取成功.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Delete 删除记录与处理锁.
	Delete(ctx context.Context, key string) error
}

// KV 幂等存储依赖的键值接口.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) error
}
