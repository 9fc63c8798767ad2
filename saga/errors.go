package saga

import "errors"

// 预定义错误.
var (
	// ErrSagaNotFound Saga 不存在.
	ErrSagaNotFound = errors.New("saga: saga not found")

	// ErrVersionConflict 乐观锁版本冲突.
	ErrVersionConflict = errors.New("saga: version conflict")

	// ErrInvalidRequest 结账请求无效.
	ErrInvalidRequest = errors.New("saga: invalid checkout request")

	// ErrInvalidTransition 非法状态迁移.
	ErrInvalidTransition = errors.New("saga: invalid status transition")

	// ErrNilSaga Saga 为空.
	ErrNilSaga = errors.New("saga: saga is nil")

	// ErrEmptyID Saga ID 为空.
	ErrEmptyID = errors.New("saga: id is empty")

	// ErrDuplicateID Saga ID 已存在.
	ErrDuplicateID = errors.New("saga: id already exists")

	// ErrUnsupportedVersion 数据 schema 版本不支持.
	ErrUnsupportedVersion = errors.New("saga: unsupported data version")
)
