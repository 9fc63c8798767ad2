package scheduler

import "errors"

// 预定义错误.
var (
	ErrJobNameEmpty    = errors.New("scheduler: job name is required")
	ErrScheduleEmpty   = errors.New("scheduler: schedule expression is required")
	ErrHandlerNil      = errors.New("scheduler: job handler is required")
	ErrScheduleInvalid = errors.New("scheduler: invalid schedule expression")
	ErrSchedulerClosed = errors.New("scheduler: scheduler is closed")
	ErrJobNotFound     = errors.New("scheduler: job not found")
	ErrJobExists       = errors.New("scheduler: job already exists")
)
