// Package saga 定义结账 saga 的领域模型.
//
// 包含状态机、正向与补偿步骤表、saga 记录、总线事件、
// 带版本的数据编解码以及带乐观锁的存储契约.
package saga

import (
	"fmt"
	"slices"
	"time"
)

// DefaultTimeout saga 默认超时时间.
const DefaultTimeout = 15 * time.Minute

// Saga 一次结账的持久化状态.
type Saga struct {
	ID               string    `json:"id"`
	Version          int64     `json:"version"`
	Type             string    `json:"sagaType"`
	UserID           string    `json:"userId"`
	OrderID          string    `json:"orderId,omitempty"`
	Status           Status    `json:"status"`
	CurrentStep      Step      `json:"currentStep"`
	CompletedSteps   []Step    `json:"completedSteps"`
	CompensatedSteps []Step    `json:"compensatedSteps,omitempty"`
	Data             *Data     `json:"sagaData,omitempty"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	CorrelationID    string    `json:"correlationId"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// New 创建处于 STARTED 的 saga.
func New(id, userID, correlationID string, req *CheckoutRequest, now time.Time, timeout time.Duration) *Saga {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Saga{
		ID:             id,
		Type:           TypeCheckout,
		UserID:         userID,
		Status:         StatusStarted,
		CurrentStep:    FirstStep(),
		CompletedSteps: []Step{},
		Data:           NewData(req),
		CorrelationID:  correlationID,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(timeout),
	}
}

// IsTerminal 是否已处于终态.
func (s *Saga) IsTerminal() bool {
	return s.Status.IsTerminal()
}

// TransitionTo 迁移状态，非法迁移返回 ErrInvalidTransition.
func (s *Saga) TransitionTo(next Status) error {
	if !s.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	return nil
}

// HasCompleted 步骤是否已完成.
func (s *Saga) HasCompleted(step Step) bool {
	return slices.Contains(s.CompletedSteps, step)
}

// HasCompensated 正向步骤是否已被撤销.
func (s *Saga) HasCompensated(step Step) bool {
	return slices.Contains(s.CompensatedSteps, step)
}

// MarkCompleted 追加已完成步骤，重复时返回 false.
func (s *Saga) MarkCompleted(step Step) bool {
	if s.HasCompleted(step) {
		return false
	}
	s.CompletedSteps = append(s.CompletedSteps, step)
	return true
}

// MarkCompensated 记录已撤销的正向步骤，重复时返回 false.
func (s *Saga) MarkCompensated(step Step) bool {
	if s.HasCompensated(step) {
		return false
	}
	s.CompensatedSteps = append(s.CompensatedSteps, step)
	return true
}

// SetOrderID 设置订单 ID，已设置时忽略.
func (s *Saga) SetOrderID(orderID string) {
	if s.OrderID == "" && orderID != "" {
		s.OrderID = orderID
	}
}

// SetError 记录根因，已有根因时保留.
func (s *Saga) SetError(msg string) {
	if s.ErrorMessage == "" {
		s.ErrorMessage = msg
	}
}

// AppendError 在已有错误信息后追加.
func (s *Saga) AppendError(msg string) {
	if s.ErrorMessage == "" {
		s.ErrorMessage = msg
		return
	}
	s.ErrorMessage += "; " + msg
}

// NextCompensation 从后向前查找下一个尚未撤销且存在补偿的已完成步骤.
//
// 返回被撤销的正向步骤及其补偿步骤.
func (s *Saga) NextCompensation() (undo, compensation Step, ok bool) {
	for i := len(s.CompletedSteps) - 1; i >= 0; i-- {
		step := s.CompletedSteps[i]
		if s.HasCompensated(step) {
			continue
		}
		if c, found := CompensationFor(step); found {
			return step, c, true
		}
	}
	return "", "", false
}

// Clone 深拷贝.
func (s *Saga) Clone() *Saga {
	if s == nil {
		return nil
	}
	c := *s
	c.CompletedSteps = append(make([]Step, 0, len(s.CompletedSteps)), s.CompletedSteps...)
	c.CompensatedSteps = append([]Step(nil), s.CompensatedSteps...)
	c.Data = s.Data.Clone()
	return &c
}
