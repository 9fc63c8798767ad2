package saga

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 消息头.
const (
	HeaderCorrelationID = "x-correlation-id"
	HeaderSagaID        = "x-saga-id"
	HeaderSagaStep      = "x-saga-step"
)

// ErrMalformedEvent 事件无法解析或缺少必填字段.
var ErrMalformedEvent = errors.New("saga: malformed event")

// Event 总线上的 saga 事件，既是步骤命令也是步骤结果.
//
// 命令的 Status 为 IN_PROGRESS（补偿命令为 COMPENSATING），
// 结果的 Status 为 COMPLETED 或 FAILED.
type Event struct {
	SagaID           string         `json:"sagaId"`
	SagaType         string         `json:"sagaType"`
	Step             Step           `json:"step"`
	Status           Status         `json:"status"`
	OrderID          string         `json:"orderId,omitempty"`
	UserID           string         `json:"userId,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
	Error            string         `json:"error,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	CorrelationID    string         `json:"correlationId,omitempty"`
	IsCompensation   bool           `json:"isCompensation"`
	CompensatingStep Step           `json:"compensatingStep,omitempty"`
}

// NewCommand 创建正向步骤命令.
func NewCommand(s *Saga, step Step, payload map[string]any, now time.Time) *Event {
	return &Event{
		SagaID:        s.ID,
		SagaType:      s.Type,
		Step:          step,
		Status:        StatusInProgress,
		OrderID:       s.OrderID,
		UserID:        s.UserID,
		Payload:       payload,
		Timestamp:     now,
		CorrelationID: s.CorrelationID,
	}
}

// NewCompensationCommand 创建补偿命令，undo 为被撤销的正向步骤.
func NewCompensationCommand(s *Saga, compensation, undo Step, payload map[string]any, now time.Time) *Event {
	e := NewCommand(s, compensation, payload, now)
	e.Status = StatusCompensating
	e.IsCompensation = true
	e.CompensatingStep = undo
	return e
}

// IsOutcome 是否为步骤结果事件.
func (e *Event) IsOutcome() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// Succeeded 创建成功结果.
func (e *Event) Succeeded(payload map[string]any, now time.Time) *Event {
	out := e.outcome(StatusCompleted, now)
	out.Payload = payload
	return out
}

// Failed 创建失败结果.
func (e *Event) Failed(reason string, now time.Time) *Event {
	out := e.outcome(StatusFailed, now)
	out.Error = reason
	return out
}

func (e *Event) outcome(status Status, now time.Time) *Event {
	return &Event{
		SagaID:           e.SagaID,
		SagaType:         e.SagaType,
		Step:             e.Step,
		Status:           status,
		OrderID:          e.OrderID,
		UserID:           e.UserID,
		Timestamp:        now,
		CorrelationID:    e.CorrelationID,
		IsCompensation:   e.IsCompensation,
		CompensatingStep: e.CompensatingStep,
	}
}

// Topic 返回事件应发布到的主题.
func (e *Event) Topic() string {
	if e.IsOutcome() {
		return OutcomeTopic
	}
	return TopicFor(e.Step)
}

// Headers 返回事件的关联消息头.
func (e *Event) Headers() map[string]string {
	h := map[string]string{
		HeaderSagaID:   e.SagaID,
		HeaderSagaStep: string(e.Step),
	}
	if e.CorrelationID != "" {
		h[HeaderCorrelationID] = e.CorrelationID
	}
	return h
}

// EncodeEvent 编码事件.
func EncodeEvent(e *Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil event", ErrMalformedEvent)
	}
	return json.Marshal(e)
}

// DecodeEvent 解码并校验事件.
func DecodeEvent(b []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if e.SagaID == "" {
		return nil, fmt.Errorf("%w: sagaId is empty", ErrMalformedEvent)
	}
	if e.Step == "" {
		return nil, fmt.Errorf("%w: step is empty", ErrMalformedEvent)
	}
	if !e.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrMalformedEvent, e.Status)
	}
	if e.SagaType == "" {
		e.SagaType = TypeCheckout
	}
	return &e, nil
}
