package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Tsukikage7/transit-checkout/logger"
	"github.com/Tsukikage7/transit-checkout/saga"
)

// StartSaga 校验请求、持久化 STARTED 记录并发布第一个步骤命令.
//
// 发布失败时 saga 被标记为 FAILED，返回 saga ID 与错误.
func (o *Orchestrator) StartSaga(ctx context.Context, req *saga.CheckoutRequest, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id is empty", saga.ErrInvalidRequest)
	}
	req = req.Clone()
	if req != nil {
		req.Normalize()
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	correlationID := logger.CorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = o.newID()
	}
	now := o.now()
	s := saga.New(o.newID(), userID, correlationID, req, now, o.cfg.Timeout)
	ctx = logger.ContextWithCorrelationID(ctx, correlationID)
	log := o.sagaLog(ctx, s.ID)

	if _, err := o.store.Create(ctx, s); err != nil {
		return "", fmt.Errorf("orchestrator: persist saga: %w", err)
	}
	o.metrics.SagaStarted()

	first := saga.FirstStep()
	payload, err := saga.CommandPayload(s, first)
	if err != nil {
		return s.ID, o.failStart(ctx, s.ID, "command payload failed: "+err.Error(), err)
	}
	if err := o.publisher.Publish(ctx, saga.NewCommand(s, first, payload, now)); err != nil {
		log.With(logger.Err(err)).Error("[Orchestrator] 发布首个步骤命令失败")
		return s.ID, o.failStart(ctx, s.ID, "publish failed: "+err.Error(), err)
	}

	log.With(
		logger.String("userId", userID),
		logger.Int("items", len(req.Items)),
		logger.String("paymentMethod", req.PaymentMethod),
	).Info("[Orchestrator] saga 已启动")
	return s.ID, nil
}

// failStart 将刚创建的 saga 标记为 FAILED.
func (o *Orchestrator) failStart(ctx context.Context, id, reason string, cause error) error {
	_, err := o.mutate(ctx, id, "start", func(s *saga.Saga) (*change, error) {
		if s.Status != saga.StatusStarted {
			return nil, nil
		}
		s.SetError(reason)
		if err := s.TransitionTo(saga.StatusFailed); err != nil {
			return nil, err
		}
		return &change{}, nil
	})
	return errors.Join(fmt.Errorf("orchestrator: start saga: %w", cause), err)
}

// OnStepOutcome 处理步骤结果事件.
//
// 重复、过期与迟到的事件被忽略，saga 不存在时记录警告后忽略.
func (o *Orchestrator) OnStepOutcome(ctx context.Context, e *saga.Event) error {
	if e == nil || !e.IsOutcome() {
		return fmt.Errorf("%w: not an outcome", saga.ErrMalformedEvent)
	}
	ctx = saga.ContextWithEvent(ctx, e)

	var err error
	switch {
	case e.IsCompensation:
		err = o.onCompensationOutcome(ctx, e)
	case e.Status == saga.StatusFailed:
		err = o.OnStepFailure(ctx, e.SagaID, e.Step, e.Error)
	default:
		err = o.onStepCompleted(ctx, e)
	}
	if errors.Is(err, saga.ErrSagaNotFound) {
		o.sagaLog(ctx, e.SagaID).With(
			logger.Step(string(e.Step)),
			logger.String("status", string(e.Status)),
		).Warn("[Orchestrator] 收到未知 saga 的结果事件")
		return nil
	}
	return err
}

func (o *Orchestrator) onStepCompleted(ctx context.Context, e *saga.Event) error {
	log := o.sagaLog(ctx, e.SagaID).With(logger.Step(string(e.Step)))

	var undoLate *saga.Event
	_, err := o.mutate(ctx, e.SagaID, "step_completed", func(s *saga.Saga) (*change, error) {
		undoLate = nil
		switch {
		case s.IsTerminal() || s.Status == saga.StatusCompensating:
			if !s.HasCompleted(e.Step) {
				o.metrics.LateOutcome(string(e.Step))
				undoLate = o.lateCompensation(s, e)
				log.With(
					logger.String("status", string(s.Status)),
					logger.Bool("undo", undoLate != nil),
				).Warn("[Orchestrator] saga 已回滚或结束，收到迟到的成功结果")
			}
			return nil, nil
		case s.HasCompleted(e.Step):
			log.Debug("[Orchestrator] 忽略重复的成功结果")
			return nil, nil
		case e.Step != s.CurrentStep:
			log.With(logger.String("currentStep", string(s.CurrentStep))).
				Warn("[Orchestrator] 忽略过期的成功结果")
			return nil, nil
		}

		if err := saga.ApplyOutcome(s, e.Step, e.Payload); err != nil {
			return nil, fmt.Errorf("%w: %v", saga.ErrMalformedEvent, err)
		}
		s.MarkCompleted(e.Step)
		if s.Status != saga.StatusInProgress {
			if err := s.TransitionTo(saga.StatusInProgress); err != nil {
				return nil, err
			}
		}

		next, ok := e.Step.Next()
		if !ok {
			if err := s.TransitionTo(saga.StatusCompleted); err != nil {
				return nil, err
			}
			return &change{}, nil
		}

		s.CurrentStep = next
		payload, err := saga.CommandPayload(s, next)
		if err != nil {
			return nil, err
		}
		return &change{
			publish: saga.NewCommand(s, next, payload, o.now()),
			after: func(*saga.Saga) {
				log.With(logger.String("next", string(next))).Debug("[Orchestrator] 推进到下一步骤")
			},
		}, nil
	})
	if err == nil && undoLate != nil {
		if err := o.publisher.Publish(ctx, undoLate); err != nil {
			return fmt.Errorf("orchestrator: publish %s: %w", undoLate.Step, err)
		}
	}
	return err
}

// lateCompensation 为迟到的成功结果构造补偿命令，步骤不可补偿时返回 nil.
//
// 补偿命令不改变 saga 状态，其结果事件会被当作过期事件忽略.
func (o *Orchestrator) lateCompensation(s *saga.Saga, e *saga.Event) *saga.Event {
	compensation, ok := saga.CompensationFor(e.Step)
	if !ok {
		return nil
	}
	c := s.Clone()
	if err := saga.ApplyOutcome(c, e.Step, e.Payload); err != nil {
		return nil
	}
	payload, err := saga.CommandPayload(c, compensation)
	if err != nil {
		return nil
	}
	return saga.NewCompensationCommand(c, compensation, e.Step, payload, o.now())
}

// OnStepFailure 记录失败原因并开始补偿.
//
// 没有可补偿的已完成步骤时 saga 直接进入 FAILED.
func (o *Orchestrator) OnStepFailure(ctx context.Context, sagaID string, step saga.Step, reason string) error {
	return o.fail(ctx, sagaID, "step_failed", reason, func(s *saga.Saga) bool {
		if s.Status != saga.StatusStarted && s.Status != saga.StatusInProgress {
			return false
		}
		return s.CurrentStep == step && !s.HasCompleted(step)
	})
}

// fail 在 guard 通过时记录原因并进入补偿.
func (o *Orchestrator) fail(ctx context.Context, id, op, reason string, guard func(s *saga.Saga) bool) error {
	log := o.sagaLog(ctx, id)

	_, err := o.mutate(ctx, id, op, func(s *saga.Saga) (*change, error) {
		if !guard(s) {
			log.With(
				logger.String("status", string(s.Status)),
				logger.String("currentStep", string(s.CurrentStep)),
			).Debug("[Orchestrator] 忽略失败事件")
			return nil, nil
		}
		s.SetError(reason)
		return o.beginCompensation(s)
	})
	return err
}

// beginCompensation 选出最后一个可补偿的已完成步骤并发出补偿命令.
func (o *Orchestrator) beginCompensation(s *saga.Saga) (*change, error) {
	undo, compensation, ok := s.NextCompensation()
	if !ok {
		if err := s.TransitionTo(saga.StatusFailed); err != nil {
			return nil, err
		}
		return &change{}, nil
	}
	if err := s.TransitionTo(saga.StatusCompensating); err != nil {
		return nil, err
	}
	return o.compensate(s, undo, compensation)
}

func (o *Orchestrator) compensate(s *saga.Saga, undo, compensation saga.Step) (*change, error) {
	s.CurrentStep = compensation
	s.ExpiresAt = o.now().Add(o.cfg.CompensationTimeout)
	payload, err := saga.CommandPayload(s, compensation)
	if err != nil {
		return nil, err
	}
	return &change{publish: saga.NewCompensationCommand(s, compensation, undo, payload, o.now())}, nil
}

func (o *Orchestrator) onCompensationOutcome(ctx context.Context, e *saga.Event) error {
	log := o.sagaLog(ctx, e.SagaID).With(logger.Step(string(e.Step)))

	_, err := o.mutate(ctx, e.SagaID, "compensation", func(s *saga.Saga) (*change, error) {
		if s.Status != saga.StatusCompensating || e.Step != s.CurrentStep {
			if e.Status == saga.StatusFailed {
				return o.recordStrayCompensationFailure(s, e, log)
			}
			log.With(logger.String("status", string(s.Status))).Debug("[Orchestrator] 忽略重复或过期的补偿结果")
			return nil, nil
		}
		undo := e.CompensatingStep
		if undo == "" {
			undo = undoFor(s, e.Step)
		}

		if e.Status == saga.StatusFailed {
			s.AppendError(fmt.Sprintf("compensation %s failed: %s", e.Step, e.Error))
			if err := s.TransitionTo(saga.StatusFailed); err != nil {
				return nil, err
			}
			return &change{after: func(s *saga.Saga) {
				o.metrics.CompensationFailed(string(e.Step))
				log.With(
					logger.String("undo", string(undo)),
					logger.String("error", s.ErrorMessage),
				).Error("[Orchestrator] 补偿失败，需要人工介入 (manual intervention required)")
			}}, nil
		}

		s.MarkCompensated(undo)
		next, compensation, ok := s.NextCompensation()
		if !ok {
			if err := s.TransitionTo(saga.StatusCompensated); err != nil {
				return nil, err
			}
			return &change{}, nil
		}
		if err := s.TransitionTo(saga.StatusCompensating); err != nil {
			return nil, err
		}
		return o.compensate(s, next, compensation)
	})
	return err
}

// recordStrayCompensationFailure 记录不在当前补偿链上的补偿失败，例如迟到成功触发的撤销被拒绝.
//
// 状态保持不变，错误追加到记录上，同一失败重复投递时跳过.
func (o *Orchestrator) recordStrayCompensationFailure(s *saga.Saga, e *saga.Event, log logger.Logger) (*change, error) {
	entry := fmt.Sprintf("compensation %s failed: %s", e.Step, e.Error)
	if strings.Contains(s.ErrorMessage, entry) {
		log.Debug("[Orchestrator] 补偿失败已记录，忽略重复结果")
		return nil, nil
	}
	s.AppendError(entry)
	return &change{after: func(s *saga.Saga) {
		o.metrics.CompensationFailed(string(e.Step))
		log.With(
			logger.String("status", string(s.Status)),
			logger.String("undo", string(e.CompensatingStep)),
			logger.String("error", e.Error),
		).Error("[Orchestrator] 补偿失败，需要人工介入 (manual intervention required)")
	}}, nil
}

// undoFor 返回补偿步骤对应的尚未撤销的正向步骤.
func undoFor(s *saga.Saga, compensation saga.Step) saga.Step {
	for i := len(s.CompletedSteps) - 1; i >= 0; i-- {
		step := s.CompletedSteps[i]
		if c, ok := saga.CompensationFor(step); ok && c == compensation && !s.HasCompensated(step) {
			return step
		}
	}
	return ""
}

// CancelSaga 取消进行中的 saga，其他状态下不做任何事.
func (o *Orchestrator) CancelSaga(ctx context.Context, sagaID, reason string) error {
	err := o.fail(ctx, sagaID, "cancel", "Cancelled: "+reason, func(s *saga.Saga) bool {
		return s.Status == saga.StatusInProgress
	})
	if err == nil {
		o.sagaLog(ctx, sagaID).With(logger.String("reason", reason)).Info("[Orchestrator] 取消请求已处理")
	}
	return err
}

// GetSagaStatus 返回 saga 当前状态.
func (o *Orchestrator) GetSagaStatus(ctx context.Context, sagaID string) (saga.Status, error) {
	s, err := o.store.Get(ctx, sagaID)
	if err != nil {
		return "", err
	}
	return s.Status, nil
}

// GetSaga 返回 saga 完整记录.
func (o *Orchestrator) GetSaga(ctx context.Context, sagaID string) (*saga.Saga, error) {
	return o.store.Get(ctx, sagaID)
}
