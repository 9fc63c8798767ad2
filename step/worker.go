package step

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/Tsukikage7/transit-checkout/idempotency"
	"github.com/Tsukikage7/transit-checkout/logger"
	"github.com/Tsukikage7/transit-checkout/messaging"
	"github.com/Tsukikage7/transit-checkout/metrics"
	"github.com/Tsukikage7/transit-checkout/saga"
	"github.com/Tsukikage7/transit-checkout/tracing"
)

// 预定义错误.
var (
	ErrNoHandlers       = errors.New("step: no handlers registered")
	ErrDuplicateHandler = errors.New("step: duplicate handler")
	ErrNilConsumerFunc  = errors.New("step: consumer factory is nil")
)

// ConsumerFunc 为消费组创建消费者.
type ConsumerFunc func(groupID string) (messaging.Consumer, error)

// Worker 步骤处理器运行时.
//
// 每个处理器使用独立的消费组订阅 saga.<step>，结果经幂等存储记录后发布到 saga.outcome.
type Worker struct {
	consumers   ConsumerFunc
	publisher   saga.Publisher
	idempotency *idempotency.IdempotentStore

	mu       sync.RWMutex
	handlers map[saga.Step]Handler

	log         logger.Logger
	metrics     *metrics.PrometheusCollector
	now         func() time.Time
	concurrency int
	groupPrefix string
}

// WorkerOption Worker 配置选项.
type WorkerOption func(*Worker)

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) WorkerOption {
	return func(w *Worker) {
		w.log = log
	}
}

// WithMetrics 设置指标收集器.
func WithMetrics(collector *metrics.PrometheusCollector) WorkerOption {
	return func(w *Worker) {
		w.metrics = collector
	}
}

// WithClock 设置时钟，用于测试.
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		w.now = now
	}
}

// WithConcurrency 设置每个步骤的并发消费者数.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithGroupPrefix 设置消费组前缀.
func WithGroupPrefix(prefix string) WorkerOption {
	return func(w *Worker) {
		if prefix != "" {
			w.groupPrefix = prefix
		}
	}
}

// NewWorker 创建 Worker.
func NewWorker(consumers ConsumerFunc, publisher saga.Publisher, store *idempotency.IdempotentStore, opts ...WorkerOption) *Worker {
	w := &Worker{
		consumers:   consumers,
		publisher:   publisher,
		idempotency: store,
		handlers:    make(map[saga.Step]Handler),
		log:         logger.NewNop(),
		now:         time.Now,
		concurrency: 1,
		groupPrefix: "checkout-step",
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Register 注册处理器.
func (w *Worker) Register(handlers ...Handler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, h := range handlers {
		if _, ok := w.handlers[h.Step()]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateHandler, h.Step())
		}
		w.handlers[h.Step()] = h
	}
	return nil
}

// Steps 返回已注册的步骤.
func (w *Worker) Steps() []saga.Step {
	w.mu.RLock()
	defer w.mu.RUnlock()

	steps := make([]saga.Step, 0, len(w.handlers))
	for _, s := range append(saga.ForwardSteps(), saga.CompensationSteps()...) {
		if _, ok := w.handlers[s]; ok {
			steps = append(steps, s)
		}
	}
	return steps
}

// GroupID 返回步骤的消费组名.
func (w *Worker) GroupID(step saga.Step) string {
	return w.groupPrefix + "-" + strings.ToLower(strings.ReplaceAll(string(step), "_", "-"))
}

// Run 为每个处理器启动消费者，阻塞直到 ctx 取消或任一消费者出错.
func (w *Worker) Run(ctx context.Context) error {
	if w.consumers == nil {
		return ErrNilConsumerFunc
	}
	steps := w.Steps()
	if len(steps) == 0 {
		return ErrNoHandlers
	}

	type binding struct {
		step     saga.Step
		handler  Handler
		consumer messaging.Consumer
	}
	var bindings []binding
	for _, s := range steps {
		for i := 0; i < w.concurrency; i++ {
			consumer, err := w.consumers(w.GroupID(s))
			if err != nil {
				for _, b := range bindings {
					_ = b.consumer.Close()
				}
				return fmt.Errorf("step: create consumer for %s: %w", s, err)
			}
			bindings = append(bindings, binding{step: s, handler: w.handler(s), consumer: consumer})
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, b := range bindings {
		g.Go(func() error {
			defer b.consumer.Close()
			return b.consumer.Consume(ctx, []string{saga.TopicFor(b.step)}, func(ctx context.Context, msg *messaging.Message) error {
				return w.HandleMessage(ctx, b.handler, msg)
			})
		})
	}

	w.log.Infof("[Step] 步骤处理器已启动: steps=%d concurrency=%d", len(steps), w.concurrency)
	return g.Wait()
}

func (w *Worker) handler(s saga.Step) Handler {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.handlers[s]
}

// HandleMessage 处理一条命令消息.
//
// 返回错误表示消息需要重新投递.
func (w *Worker) HandleMessage(ctx context.Context, h Handler, msg *messaging.Message) error {
	e, err := saga.FromMessage(msg)
	if err != nil {
		w.log.WithContext(ctx).With(
			logger.String("topic", msg.Topic),
			logger.Err(err),
		).Error("[Step] 丢弃无法解析的命令")
		return nil
	}
	if e.IsOutcome() || e.Step != h.Step() {
		w.log.WithContext(ctx).With(
			logger.SagaID(e.SagaID),
			logger.Step(string(e.Step)),
			logger.String("status", string(e.Status)),
		).Warn("[Step] 忽略不属于本处理器的事件")
		return nil
	}

	ctx = saga.ContextWithEvent(ctx, e)
	ctx, span := tracing.StartSpan(ctx, "step "+string(e.Step),
		attribute.String("saga.id", e.SagaID),
		attribute.String("saga.step", string(e.Step)),
		attribute.Bool("saga.compensation", e.IsCompensation),
	)
	defer span.End()

	log := w.log.WithContext(ctx).With(
		logger.SagaID(e.SagaID),
		logger.Step(string(e.Step)),
		logger.Int("attempt", msg.Attempt),
	)

	start := w.now()
	body, replayed, err := w.idempotency.Execute(ctx, idempotency.Key(e.SagaID, string(e.Step)), func(ctx context.Context) ([]byte, error) {
		out, err := w.run(ctx, h, e, log)
		if err != nil {
			return nil, err
		}
		return saga.EncodeEvent(out)
	})
	if err != nil {
		tracing.RecordError(span, err)
		if errors.Is(err, idempotency.ErrInProgress) {
			log.Debug("[Step] 相同命令正在处理，稍后重投")
		} else {
			log.With(logger.Err(err)).Warn("[Step] 命令处理中断，等待重投")
		}
		return err
	}

	out, err := saga.DecodeEvent(body)
	if err != nil {
		log.With(logger.Err(err)).Error("[Step] 幂等记录损坏")
		return err
	}
	if replayed {
		log.Info("[Step] 重复命令，重放已有结果")
	} else {
		w.metrics.StepOutcome(string(e.Step), string(out.Status), e.IsCompensation)
		w.metrics.StepDuration(string(e.Step), w.now().Sub(start))
	}

	if err := w.publisher.Publish(ctx, out); err != nil {
		tracing.RecordError(span, err)
		log.With(logger.Err(err)).Error("[Step] 发布结果失败")
		return err
	}
	return nil
}

// run 执行处理器，业务失败转换为 FAILED 结果.
//
// 只有 ctx 已取消时返回错误，此时不保存幂等记录.
func (w *Worker) run(ctx context.Context, h Handler, e *saga.Event, log logger.Logger) (*saga.Event, error) {
	payload, err := h.Handle(ctx, e)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.With(logger.Err(err)).Warn("[Step] 步骤失败")
		return e.Failed(err.Error(), w.now()), nil
	}
	log.Debug("[Step] 步骤完成")
	return e.Succeeded(payload, w.now()), nil
}
