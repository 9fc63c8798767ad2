package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/Tsukikage7/transit-checkout/cache"
	"github.com/Tsukikage7/transit-checkout/messaging"
	"github.com/Tsukikage7/transit-checkout/saga"
)

// recordingPublisher 记录发布的事件.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*saga.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e *saga.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) all() []*saga.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*saga.Event(nil), p.events...)
}

func (p *recordingPublisher) last() *saga.Event {
	events := p.all()
	if len(events) == 0 {
		return nil
	}
	return events[len(events)-1]
}

// conflictingStore 在前 conflicts 次 Update 时返回版本冲突.
type conflictingStore struct {
	*saga.MemoryStore
	mu        sync.Mutex
	conflicts int
	updates   int
}

func (c *conflictingStore) Update(ctx context.Context, s *saga.Saga, expectedVersion int64) (*saga.Saga, error) {
	c.mu.Lock()
	c.updates++
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return nil, saga.ErrVersionConflict
	}
	c.mu.Unlock()
	return c.MemoryStore.Update(ctx, s, expectedVersion)
}

func (c *conflictingStore) setConflicts(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts = n
	c.updates = 0
}

// OrchestratorTestSuite 编排器测试套件.
type OrchestratorTestSuite struct {
	suite.Suite
	ctx       context.Context
	now       time.Time
	store     *conflictingStore
	publisher *recordingPublisher
	orch      *Orchestrator
	seq       int
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorTestSuite))
}

func (s *OrchestratorTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	s.seq = 0
	s.store = &conflictingStore{MemoryStore: saga.NewMemoryStore()}
	s.publisher = &recordingPublisher{}
	s.orch = New(s.store, s.publisher,
		WithConfig(&Config{ConflictBackoff: time.Millisecond}),
		WithClock(func() time.Time { return s.now }),
		WithIDGenerator(func() string {
			s.seq++
			return fmt.Sprintf("id-%d", s.seq)
		}),
	)
}

func (s *OrchestratorTestSuite) request() *saga.CheckoutRequest {
	return &saga.CheckoutRequest{
		Items: []saga.LineItem{
			{ItemID: "single", Kind: saga.KindP2P, Origin: "Central", Destination: "Harbour", Quantity: 2},
		},
		PaymentMethod:      saga.PaymentCard,
		DiscountPackageIDs: []string{"pkg-10"},
		VoucherIDs:         []string{"v-1"},
	}
}

func (s *OrchestratorTestSuite) start() string {
	id, err := s.orch.StartSaga(s.ctx, s.request(), "user-1")
	s.Require().NoError(err)
	return id
}

func (s *OrchestratorTestSuite) get(id string) *saga.Saga {
	sg, err := s.store.Get(s.ctx, id)
	s.Require().NoError(err)
	return sg
}

// result 返回步骤成功时的结果 payload.
func (s *OrchestratorTestSuite) result(step saga.Step) map[string]any {
	var v any
	switch step {
	case saga.StepValidateItems:
		v = saga.ValidateItemsResult{Items: []saga.ValidatedItem{
			{ItemID: "single", Kind: saga.KindP2P, Origin: "Central", Destination: "Harbour", Quantity: 2, UnitPrice: decimal.RequireFromString("2.50")},
		}}
	case saga.StepCalculatePricing:
		v = saga.PricingResult{
			BaseTotal:     decimal.NewFromInt(5),
			Currency:      "EUR",
			ReservationID: "res-1",
			PricedItems:   []saga.PricedItem{{ItemID: "single", Quantity: 2, UnitPrice: decimal.RequireFromString("2.50"), LineTotal: decimal.NewFromInt(5)}},
		}
	case saga.StepApplyDiscounts:
		v = saga.DiscountsResult{
			DiscountTotal: decimal.RequireFromString("1.50"),
			FinalTotal:    decimal.RequireFromString("3.50"),
			AppliedDiscounts: []saga.AppliedDiscount{
				{ID: "pkg-10", Kind: saga.DiscountPackage, Amount: decimal.RequireFromString("0.50")},
				{ID: "v-1", Kind: saga.DiscountVoucher, Amount: decimal.NewFromInt(1)},
			},
		}
	case saga.StepCreateOrder:
		v = saga.CreateOrderResult{OrderID: "ord-1"}
	case saga.StepProcessPayment:
		v = saga.PaymentResult{PaymentID: "pay-1", Provider: "card"}
	case saga.StepGenerateTickets:
		v = saga.TicketsResult{TicketIDs: []string{"t-1", "t-2"}}
	}
	p, err := saga.ToPayload(v)
	s.Require().NoError(err)
	return p
}

func (s *OrchestratorTestSuite) outcome(id string, step saga.Step, status saga.Status, payload map[string]any, reason string) *saga.Event {
	return &saga.Event{
		SagaID:    id,
		SagaType:  saga.TypeCheckout,
		Step:      step,
		Status:    status,
		Payload:   payload,
		Error:     reason,
		Timestamp: s.now,
	}
}

func (s *OrchestratorTestSuite) complete(id string, step saga.Step) {
	s.Require().NoError(s.orch.OnStepOutcome(s.ctx, s.outcome(id, step, saga.StatusCompleted, s.result(step), "")))
}

func (s *OrchestratorTestSuite) fail(id string, step saga.Step, reason string) {
	s.Require().NoError(s.orch.OnStepOutcome(s.ctx, s.outcome(id, step, saga.StatusFailed, nil, reason)))
}

func (s *OrchestratorTestSuite) compensation(id string, comp, undo saga.Step, status saga.Status, reason string) {
	e := s.outcome(id, comp, status, nil, reason)
	e.IsCompensation = true
	e.CompensatingStep = undo
	s.Require().NoError(s.orch.OnStepOutcome(s.ctx, e))
}

func (s *OrchestratorTestSuite) completeThrough(id string, last saga.Step) {
	for _, step := range saga.ForwardSteps() {
		s.complete(id, step)
		if step == last {
			return
		}
	}
}

func (s *OrchestratorTestSuite) TestStartSaga() {
	id := s.start()

	sg := s.get(id)
	s.Equal(saga.StatusStarted, sg.Status)
	s.Equal(saga.StepValidateItems, sg.CurrentStep)
	s.Equal(int64(1), sg.Version)
	s.Equal("user-1", sg.UserID)
	s.Equal(s.now.Add(saga.DefaultTimeout), sg.ExpiresAt)
	s.Equal("EUR", sg.Data.Request.Currency)
	s.NotEmpty(sg.CorrelationID)

	events := s.publisher.all()
	s.Require().Len(events, 1)
	cmd := events[0]
	s.Equal(saga.StepValidateItems, cmd.Step)
	s.Equal(saga.StatusInProgress, cmd.Status)
	s.Equal("saga.validate_items", cmd.Topic())
	s.Equal(sg.CorrelationID, cmd.CorrelationID)
	s.Contains(cmd.Payload, "request")
}

func (s *OrchestratorTestSuite) TestStartSaga_InvalidRequest() {
	_, err := s.orch.StartSaga(s.ctx, &saga.CheckoutRequest{PaymentMethod: saga.PaymentCard}, "user-1")
	s.ErrorIs(err, saga.ErrInvalidRequest)

	_, err = s.orch.StartSaga(s.ctx, s.request(), "")
	s.ErrorIs(err, saga.ErrInvalidRequest)

	_, err = s.orch.StartSaga(s.ctx, nil, "user-1")
	s.ErrorIs(err, saga.ErrInvalidRequest)

	s.Zero(s.store.Len())
	s.Empty(s.publisher.all())
}

func (s *OrchestratorTestSuite) TestStartSaga_PublishFailure() {
	s.publisher.err = messaging.ErrProducerClosed

	id, err := s.orch.StartSaga(s.ctx, s.request(), "user-1")
	s.ErrorIs(err, messaging.ErrProducerClosed)
	s.Require().NotEmpty(id)

	sg := s.get(id)
	s.Equal(saga.StatusFailed, sg.Status)
	s.Contains(sg.ErrorMessage, "publish failed: ")
}

func (s *OrchestratorTestSuite) TestHappyPath() {
	id := s.start()

	for i, step := range saga.ForwardSteps() {
		s.complete(id, step)
		sg := s.get(id)
		if next, ok := step.Next(); ok {
			s.Equal(saga.StatusInProgress, sg.Status)
			s.Equal(next, sg.CurrentStep)
			cmd := s.publisher.last()
			s.Equal(next, cmd.Step)
			s.False(cmd.IsCompensation)
		}
		s.Len(sg.CompletedSteps, i+1)
	}

	sg := s.get(id)
	s.Equal(saga.StatusCompleted, sg.Status)
	s.Equal("ord-1", sg.OrderID)
	s.Equal("pay-1", sg.Data.PaymentID)
	s.Equal([]string{"t-1", "t-2"}, sg.Data.TicketIDs)
	s.True(decimal.RequireFromString("3.50").Equal(sg.Data.FinalTotal))
	s.Len(s.publisher.all(), len(saga.ForwardSteps()))

	payment := s.publisher.all()[4]
	s.Equal(saga.StepProcessPayment, payment.Step)
	s.Equal("ord-1", payment.Payload["orderId"])
	s.Equal("3.5", payment.Payload["finalTotal"])
}

func (s *OrchestratorTestSuite) TestDuplicateAndStaleOutcomesIgnored() {
	id := s.start()
	s.complete(id, saga.StepValidateItems)
	version := s.get(id).Version
	published := len(s.publisher.all())

	s.complete(id, saga.StepValidateItems)
	s.complete(id, saga.StepCreateOrder)
	s.fail(id, saga.StepGenerateTickets, "stale failure")

	sg := s.get(id)
	s.Equal(version, sg.Version)
	s.Equal(saga.StepCalculatePricing, sg.CurrentStep)
	s.Equal(saga.StatusInProgress, sg.Status)
	s.Len(s.publisher.all(), published)
}

func (s *OrchestratorTestSuite) TestValidateFailure_NothingToCompensate() {
	id := s.start()
	s.fail(id, saga.StepValidateItems, "item single is not active")

	sg := s.get(id)
	s.Equal(saga.StatusFailed, sg.Status)
	s.Equal("item single is not active", sg.ErrorMessage)
	s.Len(s.publisher.all(), 1)
}

func (s *OrchestratorTestSuite) TestPaymentFailure_FullUnwind() {
	id := s.start()
	s.completeThrough(id, saga.StepCreateOrder)
	s.fail(id, saga.StepProcessPayment, "card declined")

	sg := s.get(id)
	s.Equal(saga.StatusCompensating, sg.Status)
	s.Equal(saga.StepCancelOrder, sg.CurrentStep)
	s.Equal("card declined", sg.ErrorMessage)

	cmd := s.publisher.last()
	s.True(cmd.IsCompensation)
	s.Equal(saga.StatusCompensating, cmd.Status)
	s.Equal(saga.StepCancelOrder, cmd.Step)
	s.Equal(saga.StepCreateOrder, cmd.CompensatingStep)
	s.Equal("ord-1", cmd.Payload["orderId"])

	s.compensation(id, saga.StepCancelOrder, saga.StepCreateOrder, saga.StatusCompleted, "")
	cmd = s.publisher.last()
	s.Equal(saga.StepReleaseDiscounts, cmd.Step)
	s.Equal(saga.StepApplyDiscounts, cmd.CompensatingStep)
	s.Equal([]any{"pkg-10"}, cmd.Payload["discountPackageIds"])
	s.Equal([]any{"v-1"}, cmd.Payload["voucherIds"])

	s.compensation(id, saga.StepReleaseDiscounts, saga.StepApplyDiscounts, saga.StatusCompleted, "")
	cmd = s.publisher.last()
	s.Equal(saga.StepCleanupItems, cmd.Step)
	s.Equal("res-1", cmd.Payload["reservationId"])

	s.compensation(id, saga.StepCleanupItems, saga.StepCalculatePricing, saga.StatusCompleted, "")

	sg = s.get(id)
	s.Equal(saga.StatusCompensated, sg.Status)
	s.Equal([]saga.Step{saga.StepCreateOrder, saga.StepApplyDiscounts, saga.StepCalculatePricing}, sg.CompensatedSteps)
	s.Equal("card declined", sg.ErrorMessage)
}

func (s *OrchestratorTestSuite) TestTicketsFailure_CancelsPaymentFirst() {
	id := s.start()
	s.completeThrough(id, saga.StepProcessPayment)
	s.fail(id, saga.StepGenerateTickets, "ticket printer offline")

	cmd := s.publisher.last()
	s.Equal(saga.StepCancelPayment, cmd.Step)
	s.Equal(saga.StepProcessPayment, cmd.CompensatingStep)
	s.Equal("pay-1", cmd.Payload["paymentId"])
	s.Equal("card", cmd.Payload["provider"])
}

func (s *OrchestratorTestSuite) TestDuplicateCompensationOutcomeIgnored() {
	id := s.start()
	s.completeThrough(id, saga.StepCreateOrder)
	s.fail(id, saga.StepProcessPayment, "card declined")
	s.compensation(id, saga.StepCancelOrder, saga.StepCreateOrder, saga.StatusCompleted, "")
	version := s.get(id).Version

	s.compensation(id, saga.StepCancelOrder, saga.StepCreateOrder, saga.StatusCompleted, "")
	s.Equal(version, s.get(id).Version)
	s.Equal(saga.StepReleaseDiscounts, s.get(id).CurrentStep)
}

func (s *OrchestratorTestSuite) TestCompensationFailure() {
	id := s.start()
	s.completeThrough(id, saga.StepCreateOrder)
	s.fail(id, saga.StepProcessPayment, "card declined")
	published := len(s.publisher.all())

	s.compensation(id, saga.StepCancelOrder, saga.StepCreateOrder, saga.StatusFailed, "order service down")

	sg := s.get(id)
	s.Equal(saga.StatusFailed, sg.Status)
	s.Equal("card declined; compensation CANCEL_ORDER failed: order service down", sg.ErrorMessage)
	s.Len(s.publisher.all(), published)

	// 重复投递不会再次追加错误
	s.compensation(id, saga.StepCancelOrder, saga.StepCreateOrder, saga.StatusFailed, "order service down")
	s.Equal(sg.Version, s.get(id).Version)
	s.Equal(sg.ErrorMessage, s.get(id).ErrorMessage)
}

func (s *OrchestratorTestSuite) TestLateSuccessIsUndone() {
	id := s.start()
	s.completeThrough(id, saga.StepCreateOrder)
	s.fail(id, saga.StepProcessPayment, "gateway timeout")
	version := s.get(id).Version

	late := s.outcome(id, saga.StepProcessPayment, saga.StatusCompleted, map[string]any{"paymentId": "pay-late", "provider": "card"}, "")
	s.Require().NoError(s.orch.OnStepOutcome(s.ctx, late))

	sg := s.get(id)
	s.Equal(version, sg.Version)
	s.Equal(saga.StatusCompensating, sg.Status)
	s.Equal(saga.StepCancelOrder, sg.CurrentStep)
	s.False(sg.HasCompleted(saga.StepProcessPayment))

	cmd := s.publisher.last()
	s.Equal(saga.StepCancelPayment, cmd.Step)
	s.True(cmd.IsCompensation)
	s.Equal("pay-late", cmd.Payload["paymentId"])

	// 补偿结果不属于当前补偿步骤，被忽略
	s.compensation(id, saga.StepCancelPayment, saga.StepProcessPayment, saga.StatusCompleted, "")
	s.Equal(version, s.get(id).Version)
}

func (s *OrchestratorTestSuite) TestLateUndoFailureIsRecorded() {
	id := s.start()
	s.completeThrough(id, saga.StepCreateOrder)
	s.fail(id, saga.StepProcessPayment, "gateway timeout")
	late := s.outcome(id, saga.StepProcessPayment, saga.StatusCompleted, map[string]any{"paymentId": "pay-late", "provider": "card"}, "")
	s.Require().NoError(s.orch.OnStepOutcome(s.ctx, late))
	before := s.get(id)

	// 迟到扣款的退款被拒绝
	s.compensation(id, saga.StepCancelPayment, saga.StepProcessPayment, saga.StatusFailed, "refund rejected")

	sg := s.get(id)
	s.Equal(before.Version+1, sg.Version)
	s.Equal("gateway timeout; compensation CANCEL_PAYMENT failed: refund rejected", sg.ErrorMessage)
	s.Equal(saga.StatusCompensating, sg.Status)
	s.Equal(saga.StepCancelOrder, sg.CurrentStep)

	// 主补偿链不受影响
	s.compensation(id, saga.StepCancelOrder, saga.StepCreateOrder, saga.StatusCompleted, "")
	s.Equal(saga.StepReleaseDiscounts, s.get(id).CurrentStep)

	// 同一失败重复投递只记录一次
	version := s.get(id).Version
	s.compensation(id, saga.StepCancelPayment, saga.StepProcessPayment, saga.StatusFailed, "refund rejected")
	s.Equal(version, s.get(id).Version)
}

func (s *OrchestratorTestSuite) TestUndoFailureAfterTerminalIsRecorded() {
	id := s.start()
	s.completeThrough(id, saga.StepCalculatePricing)
	s.fail(id, saga.StepApplyDiscounts, "package expired")
	s.compensation(id, saga.StepCleanupItems, saga.StepCalculatePricing, saga.StatusCompleted, "")
	s.Require().Equal(saga.StatusCompensated, s.get(id).Status)

	s.compensation(id, saga.StepReleaseDiscounts, saga.StepApplyDiscounts, saga.StatusFailed, "voucher ledger unavailable")

	sg := s.get(id)
	s.Equal(saga.StatusCompensated, sg.Status)
	s.Contains(sg.ErrorMessage, "compensation RELEASE_DISCOUNTS failed: voucher ledger unavailable")
}

func (s *OrchestratorTestSuite) TestStaleCacheDoesNotDropOutcome() {
	durable := saga.NewMemoryStore()
	c := cache.NewMemoryCache(nil, nil)
	defer c.Close()
	cached := saga.NewCachedStore(durable, c, saga.WithCacheTTL(time.Minute))
	clock := WithClock(func() time.Time { return s.now })
	front := New(cached, s.publisher, clock)
	peer := New(durable, s.publisher, clock)

	id, err := front.StartSaga(s.ctx, s.request(), "user-1")
	s.Require().NoError(err)
	sg, err := front.GetSaga(s.ctx, id)
	s.Require().NoError(err)
	s.Require().Equal(saga.StepValidateItems, sg.CurrentStep)

	// 另一实例直接推进存储，缓存中仍是旧快照
	s.Require().NoError(peer.OnStepOutcome(s.ctx, s.outcome(id, saga.StepValidateItems, saga.StatusCompleted, s.result(saga.StepValidateItems), "")))
	stale, err := front.GetSaga(s.ctx, id)
	s.Require().NoError(err)
	s.Require().Equal(saga.StepValidateItems, stale.CurrentStep)

	s.Require().NoError(front.OnStepOutcome(s.ctx, s.outcome(id, saga.StepCalculatePricing, saga.StatusCompleted, s.result(saga.StepCalculatePricing), "")))

	got, err := durable.Get(s.ctx, id)
	s.Require().NoError(err)
	s.True(got.HasCompleted(saga.StepCalculatePricing))
	s.Equal(saga.StepApplyDiscounts, got.CurrentStep)
	s.Equal(saga.StepApplyDiscounts, s.publisher.last().Step)

	fresh, err := front.GetSaga(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(got.Version, fresh.Version)
}

func (s *OrchestratorTestSuite) TestCancelSaga() {
	id := s.start()

	s.Require().NoError(s.orch.CancelSaga(s.ctx, id, "too early"))
	s.Equal(saga.StatusStarted, s.get(id).Status)

	s.completeThrough(id, saga.StepCalculatePricing)
	s.Require().NoError(s.orch.CancelSaga(s.ctx, id, "changed my mind"))

	sg := s.get(id)
	s.Equal(saga.StatusCompensating, sg.Status)
	s.Equal("Cancelled: changed my mind", sg.ErrorMessage)
	s.Equal(saga.StepCleanupItems, sg.CurrentStep)

	s.ErrorIs(s.orch.CancelSaga(s.ctx, "missing", "x"), saga.ErrSagaNotFound)
}

func (s *OrchestratorTestSuite) TestCancelCompletedSagaIsNoop() {
	id := s.start()
	s.completeThrough(id, saga.StepGenerateTickets)

	s.Require().NoError(s.orch.CancelSaga(s.ctx, id, "late"))
	s.Equal(saga.StatusCompleted, s.get(id).Status)
	s.Empty(s.get(id).ErrorMessage)
}

func (s *OrchestratorTestSuite) TestGetSagaStatus() {
	id := s.start()

	status, err := s.orch.GetSagaStatus(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(saga.StatusStarted, status)

	_, err = s.orch.GetSagaStatus(s.ctx, "missing")
	s.ErrorIs(err, saga.ErrSagaNotFound)
}

func (s *OrchestratorTestSuite) TestOutcomeForUnknownSaga() {
	s.NoError(s.orch.OnStepOutcome(s.ctx, s.outcome("missing", saga.StepValidateItems, saga.StatusCompleted, nil, "")))
	s.Error(s.orch.OnStepOutcome(s.ctx, nil))
}

func (s *OrchestratorTestSuite) TestVersionConflictRetried() {
	id := s.start()
	s.store.setConflicts(2)

	s.complete(id, saga.StepValidateItems)

	s.Equal(3, s.store.updates)
	s.Equal(saga.StepCalculatePricing, s.get(id).CurrentStep)
	s.Len(s.publisher.all(), 2)
}

func (s *OrchestratorTestSuite) TestVersionConflictExhausted() {
	id := s.start()
	s.store.setConflicts(100)

	err := s.orch.OnStepOutcome(s.ctx, s.outcome(id, saga.StepValidateItems, saga.StatusCompleted, s.result(saga.StepValidateItems), ""))
	s.ErrorIs(err, saga.ErrVersionConflict)
	s.Equal(5, s.store.updates)
	s.Len(s.publisher.all(), 1)
}

func (s *OrchestratorTestSuite) TestHandleMessage() {
	id := s.start()

	s.NoError(s.orch.HandleMessage(s.ctx, &messaging.Message{Topic: saga.OutcomeTopic, Value: []byte("not json")}))

	bad := s.outcome(id, saga.StepValidateItems, saga.StatusCompleted, map[string]any{"items": "oops"}, "")
	msg, err := saga.ToMessage(bad)
	s.Require().NoError(err)
	s.NoError(s.orch.HandleMessage(s.ctx, msg))
	s.Equal(saga.StatusStarted, s.get(id).Status)

	good, err := saga.ToMessage(s.outcome(id, saga.StepValidateItems, saga.StatusCompleted, s.result(saga.StepValidateItems), ""))
	s.Require().NoError(err)

	s.store.setConflicts(100)
	s.ErrorIs(s.orch.HandleMessage(s.ctx, good), saga.ErrVersionConflict)

	s.store.setConflicts(0)
	s.NoError(s.orch.HandleMessage(s.ctx, good))
	s.Equal(saga.StatusInProgress, s.get(id).Status)
}

func (s *OrchestratorTestSuite) TestForwardPublishFailureIsRedelivered() {
	id := s.start()
	s.publisher.err = messaging.ErrProducerClosed

	err := s.orch.OnStepOutcome(s.ctx, s.outcome(id, saga.StepValidateItems, saga.StatusCompleted, s.result(saga.StepValidateItems), ""))
	s.ErrorIs(err, messaging.ErrProducerClosed)

	// 状态已持久化，重投被视为重复事件
	s.publisher.err = nil
	s.Require().NoError(s.orch.OnStepOutcome(s.ctx, s.outcome(id, saga.StepValidateItems, saga.StatusCompleted, s.result(saga.StepValidateItems), "")))
	s.Equal(saga.StepCalculatePricing, s.get(id).CurrentStep)
	s.Len(s.publisher.all(), 1)
}
