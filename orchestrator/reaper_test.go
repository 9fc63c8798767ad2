package orchestrator

import (
	"time"

	"github.com/Tsukikage7/transit-checkout/saga"
	"github.com/Tsukikage7/transit-checkout/scheduler"
)

func (s *OrchestratorTestSuite) reaper() *Reaper {
	return NewReaper(s.orch, &ReaperConfig{StuckAfter: 2 * time.Minute})
}

func (s *OrchestratorTestSuite) TestReapExpired_InProgressStartsCompensation() {
	id := s.start()
	s.completeThrough(id, saga.StepCalculatePricing)

	s.now = s.now.Add(saga.DefaultTimeout + time.Minute)
	s.Require().NoError(s.reaper().ReapExpired(s.ctx))

	sg := s.get(id)
	s.Equal(saga.StatusCompensating, sg.Status)
	s.Equal("Expired: saga timed out at APPLY_DISCOUNTS", sg.ErrorMessage)
	s.Equal(saga.StepCleanupItems, sg.CurrentStep)

	cmd := s.publisher.last()
	s.Equal(saga.StepCleanupItems, cmd.Step)
	s.Equal(saga.StepCalculatePricing, cmd.CompensatingStep)
}

func (s *OrchestratorTestSuite) TestReapExpired_StartedFails() {
	id := s.start()

	s.now = s.now.Add(saga.DefaultTimeout + time.Second)
	s.Require().NoError(s.reaper().ReapExpired(s.ctx))

	sg := s.get(id)
	s.Equal(saga.StatusFailed, sg.Status)
	s.Equal("Expired: saga timed out at VALIDATE_ITEMS", sg.ErrorMessage)
}

func (s *OrchestratorTestSuite) TestReapExpired_CompensatingFails() {
	id := s.start()
	s.completeThrough(id, saga.StepCreateOrder)
	s.fail(id, saga.StepProcessPayment, "card declined")
	published := len(s.publisher.all())

	s.now = s.now.Add(saga.DefaultTimeout + time.Second)
	s.Require().NoError(s.reaper().ReapExpired(s.ctx))

	sg := s.get(id)
	s.Equal(saga.StatusFailed, sg.Status)
	s.Equal("card declined; compensation timed out at CANCEL_ORDER", sg.ErrorMessage)
	s.Len(s.publisher.all(), published)
}

func (s *OrchestratorTestSuite) TestReapExpired_CompensationGetsFreshDeadline() {
	id := s.start()
	s.completeThrough(id, saga.StepCreateOrder)
	r := s.reaper()

	s.now = s.now.Add(saga.DefaultTimeout + time.Minute)
	s.Require().NoError(r.ReapExpired(s.ctx))
	sg := s.get(id)
	s.Require().Equal(saga.StatusCompensating, sg.Status)
	s.Equal(saga.StepCancelOrder, sg.CurrentStep)
	s.Equal(s.now.Add(saga.DefaultTimeout), sg.ExpiresAt)

	// 下一轮扫描不会终止刚开始的补偿
	s.now = s.now.Add(30 * time.Second)
	s.Require().NoError(r.ReapExpired(s.ctx))
	s.Equal(saga.StatusCompensating, s.get(id).Status)

	s.compensation(id, saga.StepCancelOrder, saga.StepCreateOrder, saga.StatusCompleted, "")
	sg = s.get(id)
	s.Equal(saga.StatusCompensating, sg.Status)
	s.Equal(saga.StepReleaseDiscounts, sg.CurrentStep)
	s.Equal(s.now.Add(saga.DefaultTimeout), sg.ExpiresAt)
	s.Equal(saga.StepReleaseDiscounts, s.publisher.last().Step)

	// 补偿步骤本身卡住超过截止时间才判定失败
	s.now = s.now.Add(saga.DefaultTimeout + time.Second)
	s.Require().NoError(r.ReapExpired(s.ctx))
	sg = s.get(id)
	s.Equal(saga.StatusFailed, sg.Status)
	s.Equal("Expired: saga timed out at PROCESS_PAYMENT; compensation timed out at RELEASE_DISCOUNTS", sg.ErrorMessage)
}

func (s *OrchestratorTestSuite) TestReapExpired_LeavesOthersAlone() {
	done := s.start()
	s.completeThrough(done, saga.StepGenerateTickets)
	fresh := s.start()

	s.now = s.now.Add(time.Minute)
	s.Require().NoError(s.reaper().ReapExpired(s.ctx))

	s.Equal(saga.StatusCompleted, s.get(done).Status)
	s.Equal(saga.StatusStarted, s.get(fresh).Status)
	s.Empty(s.get(fresh).ErrorMessage)
}

func (s *OrchestratorTestSuite) TestRedriveStuck_OncePerInterval() {
	id := s.start()
	r := s.reaper()

	s.Require().NoError(r.RedriveStuck(s.ctx))
	s.Len(s.publisher.all(), 1)

	s.now = s.now.Add(3 * time.Minute)
	s.Require().NoError(r.RedriveStuck(s.ctx))
	s.Len(s.publisher.all(), 2)
	cmd := s.publisher.last()
	s.Equal(saga.StepValidateItems, cmd.Step)
	s.False(cmd.IsCompensation)
	s.Equal(s.now, s.get(id).UpdatedAt)

	s.Require().NoError(r.RedriveStuck(s.ctx))
	s.Len(s.publisher.all(), 2)

	s.now = s.now.Add(3 * time.Minute)
	s.Require().NoError(r.RedriveStuck(s.ctx))
	s.Len(s.publisher.all(), 3)
	s.Equal(saga.StatusStarted, s.get(id).Status)
}

func (s *OrchestratorTestSuite) TestRedriveStuck_Compensation() {
	id := s.start()
	s.completeThrough(id, saga.StepCreateOrder)
	s.fail(id, saga.StepProcessPayment, "card declined")

	s.now = s.now.Add(5 * time.Minute)
	s.Require().NoError(s.reaper().RedriveStuck(s.ctx))

	cmd := s.publisher.last()
	s.True(cmd.IsCompensation)
	s.Equal(saga.StepCancelOrder, cmd.Step)
	s.Equal(saga.StepCreateOrder, cmd.CompensatingStep)
	s.Equal(saga.StatusCompensating, s.get(id).Status)
}

func (s *OrchestratorTestSuite) TestReaperRegister() {
	sched, err := scheduler.New()
	s.Require().NoError(err)

	s.Require().NoError(s.reaper().Register(sched))

	for _, name := range []string{JobReapExpired, JobRedriveStuck} {
		job, ok := sched.Get(name)
		s.Require().True(ok, name)
		s.True(job.Singleton)
		s.True(job.Distributed)
	}
}
