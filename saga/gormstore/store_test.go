package gormstore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/Tsukikage7/transit-checkout/database"
	"github.com/Tsukikage7/transit-checkout/logger"
	"github.com/Tsukikage7/transit-checkout/saga"
)

// GormStoreTestSuite 基于 sqlite 内存库的存储测试套件.
type GormStoreTestSuite struct {
	suite.Suite
	ctx   context.Context
	db    *gorm.DB
	store *Store
}

func TestGormStoreSuite(t *testing.T) {
	suite.Run(t, new(GormStoreTestSuite))
}

func (s *GormStoreTestSuite) SetupTest() {
	s.ctx = context.Background()
	db, err := database.OpenGORM(&database.Config{
		Driver:   database.DriverSQLite,
		DSN:      ":memory:",
		LogLevel: "silent",
	}, logger.NewNop())
	s.Require().NoError(err)
	s.db = db
	s.store = New(db, WithLogger(logger.NewNop()))
	s.Require().NoError(s.store.Migrate(s.ctx))
}

func (s *GormStoreTestSuite) TearDownTest() {
	s.NoError(database.CloseGORM(s.db))
}

func (s *GormStoreTestSuite) newSaga(id string, now time.Time) *saga.Saga {
	req := &saga.CheckoutRequest{
		Items:         []saga.LineItem{{ItemID: "pass-1", Kind: saga.KindPass, Quantity: 1}},
		PaymentMethod: saga.PaymentCard,
		Currency:      "EUR",
	}
	return saga.New(id, "u-1", "c-"+id, req, now.UTC().Truncate(time.Millisecond), time.Minute)
}

func (s *GormStoreTestSuite) TestCreateAndGet() {
	now := time.Now()
	in := s.newSaga("s-1", now)
	in.Data.BaseTotal = decimal.RequireFromString("4.90")

	id, err := s.store.Create(s.ctx, in)
	s.Require().NoError(err)
	s.Equal("s-1", id)
	s.Equal(int64(1), in.Version)

	got, err := s.store.Get(s.ctx, "s-1")
	s.Require().NoError(err)
	s.Equal(int64(1), got.Version)
	s.Equal(saga.StatusStarted, got.Status)
	s.Equal(saga.StepValidateItems, got.CurrentStep)
	s.Equal(saga.TypeCheckout, got.Type)
	s.Empty(got.CompletedSteps)
	s.Equal("pass-1", got.Data.Request.Items[0].ItemID)
	s.True(decimal.RequireFromString("4.9").Equal(got.Data.BaseTotal))
	s.True(in.ExpiresAt.Equal(got.ExpiresAt))

	_, err = s.store.Create(s.ctx, in)
	s.ErrorIs(err, saga.ErrDuplicateID)
}

func (s *GormStoreTestSuite) TestGet_NotFound() {
	_, err := s.store.Get(s.ctx, "missing")
	s.ErrorIs(err, saga.ErrSagaNotFound)
}

func (s *GormStoreTestSuite) TestUpdate_OptimisticLock() {
	_, err := s.store.Create(s.ctx, s.newSaga("s-1", time.Now()))
	s.Require().NoError(err)

	loaded, err := s.store.Get(s.ctx, "s-1")
	s.Require().NoError(err)
	loaded.Status = saga.StatusInProgress
	loaded.CurrentStep = saga.StepCreateOrder
	loaded.MarkCompleted(saga.StepValidateItems)
	loaded.SetOrderID("o-1")
	loaded.UpdatedAt = time.Now()

	updated, err := s.store.Update(s.ctx, loaded, 1)
	s.Require().NoError(err)
	s.Equal(int64(2), updated.Version)

	_, err = s.store.Update(s.ctx, loaded, 1)
	s.ErrorIs(err, saga.ErrVersionConflict)

	_, err = s.store.Update(s.ctx, s.newSaga("missing", time.Now()), 1)
	s.ErrorIs(err, saga.ErrSagaNotFound)

	got, err := s.store.Get(s.ctx, "s-1")
	s.Require().NoError(err)
	s.Equal(int64(2), got.Version)
	s.Equal(saga.StatusInProgress, got.Status)
	s.Equal("o-1", got.OrderID)
	s.Equal([]saga.Step{saga.StepValidateItems}, got.CompletedSteps)
}

func (s *GormStoreTestSuite) TestPreservesUnknownDataFields() {
	_, err := s.store.Create(s.ctx, s.newSaga("s-1", time.Now()))
	s.Require().NoError(err)

	// 模拟新版本实例写入的字段
	s.Require().NoError(s.db.Model(&sagaRecord{}).Where("id = ?", "s-1").
		Update("saga_data", `{"v":2,"orderId":"o-9","channel":"kiosk"}`).Error)

	got, err := s.store.Get(s.ctx, "s-1")
	s.Require().NoError(err)
	s.Equal(2, got.Data.V)
	got.Data.PaymentID = "p-1"
	got.UpdatedAt = time.Now()
	_, err = s.store.Update(s.ctx, got, got.Version)
	s.Require().NoError(err)

	var rec sagaRecord
	s.Require().NoError(s.db.Where("id = ?", "s-1").Take(&rec).Error)
	s.Contains(string(rec.SagaData), `"channel":"kiosk"`)
	s.Contains(string(rec.SagaData), `"paymentId":"p-1"`)
}

func (s *GormStoreTestSuite) TestFindExpiredAndStuck() {
	now := time.Now().UTC()
	expired := s.newSaga("expired", now.Add(-time.Hour))
	expired.Status = saga.StatusInProgress
	fresh := s.newSaga("fresh", now)
	done := s.newSaga("done", now.Add(-time.Hour))
	done.Status = saga.StatusCompensated

	for _, in := range []*saga.Saga{expired, fresh, done} {
		_, err := s.store.Create(s.ctx, in)
		s.Require().NoError(err)
	}

	got, err := s.store.FindExpired(s.ctx, now)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("expired", got[0].ID)

	stuck, err := s.store.FindStuck(s.ctx, saga.StatusInProgress, now.Add(-time.Minute))
	s.Require().NoError(err)
	s.Require().Len(stuck, 1)
	s.Equal("expired", stuck[0].ID)

	stuck, err = s.store.FindStuck(s.ctx, saga.StatusStarted, now.Add(-time.Minute))
	s.Require().NoError(err)
	s.Empty(stuck)
}
