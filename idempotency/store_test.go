package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/Tsukikage7/transit-checkout/cache"
)

// StoreTestSuite 幂等存储测试套件.
type StoreTestSuite struct {
	suite.Suite
	ctx   context.Context
	cache cache.Cache
	store *IdempotentStore
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.cache = cache.NewMemoryCache(nil, nil)
	s.store = NewStore(CacheKV(s.cache), WithTTL(time.Hour), WithKeyPrefix("test:"))
}

func (s *StoreTestSuite) TearDownTest() {
	s.NoError(s.cache.Close())
}

func (s *StoreTestSuite) TestKey() {
	s.Equal("s-1:CREATE_ORDER", Key("s-1", "CREATE_ORDER"))
}

func (s *StoreTestSuite) TestGet_Missing() {
	rec, err := s.store.Get(s.ctx, "missing")
	s.NoError(err)
	s.Nil(rec)
}

func (s *StoreTestSuite) TestSetAndGet() {
	err := s.store.Set(s.ctx, "k", &Record{Key: "k", Outcome: []byte(`{"status":"COMPLETED"}`)}, time.Hour)
	s.Require().NoError(err)

	rec, err := s.store.Get(s.ctx, "k")
	s.Require().NoError(err)
	s.Require().NotNil(rec)
	s.JSONEq(`{"status":"COMPLETED"}`, string(rec.Outcome))
}

func (s *StoreTestSuite) TestSetNX() {
	ok, err := s.store.SetNX(s.ctx, "k", time.Minute)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.SetNX(s.ctx, "k", time.Minute)
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.store.Delete(s.ctx, "k"))
	ok, err = s.store.SetNX(s.ctx, "k", time.Minute)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *StoreTestSuite) TestExecute_ReplaysRecord() {
	calls := 0
	fn := func(context.Context) ([]byte, error) {
		calls++
		return []byte("outcome-1"), nil
	}

	out, replayed, err := s.store.Execute(s.ctx, "s-1:CREATE_ORDER", fn)
	s.Require().NoError(err)
	s.False(replayed)
	s.Equal("outcome-1", string(out))

	out, replayed, err = s.store.Execute(s.ctx, "s-1:CREATE_ORDER", fn)
	s.Require().NoError(err)
	s.True(replayed)
	s.Equal("outcome-1", string(out))
	s.Equal(1, calls)
}

func (s *StoreTestSuite) TestExecute_ErrorReleasesLock() {
	boom := errors.New("boom")
	_, _, err := s.store.Execute(s.ctx, "k", func(context.Context) ([]byte, error) { return nil, boom })
	s.ErrorIs(err, boom)

	out, replayed, err := s.store.Execute(s.ctx, "k", func(context.Context) ([]byte, error) { return []byte("ok"), nil })
	s.Require().NoError(err)
	s.False(replayed)
	s.Equal("ok", string(out))
}

// failingSetKV 写入记录失败的 KV，锁操作正常.
type failingSetKV struct {
	KV
}

func (f failingSetKV) Set(context.Context, string, string, time.Duration) error {
	return errors.New("redis: connection reset")
}

func (s *StoreTestSuite) TestExecute_SaveFailureReleasesLock() {
	store := NewStore(failingSetKV{KV: CacheKV(s.cache)}, WithKeyPrefix("test:"))

	calls := 0
	fn := func(context.Context) ([]byte, error) {
		calls++
		return []byte("ok"), nil
	}

	out, replayed, err := store.Execute(s.ctx, "k", fn)
	s.Require().NoError(err)
	s.False(replayed)
	s.Equal("ok", string(out))

	exists, err := s.cache.Exists(s.ctx, "test:lock:k")
	s.Require().NoError(err)
	s.False(exists)

	// 重投递可以重新执行，而不是在锁超时前一直得到 ErrInProgress
	out, replayed, err = store.Execute(s.ctx, "k", fn)
	s.Require().NoError(err)
	s.False(replayed)
	s.Equal("ok", string(out))
	s.Equal(2, calls)
}

func (s *StoreTestSuite) TestExecute_InProgress() {
	ok, err := s.store.SetNX(s.ctx, "k", time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	_, _, err = s.store.Execute(s.ctx, "k", func(context.Context) ([]byte, error) { return []byte("x"), nil })
	s.ErrorIs(err, ErrInProgress)
}

func (s *StoreTestSuite) TestExecute_EmptyKey() {
	_, _, err := s.store.Execute(s.ctx, "", func(context.Context) ([]byte, error) { return nil, nil })
	s.ErrorIs(err, ErrEmptyKey)
}

func (s *StoreTestSuite) TestExecute_ConcurrentDuplicatesRunOnce() {
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("done"), nil
	}

	const n = 8
	var (
		wg         sync.WaitGroup
		inProgress atomic.Int32
		started    = make(chan struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			if _, _, err := s.store.Execute(s.ctx, "k", fn); errors.Is(err, ErrInProgress) {
				inProgress.Add(1)
			}
		}()
	}
	for i := 0; i < n; i++ {
		<-started
	}
	s.Eventually(func() bool { return calls.Load() == 1 && inProgress.Load() == n-1 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	s.Equal(int32(1), calls.Load())
}
