package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tsukikage7/transit-checkout/cache"
	"github.com/Tsukikage7/transit-checkout/lock"
	"github.com/Tsukikage7/transit-checkout/logger"
)

func TestJobBuilder(t *testing.T) {
	_, err := NewJob("").Schedule("* * * * * *").Handler(func(context.Context) error { return nil }).Build()
	assert.ErrorIs(t, err, ErrJobNameEmpty)

	_, err = NewJob("a").Handler(func(context.Context) error { return nil }).Build()
	assert.ErrorIs(t, err, ErrScheduleEmpty)

	_, err = NewJob("a").Schedule("* * * * * *").Build()
	assert.ErrorIs(t, err, ErrHandlerNil)

	job := NewJob("a").Schedule("* * * * * *").Handler(func(context.Context) error { return nil }).
		Singleton().Distributed().Timeout(time.Second).Retry(2, time.Millisecond).MustBuild()
	assert.True(t, job.Singleton)
	assert.True(t, job.Distributed)
	assert.Equal(t, 2, job.RetryCount)
}

func TestScheduler_AddInvalidSchedule(t *testing.T) {
	s := MustNew()
	require.NoError(t, s.Start())
	defer s.Shutdown(context.Background())

	err := s.Add(NewJob("bad").Schedule("not cron").Handler(func(context.Context) error { return nil }).MustBuild())
	assert.ErrorIs(t, err, ErrScheduleInvalid)
}

func TestScheduler_TriggerWithRetry(t *testing.T) {
	s := MustNew(WithLogger(logger.NewNop()))

	var calls atomic.Int32
	job := NewJob("flaky").
		Schedule("@every 1h").
		Handler(func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("boom")
			}
			return nil
		}).
		Retry(2, time.Millisecond).
		MustBuild()
	require.NoError(t, s.Add(job))
	assert.ErrorIs(t, s.Add(job), ErrJobExists)

	require.NoError(t, s.Trigger("flaky"))
	require.NoError(t, s.Shutdown(context.Background()))

	assert.EqualValues(t, 3, calls.Load())
	stats := job.Stats()
	assert.EqualValues(t, 2, stats.FailCount)
	assert.EqualValues(t, 1, stats.SuccessCount)
	assert.EqualValues(t, 3, stats.RunCount())

	assert.ErrorIs(t, s.Trigger("flaky"), ErrSchedulerClosed)
}

func TestScheduler_DistributedSkip(t *testing.T) {
	c := cache.NewMemoryCache(nil, logger.NewNop())
	defer c.Close()

	other := lock.NewRedis(c, lock.WithKeyPrefix(""))
	ok, err := other.TryLock(context.Background(), "scheduler:reap", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	s := MustNew(WithLocker(lock.NewRedis(c, lock.WithKeyPrefix(""))))
	var calls atomic.Int32
	job := NewJob("reap").Schedule("@every 1h").Distributed().
		Handler(func(context.Context) error { calls.Add(1); return nil }).MustBuild()
	require.NoError(t, s.Add(job))

	require.NoError(t, s.Trigger("reap"))
	require.NoError(t, s.Shutdown(context.Background()))

	assert.Zero(t, calls.Load())
	assert.EqualValues(t, 1, job.Stats().SkipCount)
}

func TestScheduler_TriggerUnknown(t *testing.T) {
	s := MustNew()
	assert.ErrorIs(t, s.Trigger("nope"), ErrJobNotFound)
}

func TestScheduler_RunAndObserver(t *testing.T) {
	type result struct {
		job     string
		skipped bool
		err     error
	}
	results := make(chan result, 8)
	s := MustNew(
		WithJobTimeout(time.Second),
		WithShutdownTimeout(time.Second),
		WithObserver(func(job string, _ time.Duration, skipped bool, err error) {
			results <- result{job, skipped, err}
		}),
	)

	release := make(chan struct{})
	job := NewJob("redrive").Schedule("@every 1h").Singleton().
		Handler(func(context.Context) error { <-release; return nil }).MustBuild()
	require.NoError(t, s.Add(job))
	assert.Equal(t, time.Second, job.Timeout)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.NoError(t, s.Trigger("redrive"))
	require.Eventually(t, job.running.Load, time.Second, time.Millisecond)
	require.NoError(t, s.Trigger("redrive"))
	assert.Equal(t, result{job: "redrive", skipped: true}, <-results)

	close(release)
	assert.Equal(t, result{job: "redrive"}, <-results)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.ErrorIs(t, s.Start(), ErrSchedulerClosed)
}

func TestScheduler_ShutdownTimeoutCancelsJobs(t *testing.T) {
	s := MustNew()
	started := make(chan struct{})
	job := NewJob("slow").Schedule("@every 1h").Timeout(time.Minute).
		Handler(func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}).MustBuild()
	require.NoError(t, s.Add(job))
	require.NoError(t, s.Trigger("slow"))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)

	assert.Eventually(t, func() bool { return job.Stats().FailCount == 1 }, time.Second, 5*time.Millisecond)
}

func TestLockTTLCoversTimeout(t *testing.T) {
	job := &Job{Timeout: time.Minute}
	assert.Equal(t, 90*time.Second, newOptions(nil).lockTTLFor(job))
	assert.Equal(t, 5*time.Minute, newOptions([]Option{WithLockTTL(5 * time.Minute)}).lockTTLFor(job))
}
