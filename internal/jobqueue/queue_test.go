package jobqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/oklog/ulid/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testQueue struct {
	*Queue
	clock *clock.FakeClock
	redis *miniredis.Miniredis
}

func newTestQueue(t *testing.T, cfg Config) testQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	return testQueue{Queue: NewQueue(client, cfg, clk), clock: clk, redis: mr}
}

func (q testQueue) counts(t *testing.T) Counts {
	t.Helper()
	counts, err := q.Counts(context.Background())
	require.NoError(t, err)
	return counts
}

func TestEnqueueDeduplicatesByKey(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := context.Background()

	added, err := q.Enqueue(ctx, EnqueueRequest{Name: "emit", Key: "reward-1", Payload: map[string]string{"id": "1"}})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = q.Enqueue(ctx, EnqueueRequest{Name: "emit", Key: "reward-1", Payload: map[string]string{"id": "1"}})
	require.NoError(t, err)
	assert.False(t, added)

	added, err = q.Enqueue(ctx, EnqueueRequest{Name: "emit", Key: "reward-2"})
	require.NoError(t, err)
	assert.True(t, added)

	assert.Equal(t, Counts{Waiting: 2}, q.counts(t))

	job, err := q.Get(ctx, "reward-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, StateWaiting, job.State)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.JSONEq(t, `{"id":"1"}`, string(job.Payload))
}

func TestEnqueueValidation(t *testing.T) {
	q := newTestQueue(t, Config{})

	_, err := q.Enqueue(context.Background(), EnqueueRequest{Name: " "})
	assert.ErrorIs(t, err, ErrInvalidJob)

	_, err = q.Enqueue(context.Background(), EnqueueRequest{Name: "emit", Payload: func() {}})
	assert.ErrorIs(t, err, ErrInvalidJob)

	var missing *Queue
	_, err = missing.Enqueue(context.Background(), EnqueueRequest{Name: "emit"})
	assert.ErrorIs(t, err, ErrQueueNotConfigured)
}

func TestEnqueueWithoutKeyAssignsID(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		added, err := q.Enqueue(ctx, EnqueueRequest{Name: "emit"})
		require.NoError(t, err)
		assert.True(t, added)
	}
	assert.Equal(t, Counts{Waiting: 2}, q.counts(t))

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	_, err = ulid.ParseStrict(job.ID)
	assert.NoError(t, err)
}

func TestClaimHonoursDelay(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, EnqueueRequest{Name: "emit", Key: "later", Delay: 10 * time.Second})
	require.NoError(t, err)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	q.clock.Advance(10 * time.Second)
	job, err = q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "later", job.ID)
	assert.Equal(t, StateActive, job.State)
	assert.Equal(t, Counts{Active: 1}, q.counts(t))
}

func TestWorkerRetriesWithBackoffThenFails(t *testing.T) {
	q := newTestQueue(t, Config{MaxAttempts: 3, BackoffBase: time.Second})
	ctx := context.Background()
	w := NewWorker(q.Queue, zap.NewNop(), nil)

	var calls int32
	w.Handle("emit", func(context.Context, *Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("database unavailable")
	})

	_, err := q.Enqueue(ctx, EnqueueRequest{Name: "emit", Key: "reward-1"})
	require.NoError(t, err)

	processed, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	// First retry waits one base interval.
	processed, err = w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
	q.clock.Advance(time.Second)
	processed, err = w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	// Second retry waits twice as long.
	q.clock.Advance(time.Second)
	processed, err = w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
	q.clock.Advance(time.Second)
	processed, err = w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, Counts{Failed: 1}, q.counts(t))

	job, err := q.Get(ctx, "reward-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, StateFailed, job.State)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, "database unavailable", job.LastError)
	assert.NotNil(t, job.FinishedAt)

	// A retained failure keeps its key, so the job is not resubmitted.
	added, err := q.Enqueue(ctx, EnqueueRequest{Name: "emit", Key: "reward-1"})
	require.NoError(t, err)
	assert.False(t, added)

	failed, err := q.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "reward-1", failed[0].ID)
}

func TestWorkerPermanentErrorSkipsRetries(t *testing.T) {
	q := newTestQueue(t, Config{MaxAttempts: 5})
	ctx := context.Background()
	w := NewWorker(q.Queue, zap.NewNop(), nil)
	w.Handle("emit", func(context.Context, *Job) error {
		return Permanent(errors.New("referral not qualified"))
	})

	_, err := q.Enqueue(ctx, EnqueueRequest{Name: "emit", Key: "reward-1"})
	require.NoError(t, err)

	processed, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, Counts{Failed: 1}, q.counts(t))

	job, err := q.Get(ctx, "reward-1")
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)
}

func TestWorkerUnknownJobFailsPermanently(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := context.Background()
	w := NewWorker(q.Queue, zap.NewNop(), nil)

	_, err := q.Enqueue(ctx, EnqueueRequest{Name: "mystery", Key: "m-1"})
	require.NoError(t, err)

	_, err = w.ProcessNext(ctx)
	require.NoError(t, err)

	job, err := q.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, job.State)
	assert.Contains(t, job.LastError, ErrNoHandler.Error())
}

func TestWorkerRecoversHandlerPanic(t *testing.T) {
	q := newTestQueue(t, Config{MaxAttempts: 2})
	ctx := context.Background()
	w := NewWorker(q.Queue, zap.NewNop(), nil)
	w.Handle("emit", func(context.Context, *Job) error { panic("nil map") })

	_, err := q.Enqueue(ctx, EnqueueRequest{Name: "emit", Key: "p-1"})
	require.NoError(t, err)

	processed, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	job, err := q.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, job.State)
	assert.Contains(t, job.LastError, "handler panic")
}

func TestCompletedRetentionReopensOldKeys(t *testing.T) {
	q := newTestQueue(t, Config{CompletedRetention: 1})
	ctx := context.Background()
	w := NewWorker(q.Queue, zap.NewNop(), nil)

	var payloads []string
	w.Handle("emit", func(_ context.Context, job *Job) error {
		var body struct{ ID string }
		if err := job.Decode(&body); err != nil {
			return err
		}
		payloads = append(payloads, body.ID)
		return nil
	})

	for _, key := range []string{"a", "b"} {
		_, err := q.Enqueue(ctx, EnqueueRequest{Name: "emit", Key: key, Payload: map[string]string{"ID": key}})
		require.NoError(t, err)
		q.clock.Advance(time.Millisecond)
	}
	for i := 0; i < 2; i++ {
		processed, err := w.ProcessNext(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}
	assert.Equal(t, []string{"a", "b"}, payloads)
	assert.Equal(t, Counts{Completed: 1}, q.counts(t))

	trimmed, err := q.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, trimmed)

	added, err := q.Enqueue(ctx, EnqueueRequest{Name: "emit", Key: "a"})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = q.Enqueue(ctx, EnqueueRequest{Name: "emit", Key: "b"})
	require.NoError(t, err)
	assert.False(t, added)
}

func TestRequeueStalledRecoversExpiredLease(t *testing.T) {
	q := newTestQueue(t, Config{LeaseDuration: time.Minute})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, EnqueueRequest{Name: "emit", Key: "stuck"})
	require.NoError(t, err)
	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	n, err := q.RequeueStalled(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	q.clock.Advance(2 * time.Minute)
	n, err = q.RequeueStalled(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, Counts{Waiting: 1}, q.counts(t))

	again, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "stuck", again.ID)
}

func TestClaimPersistsAttempt(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, EnqueueRequest{Name: "emit", Key: "reward-1"})
	require.NoError(t, err)
	claimed, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, 1, claimed.Attempts)
	assert.NotEmpty(t, claimed.LeaseToken)

	stored, err := q.Get(ctx, "reward-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, StateActive, stored.State)
}

func TestRequeueStalledCountsLostRuns(t *testing.T) {
	q := newTestQueue(t, Config{MaxAttempts: 3, LeaseDuration: time.Minute})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, EnqueueRequest{Name: "emit", Key: "stuck"})
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		job, err := q.Claim(ctx)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d", attempt)
		assert.Equal(t, attempt, job.Attempts)

		q.clock.Advance(2 * time.Minute)
		n, err := q.RequeueStalled(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	assert.Equal(t, Counts{Failed: 1}, q.counts(t))
	job, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	stored, err := q.Get(ctx, "stuck")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, StateFailed, stored.State)
	assert.Equal(t, 3, stored.Attempts)
	assert.Equal(t, "lease expired", stored.LastError)

	added, err := q.Enqueue(ctx, EnqueueRequest{Name: "emit", Key: "stuck"})
	require.NoError(t, err)
	assert.False(t, added)
}

func TestFinishAfterLeaseRecoveredIsRejected(t *testing.T) {
	q := newTestQueue(t, Config{MaxAttempts: 3, LeaseDuration: time.Minute})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, EnqueueRequest{Name: "emit", Key: "slow"})
	require.NoError(t, err)
	stale, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, stale)

	q.clock.Advance(2 * time.Minute)
	_, err = q.RequeueStalled(ctx, 10)
	require.NoError(t, err)

	assert.ErrorIs(t, q.Complete(ctx, stale), ErrLeaseLost)
	assert.Equal(t, Counts{Waiting: 1}, q.counts(t))

	current, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, 2, current.Attempts)

	_, err = q.Fail(ctx, stale, errors.New("late failure"))
	assert.ErrorIs(t, err, ErrLeaseLost)
	assert.Equal(t, Counts{Active: 1}, q.counts(t))

	require.NoError(t, q.Complete(ctx, current))
	assert.Equal(t, Counts{Completed: 1}, q.counts(t))
}

func TestWorkerReportsLostLease(t *testing.T) {
	q := newTestQueue(t, Config{LeaseDuration: time.Minute})
	ctx := context.Background()
	w := NewWorker(q.Queue, zap.NewNop(), nil)
	w.Handle("emit", func(ctx context.Context, _ *Job) error {
		q.clock.Advance(2 * time.Minute)
		_, err := q.RequeueStalled(ctx, 10)
		return err
	})

	_, err := q.Enqueue(ctx, EnqueueRequest{Name: "emit", Key: "overrun"})
	require.NoError(t, err)

	processed, err := w.ProcessNext(ctx)
	assert.True(t, processed)
	assert.ErrorIs(t, err, ErrLeaseLost)
	assert.Equal(t, Counts{Waiting: 1}, q.counts(t))
}

func TestRunForeverDrainsQueue(t *testing.T) {
	q := newTestQueue(t, Config{Concurrency: 2, PollInterval: 5 * time.Millisecond})
	w := NewWorker(q.Queue, zap.NewNop(), nil)

	var done int32
	w.Handle("emit", func(context.Context, *Job) error {
		atomic.AddInt32(&done, 1)
		return nil
	})
	for _, key := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(context.Background(), EnqueueRequest{Name: "emit", Key: key})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- w.RunForever(ctx) }()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&done) == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, Counts{Completed: 3}, q.counts(t))
}

func TestBackoff(t *testing.T) {
	cfg := Config{BackoffBase: time.Second}
	assert.Equal(t, time.Second, cfg.Backoff(0))
	assert.Equal(t, time.Second, cfg.Backoff(1))
	assert.Equal(t, 2*time.Second, cfg.Backoff(2))
	assert.Equal(t, 4*time.Second, cfg.Backoff(3))
	assert.Equal(t, cfg.Backoff(20), cfg.Backoff(50))
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad payload")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
	assert.NoError(t, Permanent(nil))
}
