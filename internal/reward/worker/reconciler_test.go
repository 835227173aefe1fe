package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/referrals/internal/jobqueue"
	referraldomain "github.com/smallbiznis/referrals/internal/referral/domain"
	rewarddomain "github.com/smallbiznis/referrals/internal/reward/domain"
	rewardservice "github.com/smallbiznis/referrals/internal/reward/service"
	"github.com/smallbiznis/referrals/internal/reward/worker"
	"github.com/smallbiznis/referrals/internal/testutil/harness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReconciler(t *testing.T, h *harness.Harness, locker *jobqueue.Locker) *worker.Reconciler {
	t.Helper()
	r, err := worker.NewReconciler(worker.ReconcilerParams{
		DB:           h.DB,
		Log:          h.Log,
		Clock:        h.Clock,
		Program:      h.Program,
		ReferralRepo: h.ReferralRepo,
		Dispatcher:   h.Dispatcher,
		Locker:       locker,
	})
	require.NoError(t, err)
	return r
}

func TestReconcilerRequestsMissingEmissions(t *testing.T) {
	h := harness.New(t)
	ctx := context.Background()
	code := h.Code(t, "referrer-1")

	// The recording dispatcher drops the request, as a crash would.
	resp := h.Refer(t, code.Code, "owner-1", harness.HighFit())
	require.Equal(t, referraldomain.PipelineStatusQualified, resp.Referral.PipelineStatus)
	require.Len(t, h.Dispatcher.Calls(), 1)

	inline, err := rewardservice.NewDispatcher(rewardservice.DispatcherParams{
		Log:     h.Log,
		Mode:    rewarddomain.DispatchModeSync,
		Rewards: h.Rewards,
	})
	require.NoError(t, err)
	h.Dispatcher.Next = inline

	r := newReconciler(t, h, nil)

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "referrals inside the grace window are left alone")

	h.Clock.Advance(16 * time.Minute)
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rewards, err := h.RewardRepo.ListByReferral(ctx, h.DB, resp.Referral.ID)
	require.NoError(t, err)
	assert.Len(t, rewards, 2)

	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcilerSkipsWhenLockHeld(t *testing.T) {
	h := harness.New(t)
	ctx := context.Background()
	code := h.Code(t, "referrer-1")
	h.Refer(t, code.Code, "owner-1", harness.HighFit())
	h.Clock.Advance(time.Hour)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := jobqueue.NewLocker(client)

	require.NoError(t, mr.Set("referrals:lock:reward-reconciler", "other-replica"))
	r := newReconciler(t, h, locker)

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, h.Dispatcher.Calls(), 1)

	mr.Del("referrals:lock:reward-reconciler")
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists("referrals:lock:reward-reconciler"))
}

func TestNewReconcilerRequiresDependencies(t *testing.T) {
	_, err := worker.NewReconciler(worker.ReconcilerParams{})
	assert.ErrorIs(t, err, worker.ErrInvalidConfig)
}
