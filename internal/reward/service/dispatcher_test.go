package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/config"
	"github.com/smallbiznis/referrals/internal/jobqueue"
	"github.com/smallbiznis/referrals/internal/reward/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEnqueuer struct {
	requests []jobqueue.EnqueueRequest
	seen     map[string]bool
	err      error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, req jobqueue.EnqueueRequest) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.requests = append(f.requests, req)
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[req.Key] {
		return false, nil
	}
	f.seen[req.Key] = true
	return true, nil
}

type fakeRewards struct {
	domain.Service
	emitted []snowflake.ID
	err     error
}

func (f *fakeRewards) EmitRewards(_ context.Context, referralID snowflake.ID) ([]domain.Reward, error) {
	f.emitted = append(f.emitted, referralID)
	return nil, f.err
}

func TestProvideDispatchMode(t *testing.T) {
	assert.Equal(t, domain.DispatchModeSync, ProvideDispatchMode(config.Config{}))
	assert.Equal(t, domain.DispatchModeQueue, ProvideDispatchMode(config.Config{RedisURL: "redis://localhost:6379"}))
}

func TestQueueDispatcherEnqueuesKeyedJob(t *testing.T) {
	queue := &fakeEnqueuer{}
	rewards := &fakeRewards{}
	d, err := newDispatcher(zap.NewNop(), domain.DispatchModeQueue, queue, rewards)
	require.NoError(t, err)

	id := snowflake.ID(42)
	require.NoError(t, d.EnqueueRewardEmission(context.Background(), id))
	require.NoError(t, d.EnqueueRewardEmission(context.Background(), id))

	require.Len(t, queue.requests, 2)
	req := queue.requests[0]
	assert.Equal(t, domain.EmitRewardsJob, req.Name)
	assert.Equal(t, "reward-42", req.Key)
	assert.Equal(t, domain.EmitRewardsPayload{ReferralID: "42"}, req.Payload)
	assert.Equal(t, 3, req.MaxAttempts)
	assert.Empty(t, rewards.emitted)
	assert.Equal(t, domain.DispatchModeQueue, d.Mode())
}

func TestQueueDispatcherReturnsEnqueueFailure(t *testing.T) {
	boom := errors.New("connection refused")
	d, err := newDispatcher(zap.NewNop(), domain.DispatchModeQueue, &fakeEnqueuer{err: boom}, &fakeRewards{})
	require.NoError(t, err)

	assert.ErrorIs(t, d.EnqueueRewardEmission(context.Background(), 7), boom)
}

func TestSyncDispatcherEmitsInline(t *testing.T) {
	rewards := &fakeRewards{}
	d, err := newDispatcher(zap.NewNop(), domain.DispatchModeSync, nil, rewards)
	require.NoError(t, err)

	require.NoError(t, d.EnqueueRewardEmission(context.Background(), 9))
	assert.Equal(t, []snowflake.ID{9}, rewards.emitted)

	rewards.err = domain.ErrNotQualified
	assert.ErrorIs(t, d.EnqueueRewardEmission(context.Background(), 9), domain.ErrNotQualified)
}

func TestQueueModeRequiresQueue(t *testing.T) {
	_, err := NewDispatcher(DispatcherParams{Log: zap.NewNop(), Mode: domain.DispatchModeQueue, Rewards: &fakeRewards{}})
	assert.ErrorIs(t, err, ErrQueueUnavailable)
}
