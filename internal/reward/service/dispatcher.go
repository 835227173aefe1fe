package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/config"
	"github.com/smallbiznis/referrals/internal/jobqueue"
	obslogger "github.com/smallbiznis/referrals/internal/observability/logger"
	"github.com/smallbiznis/referrals/internal/reward/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrQueueUnavailable = errors.New("reward queue not configured")

// ProvideDispatchMode resolves queue-or-synchronous emission once per process.
func ProvideDispatchMode(cfg config.Config) domain.DispatchMode {
	if cfg.QueueEnabled() {
		return domain.DispatchModeQueue
	}
	return domain.DispatchModeSync
}

// Enqueuer is the part of the job queue the dispatcher needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req jobqueue.EnqueueRequest) (bool, error)
}

type DispatcherParams struct {
	fx.In

	Log     *zap.Logger
	Mode    domain.DispatchMode
	Queue   *jobqueue.Queue `optional:"true"`
	Rewards domain.Service
}

type Dispatcher struct {
	log     *zap.Logger
	mode    domain.DispatchMode
	queue   Enqueuer
	rewards domain.Service
}

func NewDispatcher(p DispatcherParams) (domain.Dispatcher, error) {
	var queue Enqueuer
	if p.Queue != nil {
		queue = p.Queue
	}
	return newDispatcher(p.Log, p.Mode, queue, p.Rewards)
}

func newDispatcher(log *zap.Logger, mode domain.DispatchMode, queue Enqueuer, rewards domain.Service) (*Dispatcher, error) {
	if mode == domain.DispatchModeQueue && queue == nil {
		return nil, ErrQueueUnavailable
	}
	return &Dispatcher{
		log:     log.Named("reward.dispatcher").With(zap.String("mode", string(mode))),
		mode:    mode,
		queue:   queue,
		rewards: rewards,
	}, nil
}

func (d *Dispatcher) Mode() domain.DispatchMode {
	return d.mode
}

// EnqueueRewardEmission either enqueues the keyed emission job or, without a
// queue, emits the rewards inline and returns any failure to the caller.
func (d *Dispatcher) EnqueueRewardEmission(ctx context.Context, referralID snowflake.ID) error {
	log := obslogger.WithReferral(d.log, referralID.String())

	if d.mode == domain.DispatchModeQueue {
		added, err := d.queue.Enqueue(ctx, jobqueue.EnqueueRequest{
			Name:        domain.EmitRewardsJob,
			Key:         domain.JobKey(referralID),
			Payload:     domain.EmitRewardsPayload{ReferralID: referralID.String()},
			MaxAttempts: 3,
		})
		if err != nil {
			return err
		}
		if added {
			log.Info("reward job enqueued")
		} else {
			log.Info("reward job already known, skipped")
		}
		return nil
	}

	log.Info("processing rewards synchronously")
	_, err := d.rewards.EmitRewards(ctx, referralID)
	return err
}
