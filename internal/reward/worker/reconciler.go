package worker

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/config"
	"github.com/smallbiznis/referrals/internal/jobqueue"
	referraldomain "github.com/smallbiznis/referrals/internal/referral/domain"
	"github.com/smallbiznis/referrals/internal/reward/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reconcilerLockKey = "referrals:lock:reward-reconciler"

var ErrInvalidConfig = errors.New("invalid reconciler config")

// ReconcilerConfig controls the sweep for qualified referrals whose rewards
// were never emitted.
type ReconcilerConfig struct {
	RunInterval time.Duration
	BatchSize   int
	LockTTL     time.Duration
}

func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		RunInterval: 5 * time.Minute,
		BatchSize:   100,
		LockTTL:     2 * time.Minute,
	}
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	defaults := DefaultReconcilerConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

type ReconcilerParams struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Program      *config.ProgramHolder
	ReferralRepo referraldomain.Repository
	Dispatcher   domain.Dispatcher
	Locker       *jobqueue.Locker `optional:"true"`
	Config       ReconcilerConfig `optional:"true"`
}

// Reconciler re-requests emission for referrals that qualified more than the
// grace window ago and still have no rewards, which happens when a process
// dies between the qualifying commit and the emission request.
type Reconciler struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	program      *config.ProgramHolder
	referralRepo referraldomain.Repository
	dispatcher   domain.Dispatcher
	locker       *jobqueue.Locker
	cfg          ReconcilerConfig
}

func NewReconciler(p ReconcilerParams) (*Reconciler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Program == nil || p.ReferralRepo == nil || p.Dispatcher == nil {
		return nil, ErrInvalidConfig
	}
	return &Reconciler{
		db:           p.DB,
		log:          p.Log.Named("reward.reconciler"),
		clock:        p.Clock,
		program:      p.Program,
		referralRepo: p.ReferralRepo,
		dispatcher:   p.Dispatcher,
		locker:       p.Locker,
		cfg:          p.Config.withDefaults(),
	}, nil
}

// RunOnce sweeps one batch and returns how many emissions were requested.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	if r.locker != nil {
		token, ok, err := r.locker.TryLock(ctx, reconcilerLockKey, r.cfg.LockTTL)
		if err != nil {
			return 0, err
		}
		if !ok {
			r.log.Debug("reconciler lock held elsewhere, skipping run")
			return 0, nil
		}
		defer func() {
			if err := r.locker.Release(context.WithoutCancel(ctx), reconcilerLockKey, token); err != nil {
				r.log.Warn("reconciler lock release failed", zap.Error(err))
			}
		}()
	}

	grace := time.Duration(r.program.Get().Reconcile.GraceMinutes) * time.Minute
	cutoff := r.clock.Now().Add(-grace)
	stuck, err := r.referralRepo.ListAwaitingRewards(ctx, r.db, cutoff, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	requested := 0
	for _, referral := range stuck {
		if err := r.dispatcher.EnqueueRewardEmission(ctx, referral.ID); err != nil {
			r.log.Warn("reconcile emission request failed",
				zap.String("referral_id", referral.ID.String()),
				zap.Error(err),
			)
			continue
		}
		requested++
	}
	if requested > 0 {
		r.log.Info("reconciled pending reward emissions", zap.Int("count", requested))
	}
	return requested, nil
}

func (r *Reconciler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Warn("reconciler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
