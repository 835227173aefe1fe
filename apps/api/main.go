package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/config"
	"github.com/smallbiznis/referrals/internal/eventlog"
	"github.com/smallbiznis/referrals/internal/jobqueue"
	"github.com/smallbiznis/referrals/internal/migration"
	"github.com/smallbiznis/referrals/internal/observability"
	"github.com/smallbiznis/referrals/internal/referral"
	"github.com/smallbiznis/referrals/internal/referralcode"
	"github.com/smallbiznis/referrals/internal/restaurant"
	"github.com/smallbiznis/referrals/internal/reward"
	rewarddomain "github.com/smallbiznis/referrals/internal/reward/domain"
	rewardworker "github.com/smallbiznis/referrals/internal/reward/worker"
	"github.com/smallbiznis/referrals/internal/scoring"
	"github.com/smallbiznis/referrals/internal/server"
	"github.com/smallbiznis/referrals/pkg/db"
	"go.uber.org/fx"
)

// The API enqueues emission jobs for apps/worker. It only sweeps stuck
// referrals itself when no queue is configured.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		jobqueue.Module,

		eventlog.Module,
		referralcode.Module,
		restaurant.Module,
		referral.Module,
		scoring.Module,
		reward.Module,

		fx.Provide(rewardworker.NewReconciler),
		fx.Invoke(func(mode rewarddomain.DispatchMode, lc fx.Lifecycle, reconciler *rewardworker.Reconciler) {
			if mode == rewarddomain.DispatchModeSync {
				rewardworker.RunReconciler(lc, reconciler)
			}
		}),

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
