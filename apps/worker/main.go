package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/config"
	"github.com/smallbiznis/referrals/internal/eventlog"
	"github.com/smallbiznis/referrals/internal/jobqueue"
	"github.com/smallbiznis/referrals/internal/observability"
	"github.com/smallbiznis/referrals/internal/referral"
	"github.com/smallbiznis/referrals/internal/referralcode"
	"github.com/smallbiznis/referrals/internal/restaurant"
	"github.com/smallbiznis/referrals/internal/reward"
	rewardworker "github.com/smallbiznis/referrals/internal/reward/worker"
	"github.com/smallbiznis/referrals/internal/scoring"
	"github.com/smallbiznis/referrals/pkg/db"
	"go.uber.org/fx"
)

// The worker drains the reward emission queue and runs the reconciler. It
// refuses to start without REDIS_URL.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		jobqueue.Module,

		fx.Invoke(func(cfg config.Config) error {
			if !cfg.QueueEnabled() {
				return jobqueue.ErrRedisRequired
			}
			return nil
		}),

		// Transitive dependencies of the reward service and dispatcher.
		eventlog.Module,
		referralcode.Module,
		restaurant.Module,
		referral.Module,
		scoring.Module,
		reward.Module,
		rewardworker.Module,

		// No server module!
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
