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
	rewardworker "github.com/smallbiznis/referrals/internal/reward/worker"
	"github.com/smallbiznis/referrals/internal/scoring"
	"github.com/smallbiznis/referrals/internal/server"
	"github.com/smallbiznis/referrals/pkg/db"
	"go.uber.org/fx"
)

// The monolith serves the API and, when REDIS_URL is set, runs the reward
// worker in the same process. Without Redis rewards are emitted inline.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		jobqueue.Module,

		// Functional Domains
		eventlog.Module,
		referralcode.Module,
		restaurant.Module,
		referral.Module,
		scoring.Module,
		reward.Module,
		rewardworker.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
