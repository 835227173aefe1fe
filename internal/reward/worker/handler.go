package worker

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/jobqueue"
	"github.com/smallbiznis/referrals/internal/reward/domain"
	"github.com/smallbiznis/referrals/pkg/db"
)

// EmitRewardsHandler runs EmitRewards for queued jobs. Failures that a retry
// cannot fix skip the remaining attempts.
func EmitRewardsHandler(rewards domain.Service) jobqueue.Handler {
	return func(ctx context.Context, job *jobqueue.Job) error {
		var payload domain.EmitRewardsPayload
		if err := job.Decode(&payload); err != nil {
			return jobqueue.Permanent(err)
		}
		referralID, err := snowflake.ParseString(strings.TrimSpace(payload.ReferralID))
		if err != nil || referralID == 0 {
			return jobqueue.Permanent(domain.ErrInvalidID)
		}

		_, err = rewards.EmitRewards(ctx, referralID)
		if isPermanent(err) {
			return jobqueue.Permanent(err)
		}
		return err
	}
}

func isPermanent(err error) bool {
	switch {
	case err == nil, db.IsTransientErr(err):
		return false
	case errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrReferralNotFound),
		errors.Is(err, domain.ErrReferralIncomplete),
		errors.Is(err, domain.ErrNotQualified),
		errors.Is(err, domain.ErrInvalidProgram):
		return true
	default:
		return false
	}
}
