package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
)

// DispatchMode selects how reward emission requests are executed. It is fixed
// for the lifetime of the process.
type DispatchMode string

const (
	DispatchModeQueue DispatchMode = "queue"
	DispatchModeSync  DispatchMode = "sync"
)

// EmitRewardsJob is the queue job name for reward emission.
const EmitRewardsJob = "emit-rewards"

// EmitRewardsPayload is the job body for EmitRewardsJob.
type EmitRewardsPayload struct {
	ReferralID string `json:"referralId"`
}

// JobKey is the dedup key of the emission job for a referral.
func JobKey(referralID snowflake.ID) string {
	return "reward-" + referralID.String()
}

// Dispatcher requests reward emission for a qualified referral. Callers invoke
// it after the qualifying transaction has committed.
type Dispatcher interface {
	Mode() DispatchMode
	EnqueueRewardEmission(ctx context.Context, referralID snowflake.ID) error
}

// UserReward is a reward with the referral context a beneficiary sees.
type UserReward struct {
	Reward
	RestaurantID   string `json:"restaurant_id,omitempty"`
	RestaurantName string `json:"restaurant_name,omitempty"`
	ReferrerUserID string `json:"referrer_user_id,omitempty"`
	ReferrerName   string `json:"referrer_name,omitempty"`
}

type ListRewardRequest struct {
	PageToken       string
	PageSize        int32
	Status          string
	BeneficiaryType string
}

type ListRewardResponse struct {
	pagination.PageInfo
	Rewards []Reward `json:"rewards"`
}

type Service interface {
	// EmitRewards creates the REFERRER and REFERRED rewards of a qualified
	// referral. Calling it again for a rewarded referral returns the existing
	// pair.
	EmitRewards(ctx context.Context, referralID snowflake.ID) ([]Reward, error)
	Redeem(ctx context.Context, rewardID string, userID string) (Reward, error)
	ListForUser(ctx context.Context, userID string) ([]UserReward, error)
	ListAll(ctx context.Context, req ListRewardRequest) (ListRewardResponse, error)
}

var (
	ErrInvalidID          = errors.New("invalid_id")
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidFilter      = errors.New("invalid_filter")
	ErrNotFound           = errors.New("not_found")
	ErrReferralNotFound   = errors.New("referral_not_found")
	ErrReferralIncomplete = errors.New("referral_incomplete")
	ErrNotQualified       = errors.New("referral_not_qualified")
	ErrNotBeneficiary     = errors.New("not_beneficiary")
	ErrAlreadyRedeemed    = errors.New("reward_already_redeemed")
	ErrNotIssued          = errors.New("reward_not_issued")
	ErrExpired            = errors.New("reward_expired")
	ErrInvalidProgram     = errors.New("invalid_program")
)
