package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type BeneficiaryType string

const (
	BeneficiaryReferrer BeneficiaryType = "REFERRER"
	BeneficiaryReferred BeneficiaryType = "REFERRED"
)

type RewardType string

const (
	RewardTypeCredits   RewardType = "CREDITS"
	RewardTypeDiscount  RewardType = "DISCOUNT"
	RewardTypeFeeWaiver RewardType = "FEE_WAIVER"
	RewardTypeCustom    RewardType = "CUSTOM"
)

func (t RewardType) Valid() bool {
	switch t {
	case RewardTypeCredits, RewardTypeDiscount, RewardTypeFeeWaiver, RewardTypeCustom:
		return true
	default:
		return false
	}
}

type RewardStatus string

const (
	RewardStatusPending  RewardStatus = "PENDING"
	RewardStatusIssued   RewardStatus = "ISSUED"
	RewardStatusRedeemed RewardStatus = "REDEEMED"
	RewardStatusExpired  RewardStatus = "EXPIRED"
)

// Reward is one side of a reward pair. A referral carries at most one reward
// per beneficiary type.
type Reward struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	ReferralID      snowflake.ID      `gorm:"not null;uniqueIndex:ux_rewards_referral_beneficiary,priority:1" json:"referral_id"`
	BeneficiaryID   string            `gorm:"type:varchar(64);not null;index" json:"beneficiary_id"`
	BeneficiaryType BeneficiaryType   `gorm:"type:varchar(16);not null;uniqueIndex:ux_rewards_referral_beneficiary,priority:2" json:"beneficiary_type"`
	RewardType      RewardType        `gorm:"type:varchar(16);not null" json:"reward_type"`
	Amount          *decimal.Decimal  `gorm:"type:numeric(12,2)" json:"amount,omitempty"`
	Description     string            `gorm:"type:text;not null" json:"description"`
	Status          RewardStatus      `gorm:"type:varchar(16);not null" json:"status"`
	Metadata        datatypes.JSONMap `json:"metadata,omitempty"`
	IssuedAt        *time.Time        `json:"issued_at,omitempty"`
	RedeemedAt      *time.Time        `json:"redeemed_at,omitempty"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	CreatedAt       time.Time         `gorm:"not null" json:"created_at"`
}

func (Reward) TableName() string { return "rewards" }

func (r *Reward) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}
