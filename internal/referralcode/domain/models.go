package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type ReferralCode struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	ReferrerUserID string       `gorm:"type:varchar(64);not null;index" json:"referrer_user_id"`
	ReferrerName   string       `gorm:"type:varchar(255);not null;default:''" json:"referrer_name,omitempty"`
	Code           string       `gorm:"type:varchar(64);not null;uniqueIndex" json:"code"`
	UseCount       int          `gorm:"not null;default:0" json:"use_count"`
	MaxUses        *int         `json:"max_uses,omitempty"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
}

func (ReferralCode) TableName() string { return "referral_codes" }

func (c *ReferralCode) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

func (c *ReferralCode) Exhausted() bool {
	return c.MaxUses != nil && c.UseCount >= *c.MaxUses
}
