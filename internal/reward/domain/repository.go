package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, reward *Reward) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Reward, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Reward, error)
	ListByReferral(ctx context.Context, db *gorm.DB, referralID snowflake.ID) ([]*Reward, error)
	// ListByReferralIDs returns the rewards of the given referrals, restricted
	// to one beneficiary when beneficiaryID is not empty.
	ListByReferralIDs(ctx context.Context, db *gorm.DB, referralIDs []snowflake.ID, beneficiaryID string) ([]*Reward, error)
	ListByBeneficiary(ctx context.Context, db *gorm.DB, beneficiaryID string) ([]*Reward, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]*Reward, error)
	// MarkRedeemed moves an ISSUED reward to REDEEMED and reports whether a
	// row changed.
	MarkRedeemed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
}

type ListFilter struct {
	Status          RewardStatus
	BeneficiaryType BeneficiaryType
}
