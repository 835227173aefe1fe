package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, code *ReferralCode) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ReferralCode, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ReferralCode, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*ReferralCode, error)
	FindActiveByReferrer(ctx context.Context, db *gorm.DB, userID string, now time.Time) (*ReferralCode, error)
	ListByReferrer(ctx context.Context, db *gorm.DB, userID string) ([]*ReferralCode, error)
	ListByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*ReferralCode, error)
	// IncrementUseCount bumps use_count unless that would pass max_uses. It
	// reports false when the guard rejected the increment.
	IncrementUseCount(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
}
