package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, referral *Referral) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Referral, error)
	// FindByIDForUpdate loads the referral holding a row lock for the rest of
	// the enclosing transaction.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Referral, error)
	ListByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*Referral, error)
	FindByRestaurantID(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID) (*Referral, error)
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	ListByCodeIDs(ctx context.Context, db *gorm.DB, codeIDs []snowflake.ID) ([]*Referral, error)
	ListByRestaurantIDs(ctx context.Context, db *gorm.DB, restaurantIDs []snowflake.ID) ([]*Referral, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]*Referral, error)
	CountByReferrer(ctx context.Context, db *gorm.DB, referrerUserID string) (int64, error)
	// ListAwaitingRewards returns referrals qualified at or before cutoff that
	// have no rewards yet.
	ListAwaitingRewards(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]*Referral, error)
}

type ListFilter struct {
	PipelineStatus PipelineStatus
}
