package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/referral/domain"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, referral *domain.Referral) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO referrals (id, referral_code_id, referred_restaurant_id, pipeline_status,
		   score_fit, score_intent, score_engage, score_total,
		   used_calculator, used_diagnostic, requested_demo, from_meta_ad, responded_wa, opened_messages, response_time_min,
		   created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, 0, 0, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		referral.ID,
		referral.ReferralCodeID,
		referral.ReferredRestaurantID,
		referral.PipelineStatus,
		referral.UsedCalculator,
		referral.UsedDiagnostic,
		referral.RequestedDemo,
		referral.FromMetaAd,
		referral.RespondedWa,
		referral.OpenedMessages,
		referral.ResponseTimeMin,
		referral.CreatedAt,
		referral.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Referral, error) {
	return first(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Referral, error) {
	return first(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repo) ListByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*domain.Referral, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var referrals []*domain.Referral
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&referrals).Error; err != nil {
		return nil, err
	}
	return referrals, nil
}

func (r *repo) FindByRestaurantID(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID) (*domain.Referral, error) {
	return first(db.WithContext(ctx).Where("referred_restaurant_id = ?", restaurantID))
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Referral{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repo) ListByCodeIDs(ctx context.Context, db *gorm.DB, codeIDs []snowflake.ID) ([]*domain.Referral, error) {
	if len(codeIDs) == 0 {
		return nil, nil
	}
	var referrals []*domain.Referral
	err := db.WithContext(ctx).
		Where("referral_code_id IN ?", codeIDs).
		Order("created_at desc, id desc").
		Find(&referrals).Error
	if err != nil {
		return nil, err
	}
	return referrals, nil
}

func (r *repo) ListByRestaurantIDs(ctx context.Context, db *gorm.DB, restaurantIDs []snowflake.ID) ([]*domain.Referral, error) {
	if len(restaurantIDs) == 0 {
		return nil, nil
	}
	var referrals []*domain.Referral
	err := db.WithContext(ctx).
		Where("referred_restaurant_id IN ?", restaurantIDs).
		Order("created_at desc, id desc").
		Find(&referrals).Error
	if err != nil {
		return nil, err
	}
	return referrals, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Referral, error) {
	stmt := db.WithContext(ctx).Model(&domain.Referral{})
	if filter.PipelineStatus != "" {
		stmt = stmt.Where("pipeline_status = ?", filter.PipelineStatus)
	}
	stmt, err := pagination.Apply(stmt, page)
	if err != nil {
		return nil, err
	}

	var referrals []*domain.Referral
	if err := stmt.Find(&referrals).Error; err != nil {
		return nil, err
	}
	return referrals, nil
}

func (r *repo) CountByReferrer(ctx context.Context, db *gorm.DB, referrerUserID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Referral{}).
		Joins("JOIN referral_codes ON referral_codes.id = referrals.referral_code_id").
		Where("referral_codes.referrer_user_id = ?", referrerUserID).
		Count(&count).Error
	return count, err
}

func (r *repo) ListAwaitingRewards(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]*domain.Referral, error) {
	var referrals []*domain.Referral
	err := db.WithContext(ctx).
		Where("qualified_at IS NOT NULL AND rewarded_at IS NULL AND qualified_at <= ?", cutoff).
		Order("qualified_at asc, id asc").
		Limit(limit).
		Find(&referrals).Error
	if err != nil {
		return nil, err
	}
	return referrals, nil
}

func first(stmt *gorm.DB) (*domain.Referral, error) {
	var referral domain.Referral
	err := stmt.First(&referral).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &referral, nil
}
