package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/referralcode/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, code *domain.ReferralCode) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO referral_codes (id, referrer_user_id, referrer_name, code, use_count, max_uses, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		code.ID,
		code.ReferrerUserID,
		code.ReferrerName,
		code.Code,
		code.UseCount,
		code.MaxUses,
		code.ExpiresAt,
		code.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ReferralCode, error) {
	return first(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ReferralCode, error) {
	return first(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.ReferralCode, error) {
	return first(db.WithContext(ctx).Where("code = ?", code))
}

func (r *repo) FindActiveByReferrer(ctx context.Context, db *gorm.DB, userID string, now time.Time) (*domain.ReferralCode, error) {
	return first(db.WithContext(ctx).
		Where("referrer_user_id = ?", userID).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("created_at asc, id asc"))
}

func (r *repo) ListByReferrer(ctx context.Context, db *gorm.DB, userID string) ([]*domain.ReferralCode, error) {
	var codes []*domain.ReferralCode
	err := db.WithContext(ctx).
		Where("referrer_user_id = ?", userID).
		Order("created_at asc, id asc").
		Find(&codes).Error
	if err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *repo) ListByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*domain.ReferralCode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var codes []*domain.ReferralCode
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *repo) IncrementUseCount(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE referral_codes
		 SET use_count = use_count + 1
		 WHERE id = ? AND (max_uses IS NULL OR use_count < max_uses)`,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func first(stmt *gorm.DB) (*domain.ReferralCode, error) {
	var code domain.ReferralCode
	err := stmt.First(&code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &code, nil
}
