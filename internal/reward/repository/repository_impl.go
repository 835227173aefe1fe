package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/reward/domain"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, reward *domain.Reward) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO rewards (id, referral_id, beneficiary_id, beneficiary_type, reward_type, amount, description, status, metadata, issued_at, redeemed_at, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reward.ID,
		reward.ReferralID,
		reward.BeneficiaryID,
		reward.BeneficiaryType,
		reward.RewardType,
		reward.Amount,
		reward.Description,
		reward.Status,
		reward.Metadata,
		reward.IssuedAt,
		reward.RedeemedAt,
		reward.ExpiresAt,
		reward.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Reward, error) {
	return first(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Reward, error) {
	return first(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repo) ListByReferral(ctx context.Context, db *gorm.DB, referralID snowflake.ID) ([]*domain.Reward, error) {
	var rewards []*domain.Reward
	err := db.WithContext(ctx).
		Where("referral_id = ?", referralID).
		Order("beneficiary_type desc").
		Find(&rewards).Error
	if err != nil {
		return nil, err
	}
	return rewards, nil
}

func (r *repo) ListByReferralIDs(ctx context.Context, db *gorm.DB, referralIDs []snowflake.ID, beneficiaryID string) ([]*domain.Reward, error) {
	if len(referralIDs) == 0 {
		return nil, nil
	}
	stmt := db.WithContext(ctx).Where("referral_id IN ?", referralIDs)
	if beneficiaryID != "" {
		stmt = stmt.Where("beneficiary_id = ?", beneficiaryID)
	}
	var rewards []*domain.Reward
	if err := stmt.Order("created_at asc, id asc").Find(&rewards).Error; err != nil {
		return nil, err
	}
	return rewards, nil
}

func (r *repo) ListByBeneficiary(ctx context.Context, db *gorm.DB, beneficiaryID string) ([]*domain.Reward, error) {
	var rewards []*domain.Reward
	err := db.WithContext(ctx).
		Where("beneficiary_id = ?", beneficiaryID).
		Order("issued_at desc, id desc").
		Find(&rewards).Error
	if err != nil {
		return nil, err
	}
	return rewards, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Reward, error) {
	stmt := db.WithContext(ctx).Model(&domain.Reward{})
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.BeneficiaryType != "" {
		stmt = stmt.Where("beneficiary_type = ?", filter.BeneficiaryType)
	}
	stmt, err := pagination.Apply(stmt, page)
	if err != nil {
		return nil, err
	}

	var rewards []*domain.Reward
	if err := stmt.Find(&rewards).Error; err != nil {
		return nil, err
	}
	return rewards, nil
}

func (r *repo) MarkRedeemed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE rewards SET status = ?, redeemed_at = ? WHERE id = ? AND status = ?`,
		domain.RewardStatusRedeemed,
		at,
		id,
		domain.RewardStatusIssued,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func first(stmt *gorm.DB) (*domain.Reward, error) {
	var reward domain.Reward
	err := stmt.First(&reward).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &reward, nil
}
