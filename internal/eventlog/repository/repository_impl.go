package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/eventlog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.PipelineEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO pipeline_events (id, referral_id, event_type, from_status, to_status, note, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.ReferralID,
		event.EventType,
		event.FromStatus,
		event.ToStatus,
		event.Note,
		event.CreatedBy,
		event.CreatedAt,
	).Error
}

func (r *repo) ListByReferral(ctx context.Context, db *gorm.DB, referralID snowflake.ID) ([]*domain.PipelineEvent, error) {
	var events []*domain.PipelineEvent
	err := db.WithContext(ctx).
		Model(&domain.PipelineEvent{}).
		Where("referral_id = ?", referralID).
		Order("created_at desc, id desc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
