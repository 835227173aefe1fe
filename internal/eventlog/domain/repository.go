package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *PipelineEvent) error
	ListByReferral(ctx context.Context, db *gorm.DB, referralID snowflake.ID) ([]*PipelineEvent, error)
}
