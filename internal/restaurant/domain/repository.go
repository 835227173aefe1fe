package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, restaurant *Restaurant) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Restaurant, error)
	ListByOwner(ctx context.Context, db *gorm.DB, ownerID string) ([]*Restaurant, error)
	ListByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*Restaurant, error)
}
