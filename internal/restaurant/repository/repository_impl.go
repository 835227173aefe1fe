package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/restaurant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, restaurant *domain.Restaurant) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO restaurants (id, owner_id, name, status, city, num_locations, current_pos, delivery_pct, owner_whatsapp, owner_email, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		restaurant.ID,
		restaurant.OwnerID,
		restaurant.Name,
		restaurant.Status,
		restaurant.City,
		restaurant.NumLocations,
		restaurant.CurrentPOS,
		restaurant.DeliveryPct,
		restaurant.OwnerWhatsapp,
		restaurant.OwnerEmail,
		restaurant.CreatedAt,
		restaurant.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Restaurant, error) {
	var restaurant domain.Restaurant
	err := db.WithContext(ctx).Where("id = ?", id).First(&restaurant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &restaurant, nil
}

func (r *repo) ListByOwner(ctx context.Context, db *gorm.DB, ownerID string) ([]*domain.Restaurant, error) {
	var restaurants []*domain.Restaurant
	err := db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at asc, id asc").
		Find(&restaurants).Error
	if err != nil {
		return nil, err
	}
	return restaurants, nil
}

func (r *repo) ListByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*domain.Restaurant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var restaurants []*domain.Restaurant
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&restaurants).Error; err != nil {
		return nil, err
	}
	return restaurants, nil
}
