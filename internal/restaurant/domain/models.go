package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type RestaurantStatus string

const (
	RestaurantStatusPending  RestaurantStatus = "PENDING"
	RestaurantStatusActive   RestaurantStatus = "ACTIVE"
	RestaurantStatusInactive RestaurantStatus = "INACTIVE"
)

// Restaurant is the referred business. The intake fields feed the FIT score.
type Restaurant struct {
	ID            snowflake.ID     `gorm:"primaryKey" json:"id"`
	OwnerID       string           `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	Name          string           `gorm:"type:varchar(255);not null" json:"name"`
	Status        RestaurantStatus `gorm:"type:varchar(16);not null" json:"status"`
	City          *string          `gorm:"type:varchar(100)" json:"city,omitempty"`
	NumLocations  *int             `json:"num_locations,omitempty"`
	CurrentPOS    *string          `gorm:"column:current_pos;type:varchar(100)" json:"current_pos,omitempty"`
	DeliveryPct   *int             `json:"delivery_pct,omitempty"`
	OwnerWhatsapp *string          `gorm:"type:varchar(20)" json:"owner_whatsapp,omitempty"`
	OwnerEmail    *string          `gorm:"type:varchar(255)" json:"owner_email,omitempty"`
	CreatedAt     time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"not null" json:"updated_at"`
}

func (Restaurant) TableName() string { return "restaurants" }
