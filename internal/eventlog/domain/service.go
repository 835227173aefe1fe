package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// AppendRequest describes an event to record. Empty optional fields are stored
// as NULL.
type AppendRequest struct {
	ReferralID snowflake.ID
	EventType  EventType
	FromStatus string
	ToStatus   string
	Note       string
	CreatedBy  string
}

type Service interface {
	// Append writes the event using tx so it commits or rolls back with the
	// caller's state change.
	Append(ctx context.Context, tx *gorm.DB, req AppendRequest) (*PipelineEvent, error)
	// GetTimeline returns the events of a referral, newest first.
	GetTimeline(ctx context.Context, referralID snowflake.ID) ([]PipelineEvent, error)
}

var (
	ErrInvalidReferral  = errors.New("invalid_referral")
	ErrInvalidEventType = errors.New("invalid_event_type")
)
