package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type EventType string

const (
	EventTypeStatusChange   EventType = "STATUS_CHANGE"
	EventTypeNote           EventType = "NOTE"
	EventTypeScoreUpdate    EventType = "SCORE_UPDATE"
	EventTypeAutoQualified  EventType = "AUTO_QUALIFIED"
	EventTypeContactAttempt EventType = "CONTACT_ATTEMPT"
	EventTypeDemoScheduled  EventType = "DEMO_SCHEDULED"
	EventTypeMeetingHeld    EventType = "MEETING_HELD"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTypeStatusChange,
		EventTypeNote,
		EventTypeScoreUpdate,
		EventTypeAutoQualified,
		EventTypeContactAttempt,
		EventTypeDemoScheduled,
		EventTypeMeetingHeld:
		return true
	default:
		return false
	}
}

// PipelineEvent is one immutable entry of a referral's audit trail.
type PipelineEvent struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	ReferralID snowflake.ID `gorm:"not null;index:idx_pipeline_events_referral_created,priority:1" json:"referral_id"`
	EventType  EventType    `gorm:"type:varchar(32);not null" json:"event_type"`
	FromStatus *string      `gorm:"type:varchar(32)" json:"from_status,omitempty"`
	ToStatus   *string      `gorm:"type:varchar(32)" json:"to_status,omitempty"`
	Note       *string      `gorm:"type:text" json:"note,omitempty"`
	CreatedBy  *string      `gorm:"type:varchar(64)" json:"created_by,omitempty"`
	CreatedAt  time.Time    `gorm:"not null;index:idx_pipeline_events_referral_created,priority:2" json:"created_at"`
}

func (PipelineEvent) TableName() string { return "pipeline_events" }
