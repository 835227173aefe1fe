package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// PipelineStatus is the authoritative position of a referral in the sales funnel.
type PipelineStatus string

const (
	PipelineStatusPending       PipelineStatus = "PENDING"
	PipelineStatusQualified     PipelineStatus = "QUALIFIED"
	PipelineStatusDemoScheduled PipelineStatus = "DEMO_SCHEDULED"
	PipelineStatusMeetingHeld   PipelineStatus = "MEETING_HELD"
	PipelineStatusWon           PipelineStatus = "WON"
	PipelineStatusLost          PipelineStatus = "LOST"
	PipelineStatusNoShow        PipelineStatus = "NO_SHOW"
	PipelineStatusNurture       PipelineStatus = "NURTURE"
	PipelineStatusDead          PipelineStatus = "DEAD"
)

// Status is the coarse status older clients read. It is derived from the
// pipeline status and milestones and never stored.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusQualified Status = "QUALIFIED"
	StatusRewarded  Status = "REWARDED"
	StatusExpired   Status = "EXPIRED"
)

type Referral struct {
	ID                   snowflake.ID   `gorm:"primaryKey" json:"id"`
	ReferralCodeID       snowflake.ID   `gorm:"not null;index" json:"referral_code_id"`
	ReferredRestaurantID snowflake.ID   `gorm:"not null;uniqueIndex" json:"referred_restaurant_id"`
	PipelineStatus       PipelineStatus `gorm:"type:varchar(32);not null;index" json:"pipeline_status"`
	Status               Status         `gorm:"-" json:"status"`

	ScoreFit    int        `gorm:"not null;default:0" json:"score_fit"`
	ScoreIntent int        `gorm:"not null;default:0" json:"score_intent"`
	ScoreEngage int        `gorm:"not null;default:0" json:"score_engage"`
	ScoreTotal  int        `gorm:"not null;default:0" json:"score_total"`
	ScoredAt    *time.Time `json:"scored_at,omitempty"`

	UsedCalculator  bool `gorm:"not null;default:false" json:"used_calculator"`
	UsedDiagnostic  bool `gorm:"not null;default:false" json:"used_diagnostic"`
	RequestedDemo   bool `gorm:"not null;default:false" json:"requested_demo"`
	FromMetaAd      bool `gorm:"not null;default:false" json:"from_meta_ad"`
	RespondedWa     bool `gorm:"not null;default:false" json:"responded_wa"`
	OpenedMessages  int  `gorm:"not null;default:0" json:"opened_messages"`
	ResponseTimeMin *int `json:"response_time_min,omitempty"`

	DemoScheduledAt *time.Time `json:"demo_scheduled_at,omitempty"`
	MeetingHeldAt   *time.Time `json:"meeting_held_at,omitempty"`
	MeetingOutcome  *string    `gorm:"type:text" json:"meeting_outcome,omitempty"`
	NurtureStage    *string    `gorm:"type:varchar(64)" json:"nurture_stage,omitempty"`
	NextActionAt    *time.Time `json:"next_action_at,omitempty"`

	QualifiedAt *time.Time `gorm:"index" json:"qualified_at,omitempty"`
	RewardedAt  *time.Time `json:"rewarded_at,omitempty"`
	ExpiredAt   *time.Time `json:"expired_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Referral) TableName() string { return "referrals" }

func (r *Referral) AfterFind(*gorm.DB) error {
	r.Project()
	return nil
}

// Project refreshes the derived Status field.
func (r *Referral) Project() {
	r.Status = r.LegacyStatus()
}

// LegacyStatus derives the coarse status from the authoritative fields.
func (r *Referral) LegacyStatus() Status {
	switch {
	case r.RewardedAt != nil:
		return StatusRewarded
	case r.PipelineStatus == PipelineStatusPending:
		return StatusPending
	case r.PipelineStatus == PipelineStatusDead && r.ExpiredAt != nil:
		return StatusExpired
	case r.QualifiedAt != nil:
		return StatusQualified
	default:
		return StatusExpired
	}
}

// Signals are the intake and engagement facts that feed the score.
type Signals struct {
	UsedCalculator  bool
	UsedDiagnostic  bool
	RequestedDemo   bool
	FromMetaAd      bool
	RespondedWa     bool
	OpenedMessages  int
	ResponseTimeMin *int
}

func (r *Referral) Signals() Signals {
	return Signals{
		UsedCalculator:  r.UsedCalculator,
		UsedDiagnostic:  r.UsedDiagnostic,
		RequestedDemo:   r.RequestedDemo,
		FromMetaAd:      r.FromMetaAd,
		RespondedWa:     r.RespondedWa,
		OpenedMessages:  r.OpenedMessages,
		ResponseTimeMin: r.ResponseTimeMin,
	}
}
