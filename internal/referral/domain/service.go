package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
)

// UpdatePipelineRequest carries an optional status transition, pipeline
// metadata and score signals. Nil fields are left untouched.
type UpdatePipelineRequest struct {
	Status          *PipelineStatus `json:"status"`
	Note            *string         `json:"note"`
	DemoScheduledAt *time.Time      `json:"demoScheduledAt"`
	MeetingHeldAt   *time.Time      `json:"meetingHeldAt"`
	MeetingOutcome  *string         `json:"meetingOutcome"`
	NurtureStage    *string         `json:"nurtureStage"`
	NextActionAt    *time.Time      `json:"nextActionAt"`

	UsedCalculator  *bool `json:"usedCalculator"`
	UsedDiagnostic  *bool `json:"usedDiagnostic"`
	RequestedDemo   *bool `json:"requestedDemo"`
	FromMetaAd      *bool `json:"fromMetaAd"`
	RespondedWa     *bool `json:"respondedWa"`
	OpenedMessages  *int  `json:"openedMessages"`
	ResponseTimeMin *int  `json:"responseTimeMin"`
}

// HasSignals reports whether the request touches any score input.
func (r UpdatePipelineRequest) HasSignals() bool {
	return r.UsedCalculator != nil ||
		r.UsedDiagnostic != nil ||
		r.RequestedDemo != nil ||
		r.FromMetaAd != nil ||
		r.RespondedWa != nil ||
		r.OpenedMessages != nil ||
		r.ResponseTimeMin != nil
}

type RestaurantSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	OwnerID string `json:"owner_id,omitempty"`
}

type CodeSummary struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	ReferrerUserID string `json:"referrer_user_id"`
	ReferrerName   string `json:"referrer_name,omitempty"`
}

type RewardSummary struct {
	ID              string           `json:"id"`
	BeneficiaryID   string           `json:"beneficiary_id"`
	BeneficiaryType string           `json:"beneficiary_type"`
	RewardType      string           `json:"reward_type"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	Description     string           `json:"description"`
	Status          string           `json:"status"`
	IssuedAt        *time.Time       `json:"issued_at,omitempty"`
	RedeemedAt      *time.Time       `json:"redeemed_at,omitempty"`
	ExpiresAt       *time.Time       `json:"expires_at,omitempty"`
}

// ReferralView is a referral joined with the records callers usually need
// next to it.
type ReferralView struct {
	Referral
	Restaurant *RestaurantSummary `json:"restaurant,omitempty"`
	Code       *CodeSummary       `json:"referral_code,omitempty"`
	Rewards    []RewardSummary    `json:"rewards"`
}

type ListReferralRequest struct {
	PageToken      string
	PageSize       int32
	PipelineStatus string
}

type ListReferralResponse struct {
	pagination.PageInfo
	Referrals []ReferralView `json:"referrals"`
}

type Service interface {
	Get(ctx context.Context, id string) (Referral, error)
	UpdatePipeline(ctx context.Context, id string, req UpdatePipelineRequest, actorID string) (Referral, error)
	Qualify(ctx context.Context, id string, actorID string) (Referral, error)
	Expire(ctx context.Context, id string, actorID string) (Referral, error)
	GetTimeline(ctx context.Context, id string) ([]TimelineEntry, error)
	ListSent(ctx context.Context, userID string) ([]ReferralView, error)
	GetReceived(ctx context.Context, userID string) (*ReferralView, error)
	ListAll(ctx context.Context, req ListReferralRequest) (ListReferralResponse, error)
}

// TimelineEntry mirrors a pipeline event for API responses.
type TimelineEntry struct {
	ID         string    `json:"id"`
	EventType  string    `json:"event_type"`
	FromStatus *string   `json:"from_status,omitempty"`
	ToStatus   *string   `json:"to_status,omitempty"`
	Note       *string   `json:"note,omitempty"`
	CreatedBy  *string   `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

var (
	ErrInvalidID         = errors.New("invalid_id")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrInvalidSignal     = errors.New("invalid_signal")
	ErrEmptyUpdate       = errors.New("invalid_update")
	ErrNotFound          = errors.New("not_found")
)

// TransitionError names the statuses that would have been accepted.
func TransitionError(from, to PipelineStatus) error {
	return fmt.Errorf("%w: cannot move from %s to %s (allowed: %s)",
		ErrInvalidTransition, from, to, formatStatuses(AllowedTransitions(from)))
}
