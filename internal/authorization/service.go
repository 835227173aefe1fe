package authorization

import (
	"context"
	"errors"
)

const (
	RoleAdmin = "admin"
	RoleSales = "sales"
)

const (
	ObjectPipeline = "referral_pipeline"
	ObjectReferral = "referral"
	ObjectReward   = "reward"
	ObjectJobQueue = "job_queue"
)

const (
	ActionPipelineUpdate  = "pipeline.update"
	ActionPipelineQualify = "pipeline.qualify"
	ActionPipelineExpire  = "pipeline.expire"
	ActionTimelineView    = "timeline.view"

	ActionReferralList = "referral.list"
	ActionRewardList   = "reward.list"
	ActionJobQueueView = "job_queue.view"
)

// Service decides whether a role may perform an action on an object.
type Service interface {
	Authorize(ctx context.Context, role string, object string, action string) error
}

var (
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)
