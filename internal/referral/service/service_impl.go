package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/clock"
	eventdomain "github.com/smallbiznis/referrals/internal/eventlog/domain"
	obslogger "github.com/smallbiznis/referrals/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/referrals/internal/observability/metrics"
	"github.com/smallbiznis/referrals/internal/referral/domain"
	codedomain "github.com/smallbiznis/referrals/internal/referralcode/domain"
	restaurantdomain "github.com/smallbiznis/referrals/internal/restaurant/domain"
	rewarddomain "github.com/smallbiznis/referrals/internal/reward/domain"
	scoringdomain "github.com/smallbiznis/referrals/internal/scoring/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Clock          clock.Clock
	Repo           domain.Repository
	CodeRepo       codedomain.Repository
	RestaurantRepo restaurantdomain.Repository
	RewardRepo     rewarddomain.Repository
	Events         eventdomain.Service
	Scoring        scoringdomain.Service
	Dispatcher     rewarddomain.Dispatcher
	Metrics        *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	clock          clock.Clock
	repo           domain.Repository
	codeRepo       codedomain.Repository
	restaurantRepo restaurantdomain.Repository
	rewardRepo     rewarddomain.Repository
	events         eventdomain.Service
	scoring        scoringdomain.Service
	dispatcher     rewarddomain.Dispatcher
	metrics        *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("referral.service"),
		clock:          p.Clock,
		repo:           p.Repo,
		codeRepo:       p.CodeRepo,
		restaurantRepo: p.RestaurantRepo,
		rewardRepo:     p.RewardRepo,
		events:         p.Events,
		scoring:        p.Scoring,
		dispatcher:     p.Dispatcher,
		metrics:        p.Metrics,
	}
}

// pipelineOutcome records what a committed update requires afterwards.
type pipelineOutcome struct {
	from           domain.PipelineStatus
	to             domain.PipelineStatus
	transitioned   bool
	signalsChanged bool
}

func (o pipelineOutcome) enteredQualified() bool {
	return o.transitioned && o.to == domain.PipelineStatusQualified
}

func (s *Service) Get(ctx context.Context, id string) (domain.Referral, error) {
	referralID, err := parseID(id)
	if err != nil {
		return domain.Referral{}, err
	}
	return s.load(ctx, referralID)
}

func (s *Service) load(ctx context.Context, id snowflake.ID) (domain.Referral, error) {
	referral, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Referral{}, err
	}
	if referral == nil {
		return domain.Referral{}, domain.ErrNotFound
	}
	return *referral, nil
}

func (s *Service) UpdatePipeline(ctx context.Context, id string, req domain.UpdatePipelineRequest, actorID string) (domain.Referral, error) {
	referralID, err := parseID(id)
	if err != nil {
		return domain.Referral{}, err
	}
	if err := validateUpdate(req); err != nil {
		return domain.Referral{}, err
	}

	var outcome pipelineOutcome
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		referral, err := s.repo.FindByIDForUpdate(ctx, tx, referralID)
		if err != nil {
			return err
		}
		if referral == nil {
			return domain.ErrNotFound
		}
		outcome, err = s.applyUpdate(ctx, tx, referral, req, strings.TrimSpace(actorID))
		return err
	})
	if err != nil {
		return domain.Referral{}, err
	}

	if err := s.afterCommit(ctx, referralID, outcome); err != nil {
		return domain.Referral{}, err
	}
	return s.load(ctx, referralID)
}

func (s *Service) Qualify(ctx context.Context, id string, actorID string) (domain.Referral, error) {
	status := domain.PipelineStatusQualified
	return s.UpdatePipeline(ctx, id, domain.UpdatePipelineRequest{Status: &status}, actorID)
}

// Expire closes a referral that never progressed past PENDING.
func (s *Service) Expire(ctx context.Context, id string, actorID string) (domain.Referral, error) {
	referralID, err := parseID(id)
	if err != nil {
		return domain.Referral{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		referral, err := s.repo.FindByIDForUpdate(ctx, tx, referralID)
		if err != nil {
			return err
		}
		if referral == nil {
			return domain.ErrNotFound
		}
		if referral.PipelineStatus != domain.PipelineStatusPending {
			return fmt.Errorf("%w: only PENDING referrals can expire (current: %s)",
				domain.ErrInvalidTransition, referral.PipelineStatus)
		}

		now := s.clock.Now()
		if err := s.repo.Update(ctx, tx, referralID, map[string]any{
			"pipeline_status": domain.PipelineStatusDead,
			"expired_at":      now,
			"updated_at":      now,
		}); err != nil {
			return err
		}
		_, err = s.events.Append(ctx, tx, eventdomain.AppendRequest{
			ReferralID: referralID,
			EventType:  eventdomain.EventTypeStatusChange,
			FromStatus: string(domain.PipelineStatusPending),
			ToStatus:   string(domain.PipelineStatusDead),
			Note:       "Referral expired",
			CreatedBy:  strings.TrimSpace(actorID),
		})
		return err
	})
	if err != nil {
		return domain.Referral{}, err
	}

	s.metrics.RecordTransition(ctx, string(domain.PipelineStatusPending), string(domain.PipelineStatusDead))
	obslogger.WithReferral(s.log, referralID.String()).Info("referral expired", zap.String("actor_id", actorID))
	return s.load(ctx, referralID)
}

func (s *Service) applyUpdate(
	ctx context.Context,
	tx *gorm.DB,
	referral *domain.Referral,
	req domain.UpdatePipelineRequest,
	actorID string,
) (pipelineOutcome, error) {
	now := s.clock.Now()
	outcome := pipelineOutcome{from: referral.PipelineStatus, to: referral.PipelineStatus}
	fields := map[string]any{}

	if req.Status != nil {
		to := *req.Status
		if !domain.CanTransition(referral.PipelineStatus, to) {
			return outcome, domain.TransitionError(referral.PipelineStatus, to)
		}
		fields["pipeline_status"] = to
		outcome.to = to
		outcome.transitioned = true

		switch to {
		case domain.PipelineStatusQualified:
			fields["qualified_at"] = now
		case domain.PipelineStatusDemoScheduled:
			fields["demo_scheduled_at"] = timeOr(req.DemoScheduledAt, now)
		case domain.PipelineStatusMeetingHeld:
			fields["meeting_held_at"] = timeOr(req.MeetingHeldAt, now)
		}
	}

	if req.DemoScheduledAt != nil {
		fields["demo_scheduled_at"] = req.DemoScheduledAt.UTC()
	}
	if req.MeetingHeldAt != nil {
		fields["meeting_held_at"] = req.MeetingHeldAt.UTC()
	}
	if req.MeetingOutcome != nil {
		fields["meeting_outcome"] = strings.TrimSpace(*req.MeetingOutcome)
	}
	if req.NurtureStage != nil {
		fields["nurture_stage"] = strings.TrimSpace(*req.NurtureStage)
	}
	if req.NextActionAt != nil {
		fields["next_action_at"] = req.NextActionAt.UTC()
	}

	outcome.signalsChanged = applySignals(fields, referral, req)

	if len(fields) > 0 {
		fields["updated_at"] = now
		if err := s.repo.Update(ctx, tx, referral.ID, fields); err != nil {
			return outcome, err
		}
	}

	note := ""
	if req.Note != nil {
		note = strings.TrimSpace(*req.Note)
	}

	switch {
	case outcome.transitioned:
		if _, err := s.events.Append(ctx, tx, eventdomain.AppendRequest{
			ReferralID: referral.ID,
			EventType:  eventdomain.EventTypeStatusChange,
			FromStatus: string(outcome.from),
			ToStatus:   string(outcome.to),
			Note:       note,
			CreatedBy:  actorID,
		}); err != nil {
			return outcome, err
		}
	case note != "":
		if _, err := s.events.Append(ctx, tx, eventdomain.AppendRequest{
			ReferralID: referral.ID,
			EventType:  eventdomain.EventTypeNote,
			Note:       note,
			CreatedBy:  actorID,
		}); err != nil {
			return outcome, err
		}
	}

	// Rescheduling or recording a meeting without a status change still
	// belongs on the timeline.
	if !outcome.transitioned && req.DemoScheduledAt != nil {
		if _, err := s.events.Append(ctx, tx, eventdomain.AppendRequest{
			ReferralID: referral.ID,
			EventType:  eventdomain.EventTypeDemoScheduled,
			Note:       "Demo scheduled for " + req.DemoScheduledAt.UTC().Format(time.RFC3339),
			CreatedBy:  actorID,
		}); err != nil {
			return outcome, err
		}
	}
	if !outcome.transitioned && req.MeetingHeldAt != nil {
		if _, err := s.events.Append(ctx, tx, eventdomain.AppendRequest{
			ReferralID: referral.ID,
			EventType:  eventdomain.EventTypeMeetingHeld,
			Note:       "Meeting held at " + req.MeetingHeldAt.UTC().Format(time.RFC3339),
			CreatedBy:  actorID,
		}); err != nil {
			return outcome, err
		}
	}

	return outcome, nil
}

// afterCommit re-scores changed signals and requests reward emission for a
// manual qualification. Both run outside the pipeline transaction.
func (s *Service) afterCommit(ctx context.Context, referralID snowflake.ID, outcome pipelineOutcome) error {
	log := obslogger.WithReferral(s.log, referralID.String())

	if outcome.transitioned {
		s.metrics.RecordTransition(ctx, string(outcome.from), string(outcome.to))
		log.Info("pipeline transition",
			zap.String("from", string(outcome.from)),
			zap.String("to", string(outcome.to)),
		)
	}

	if outcome.signalsChanged {
		if _, err := s.scoring.ComputeAndSaveScore(ctx, referralID); err != nil {
			log.Error("re-score after signal change failed", zap.Error(err))
			return fmt.Errorf("re-score referral: %w", err)
		}
	}

	if outcome.enteredQualified() {
		if err := s.dispatcher.EnqueueRewardEmission(ctx, referralID); err != nil {
			log.Error("reward emission request failed", zap.Error(err))
			return fmt.Errorf("request reward emission: %w", err)
		}
	}
	return nil
}

func (s *Service) GetTimeline(ctx context.Context, id string) ([]domain.TimelineEntry, error) {
	referralID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	if _, err := s.load(ctx, referralID); err != nil {
		return nil, err
	}

	events, err := s.events.GetTimeline(ctx, referralID)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.TimelineEntry, 0, len(events))
	for _, event := range events {
		entries = append(entries, domain.TimelineEntry{
			ID:         event.ID.String(),
			EventType:  string(event.EventType),
			FromStatus: event.FromStatus,
			ToStatus:   event.ToStatus,
			Note:       event.Note,
			CreatedBy:  event.CreatedBy,
			CreatedAt:  event.CreatedAt,
		})
	}
	return entries, nil
}

func validateUpdate(req domain.UpdatePipelineRequest) error {
	if req.Status != nil && !req.Status.Valid() {
		return domain.ErrInvalidStatus
	}
	if req.OpenedMessages != nil && *req.OpenedMessages < 0 {
		return fmt.Errorf("%w: openedMessages must not be negative", domain.ErrInvalidSignal)
	}
	if req.ResponseTimeMin != nil && *req.ResponseTimeMin < 0 {
		return fmt.Errorf("%w: responseTimeMin must not be negative", domain.ErrInvalidSignal)
	}
	if req.Status == nil &&
		req.Note == nil &&
		req.DemoScheduledAt == nil &&
		req.MeetingHeldAt == nil &&
		req.MeetingOutcome == nil &&
		req.NurtureStage == nil &&
		req.NextActionAt == nil &&
		!req.HasSignals() {
		return domain.ErrEmptyUpdate
	}
	return nil
}

// applySignals copies provided signals into fields and reports whether any
// value differs from what is stored.
func applySignals(fields map[string]any, referral *domain.Referral, req domain.UpdatePipelineRequest) bool {
	changed := false
	setBool := func(column string, value *bool, current bool) {
		if value == nil {
			return
		}
		fields[column] = *value
		if *value != current {
			changed = true
		}
	}

	setBool("used_calculator", req.UsedCalculator, referral.UsedCalculator)
	setBool("used_diagnostic", req.UsedDiagnostic, referral.UsedDiagnostic)
	setBool("requested_demo", req.RequestedDemo, referral.RequestedDemo)
	setBool("from_meta_ad", req.FromMetaAd, referral.FromMetaAd)
	setBool("responded_wa", req.RespondedWa, referral.RespondedWa)

	if req.OpenedMessages != nil {
		fields["opened_messages"] = *req.OpenedMessages
		if *req.OpenedMessages != referral.OpenedMessages {
			changed = true
		}
	}
	if req.ResponseTimeMin != nil {
		fields["response_time_min"] = *req.ResponseTimeMin
		if referral.ResponseTimeMin == nil || *referral.ResponseTimeMin != *req.ResponseTimeMin {
			changed = true
		}
	}
	return changed
}

func timeOr(value *time.Time, fallback time.Time) time.Time {
	if value != nil {
		return value.UTC()
	}
	return fallback
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
