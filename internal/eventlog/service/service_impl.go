package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/eventlog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("eventlog.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Append(ctx context.Context, tx *gorm.DB, req domain.AppendRequest) (*domain.PipelineEvent, error) {
	if req.ReferralID == 0 {
		return nil, domain.ErrInvalidReferral
	}
	if !req.EventType.Valid() {
		return nil, domain.ErrInvalidEventType
	}
	if tx == nil {
		tx = s.db
	}

	event := &domain.PipelineEvent{
		ID:         s.genID.Generate(),
		ReferralID: req.ReferralID,
		EventType:  req.EventType,
		FromStatus: optional(req.FromStatus),
		ToStatus:   optional(req.ToStatus),
		Note:       optional(req.Note),
		CreatedBy:  optional(req.CreatedBy),
		CreatedAt:  s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, tx, event); err != nil {
		return nil, err
	}

	s.log.Debug("pipeline event appended",
		zap.String("referral_id", req.ReferralID.String()),
		zap.String("event_type", string(req.EventType)),
	)
	return event, nil
}

func (s *Service) GetTimeline(ctx context.Context, referralID snowflake.ID) ([]domain.PipelineEvent, error) {
	if referralID == 0 {
		return nil, domain.ErrInvalidReferral
	}

	items, err := s.repo.ListByReferral(ctx, s.db, referralID)
	if err != nil {
		return nil, err
	}

	events := make([]domain.PipelineEvent, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		events = append(events, *item)
	}
	return events, nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
