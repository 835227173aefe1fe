package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/clock"
	eventdomain "github.com/smallbiznis/referrals/internal/eventlog/domain"
	obslogger "github.com/smallbiznis/referrals/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/referrals/internal/observability/metrics"
	referraldomain "github.com/smallbiznis/referrals/internal/referral/domain"
	restaurantdomain "github.com/smallbiznis/referrals/internal/restaurant/domain"
	rewarddomain "github.com/smallbiznis/referrals/internal/reward/domain"
	"github.com/smallbiznis/referrals/internal/scoring/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Clock          clock.Clock
	ReferralRepo   referraldomain.Repository
	RestaurantRepo restaurantdomain.Repository
	Events         eventdomain.Service
	Dispatcher     rewarddomain.Dispatcher
	Metrics        *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	clock          clock.Clock
	referralRepo   referraldomain.Repository
	restaurantRepo restaurantdomain.Repository
	events         eventdomain.Service
	dispatcher     rewarddomain.Dispatcher
	metrics        *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("scoring.service"),
		clock:          p.Clock,
		referralRepo:   p.ReferralRepo,
		restaurantRepo: p.RestaurantRepo,
		events:         p.Events,
		dispatcher:     p.Dispatcher,
		metrics:        p.Metrics,
	}
}

func (s *Service) ComputeAndSaveScore(ctx context.Context, referralID snowflake.ID) (domain.Result, error) {
	if referralID == 0 {
		return domain.Result{}, domain.ErrInvalidID
	}

	var result domain.Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		referral, err := s.referralRepo.FindByIDForUpdate(ctx, tx, referralID)
		if err != nil {
			return err
		}
		if referral == nil {
			return domain.ErrNotFound
		}
		restaurant, err := s.restaurantRepo.FindByID(ctx, tx, referral.ReferredRestaurantID)
		if err != nil {
			return err
		}
		if restaurant == nil {
			return domain.ErrNotFound
		}

		score := domain.Calculate(inputFor(referral, restaurant))
		now := s.clock.Now()
		autoQualify := score.Total >= domain.AutoQualifyThreshold &&
			referral.PipelineStatus == referraldomain.PipelineStatusPending

		fields := map[string]any{
			"score_fit":    score.Fit,
			"score_intent": score.Intent,
			"score_engage": score.Engage,
			"score_total":  score.Total,
			"scored_at":    now,
			"updated_at":   now,
		}
		if autoQualify {
			fields["pipeline_status"] = referraldomain.PipelineStatusQualified
			fields["qualified_at"] = now
		}
		if err := s.referralRepo.Update(ctx, tx, referralID, fields); err != nil {
			return err
		}

		if _, err := s.events.Append(ctx, tx, eventdomain.AppendRequest{
			ReferralID: referralID,
			EventType:  eventdomain.EventTypeScoreUpdate,
			Note: fmt.Sprintf("Score updated: FIT=%d INTENT=%d ENGAGE=%d TOTAL=%d",
				score.Fit, score.Intent, score.Engage, score.Total),
		}); err != nil {
			return err
		}

		if autoQualify {
			if _, err := s.events.Append(ctx, tx, eventdomain.AppendRequest{
				ReferralID: referralID,
				EventType:  eventdomain.EventTypeAutoQualified,
				FromStatus: string(referraldomain.PipelineStatusPending),
				ToStatus:   string(referraldomain.PipelineStatusQualified),
				Note:       fmt.Sprintf("Auto-qualified: score %d >= %d", score.Total, domain.AutoQualifyThreshold),
			}); err != nil {
				return err
			}
		}

		result = domain.Result{Score: score, ScoredAt: now, AutoQualified: autoQualify}
		return nil
	})
	if err != nil {
		return domain.Result{}, err
	}

	log := obslogger.WithReferral(s.log, referralID.String())
	log.Info("referral scored",
		zap.Int("fit", result.Fit),
		zap.Int("intent", result.Intent),
		zap.Int("engage", result.Engage),
		zap.Int("total", result.Total),
		zap.Bool("auto_qualified", result.AutoQualified),
	)

	if result.AutoQualified {
		s.metrics.RecordAutoQualified(ctx)
		s.metrics.RecordTransition(ctx, string(referraldomain.PipelineStatusPending), string(referraldomain.PipelineStatusQualified))
		if err := s.dispatcher.EnqueueRewardEmission(ctx, referralID); err != nil {
			log.Error("reward emission request failed", zap.Error(err))
			return result, fmt.Errorf("request reward emission: %w", err)
		}
	}

	return result, nil
}

func (s *Service) GetScore(ctx context.Context, referralID snowflake.ID) (domain.Result, error) {
	if referralID == 0 {
		return domain.Result{}, domain.ErrInvalidID
	}

	referral, err := s.referralRepo.FindByID(ctx, s.db, referralID)
	if err != nil {
		return domain.Result{}, err
	}
	if referral == nil {
		return domain.Result{}, domain.ErrNotFound
	}

	if referral.ScoredAt == nil {
		return s.ComputeAndSaveScore(ctx, referralID)
	}

	return domain.Result{
		Score: domain.Score{
			Fit:    referral.ScoreFit,
			Intent: referral.ScoreIntent,
			Engage: referral.ScoreEngage,
			Total:  referral.ScoreTotal,
		},
		ScoredAt: *referral.ScoredAt,
	}, nil
}

func inputFor(referral *referraldomain.Referral, restaurant *restaurantdomain.Restaurant) domain.Input {
	return domain.Input{
		City:            restaurant.City,
		NumLocations:    restaurant.NumLocations,
		CurrentPOS:      restaurant.CurrentPOS,
		DeliveryPct:     restaurant.DeliveryPct,
		OwnerWhatsapp:   restaurant.OwnerWhatsapp,
		OwnerEmail:      restaurant.OwnerEmail,
		UsedCalculator:  referral.UsedCalculator,
		UsedDiagnostic:  referral.UsedDiagnostic,
		RequestedDemo:   referral.RequestedDemo,
		FromMetaAd:      referral.FromMetaAd,
		RespondedWa:     referral.RespondedWa,
		OpenedMessages:  referral.OpenedMessages,
		ResponseTimeMin: referral.ResponseTimeMin,
	}
}
