package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/config"
	obslogger "github.com/smallbiznis/referrals/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/referrals/internal/observability/metrics"
	referraldomain "github.com/smallbiznis/referrals/internal/referral/domain"
	codedomain "github.com/smallbiznis/referrals/internal/referralcode/domain"
	restaurantdomain "github.com/smallbiznis/referrals/internal/restaurant/domain"
	"github.com/smallbiznis/referrals/internal/reward/domain"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Program        *config.ProgramHolder
	Mode           domain.DispatchMode
	Repo           domain.Repository
	ReferralRepo   referraldomain.Repository
	CodeRepo       codedomain.Repository
	RestaurantRepo restaurantdomain.Repository
	Metrics        *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	program        *config.ProgramHolder
	mode           domain.DispatchMode
	repo           domain.Repository
	referralRepo   referraldomain.Repository
	codeRepo       codedomain.Repository
	restaurantRepo restaurantdomain.Repository
	metrics        *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("reward.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		program:        p.Program,
		mode:           p.Mode,
		repo:           p.Repo,
		referralRepo:   p.ReferralRepo,
		codeRepo:       p.CodeRepo,
		restaurantRepo: p.RestaurantRepo,
		metrics:        p.Metrics,
	}
}

func (s *Service) EmitRewards(ctx context.Context, referralID snowflake.ID) ([]domain.Reward, error) {
	if referralID == 0 {
		return nil, domain.ErrInvalidID
	}

	var (
		rewards []domain.Reward
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		referral, err := s.referralRepo.FindByIDForUpdate(ctx, tx, referralID)
		if err != nil {
			return err
		}
		if referral == nil {
			return domain.ErrReferralNotFound
		}

		switch status := referral.LegacyStatus(); status {
		case referraldomain.StatusRewarded:
			existing, err := s.repo.ListByReferral(ctx, tx, referralID)
			if err != nil {
				return err
			}
			rewards = derefRewards(existing)
			return nil
		case referraldomain.StatusQualified:
		default:
			return fmt.Errorf("%w: status %s", domain.ErrNotQualified, status)
		}

		code, err := s.codeRepo.FindByID(ctx, tx, referral.ReferralCodeID)
		if err != nil {
			return err
		}
		restaurant, err := s.restaurantRepo.FindByID(ctx, tx, referral.ReferredRestaurantID)
		if err != nil {
			return err
		}
		if code == nil || restaurant == nil {
			return domain.ErrReferralIncomplete
		}

		program := s.program.Get()
		now := s.clock.Now()
		expiresAt := now.AddDate(0, 0, program.RewardExpiresDays)

		pair := make([]domain.Reward, 0, 2)
		for _, side := range []struct {
			beneficiaryID string
			kind          domain.BeneficiaryType
			terms         config.RewardTerms
		}{
			{code.ReferrerUserID, domain.BeneficiaryReferrer, program.Referrer},
			{restaurant.OwnerID, domain.BeneficiaryReferred, program.Referred},
		} {
			reward, err := s.newReward(referral, code, side.beneficiaryID, side.kind, side.terms, now, expiresAt)
			if err != nil {
				return err
			}
			if err := s.repo.Insert(ctx, tx, &reward); err != nil {
				return err
			}
			pair = append(pair, reward)
		}

		if err := s.referralRepo.Update(ctx, tx, referralID, map[string]any{
			"rewarded_at": now,
			"updated_at":  now,
		}); err != nil {
			return err
		}

		rewards = pair
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := obslogger.WithReferral(s.log, referralID.String())
	if created {
		s.metrics.RecordRewardsEmitted(ctx, string(s.mode), len(rewards))
		log.Info("rewards emitted", zap.Int("count", len(rewards)), zap.String("mode", string(s.mode)))
	} else {
		log.Info("rewards already emitted", zap.Int("count", len(rewards)))
	}
	return rewards, nil
}

func (s *Service) newReward(
	referral *referraldomain.Referral,
	code *codedomain.ReferralCode,
	beneficiaryID string,
	kind domain.BeneficiaryType,
	terms config.RewardTerms,
	now, expiresAt time.Time,
) (domain.Reward, error) {
	rewardType := domain.RewardType(strings.ToUpper(strings.TrimSpace(terms.Type)))
	if !rewardType.Valid() {
		return domain.Reward{}, fmt.Errorf("%w: reward type %q", domain.ErrInvalidProgram, terms.Type)
	}
	amount := decimal.NewFromFloat(terms.Amount)
	issuedAt := now
	expires := expiresAt

	return domain.Reward{
		ID:              s.genID.Generate(),
		ReferralID:      referral.ID,
		BeneficiaryID:   beneficiaryID,
		BeneficiaryType: kind,
		RewardType:      rewardType,
		Amount:          &amount,
		Description:     terms.Description,
		Status:          domain.RewardStatusIssued,
		Metadata: datatypes.JSONMap{
			"referral_code": code.Code,
			"dispatch_mode": string(s.mode),
		},
		IssuedAt:  &issuedAt,
		ExpiresAt: &expires,
		CreatedAt: now,
	}, nil
}

func (s *Service) Redeem(ctx context.Context, rewardID string, userID string) (domain.Reward, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(rewardID))
	if err != nil || id == 0 {
		return domain.Reward{}, domain.ErrInvalidID
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Reward{}, domain.ErrInvalidUser
	}

	var redeemed domain.Reward
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reward, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if reward == nil {
			return domain.ErrNotFound
		}
		if reward.BeneficiaryID != userID {
			return domain.ErrNotBeneficiary
		}
		switch reward.Status {
		case domain.RewardStatusRedeemed:
			return domain.ErrAlreadyRedeemed
		case domain.RewardStatusIssued:
		default:
			return fmt.Errorf("%w: status %s", domain.ErrNotIssued, reward.Status)
		}

		now := s.clock.Now()
		if reward.Expired(now) {
			return domain.ErrExpired
		}

		ok, err := s.repo.MarkRedeemed(ctx, tx, id, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrAlreadyRedeemed
		}

		reward.Status = domain.RewardStatusRedeemed
		reward.RedeemedAt = &now
		redeemed = *reward
		return nil
	})
	if err != nil {
		return domain.Reward{}, err
	}

	s.metrics.RecordRewardRedeemed(ctx, string(redeemed.BeneficiaryType))
	s.log.Info("reward redeemed",
		zap.String("reward_id", redeemed.ID.String()),
		zap.String("referral_id", redeemed.ReferralID.String()),
	)
	return redeemed, nil
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]domain.UserReward, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}

	items, err := s.repo.ListByBeneficiary(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []domain.UserReward{}, nil
	}

	referralIDs := make([]snowflake.ID, 0, len(items))
	for _, item := range items {
		referralIDs = append(referralIDs, item.ReferralID)
	}
	referrals, err := s.referralRepo.ListByIDs(ctx, s.db, referralIDs)
	if err != nil {
		return nil, err
	}

	referralByID := make(map[snowflake.ID]*referraldomain.Referral, len(referrals))
	codeIDs := make([]snowflake.ID, 0, len(referrals))
	restaurantIDs := make([]snowflake.ID, 0, len(referrals))
	for _, referral := range referrals {
		referralByID[referral.ID] = referral
		codeIDs = append(codeIDs, referral.ReferralCodeID)
		restaurantIDs = append(restaurantIDs, referral.ReferredRestaurantID)
	}

	codes, err := s.codeRepo.ListByIDs(ctx, s.db, codeIDs)
	if err != nil {
		return nil, err
	}
	codeByID := make(map[snowflake.ID]*codedomain.ReferralCode, len(codes))
	for _, code := range codes {
		codeByID[code.ID] = code
	}

	restaurants, err := s.restaurantRepo.ListByIDs(ctx, s.db, restaurantIDs)
	if err != nil {
		return nil, err
	}
	restaurantByID := make(map[snowflake.ID]*restaurantdomain.Restaurant, len(restaurants))
	for _, restaurant := range restaurants {
		restaurantByID[restaurant.ID] = restaurant
	}

	out := make([]domain.UserReward, 0, len(items))
	for _, item := range items {
		view := domain.UserReward{Reward: *item}
		if referral, ok := referralByID[item.ReferralID]; ok {
			if restaurant, ok := restaurantByID[referral.ReferredRestaurantID]; ok {
				view.RestaurantID = restaurant.ID.String()
				view.RestaurantName = restaurant.Name
			}
			if code, ok := codeByID[referral.ReferralCodeID]; ok {
				view.ReferrerUserID = code.ReferrerUserID
				view.ReferrerName = code.ReferrerName
			}
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *Service) ListAll(ctx context.Context, req domain.ListRewardRequest) (domain.ListRewardResponse, error) {
	filter := domain.ListFilter{
		Status:          domain.RewardStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		BeneficiaryType: domain.BeneficiaryType(strings.ToUpper(strings.TrimSpace(req.BeneficiaryType))),
	}
	switch filter.Status {
	case "", domain.RewardStatusPending, domain.RewardStatusIssued, domain.RewardStatusRedeemed, domain.RewardStatusExpired:
	default:
		return domain.ListRewardResponse{}, domain.ErrInvalidFilter
	}
	switch filter.BeneficiaryType {
	case "", domain.BeneficiaryReferrer, domain.BeneficiaryReferred:
	default:
		return domain.ListRewardResponse{}, domain.ErrInvalidFilter
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  int(pageSize),
	})
	if err != nil {
		return domain.ListRewardResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int(pageSize), func(reward *domain.Reward) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        reward.ID.String(),
			CreatedAt: reward.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	resp := domain.ListRewardResponse{Rewards: derefRewards(items)}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func derefRewards(items []*domain.Reward) []domain.Reward {
	out := make([]domain.Reward, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, *item)
	}
	return out
}
