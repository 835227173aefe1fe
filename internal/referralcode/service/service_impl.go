package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/config"
	obsmetrics "github.com/smallbiznis/referrals/internal/observability/metrics"
	referraldomain "github.com/smallbiznis/referrals/internal/referral/domain"
	"github.com/smallbiznis/referrals/internal/referralcode/domain"
	"github.com/smallbiznis/referrals/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxCodeAttempts = 10

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Program      *config.ProgramHolder
	Repo         domain.Repository
	ReferralRepo referraldomain.Repository
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	program      *config.ProgramHolder
	repo         domain.Repository
	referralRepo referraldomain.Repository
	metrics      *obsmetrics.Metrics
	generate     func(prefix string, length int) (string, error)
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("referralcode.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		program:      p.Program,
		repo:         p.Repo,
		referralRepo: p.ReferralRepo,
		metrics:      p.Metrics,
		generate:     GenerateCode,
	}
}

func (s *Service) GetOrCreateCode(ctx context.Context, req domain.GetOrCreateCodeRequest) (domain.ReferralCode, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.ReferralCode{}, domain.ErrInvalidUser
	}

	now := s.clock.Now()
	existing, err := s.repo.FindActiveByReferrer(ctx, s.db, userID, now)
	if err != nil {
		return domain.ReferralCode{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	program := s.program.Get()
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		value, err := s.generate(program.CodePrefix, program.CodeLength)
		if err != nil {
			return domain.ReferralCode{}, err
		}

		code := domain.ReferralCode{
			ID:             s.genID.Generate(),
			ReferrerUserID: userID,
			ReferrerName:   strings.TrimSpace(req.UserName),
			Code:           value,
			CreatedAt:      now,
		}
		err = s.repo.Insert(ctx, s.db, &code)
		if err == nil {
			s.log.Info("referral code issued",
				zap.String("code_id", code.ID.String()),
				zap.String("user_id", userID),
			)
			return code, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return domain.ReferralCode{}, err
		}
		s.log.Debug("referral code collision, retrying", zap.Int("attempt", attempt))
	}

	s.log.Error("referral code generation exhausted", zap.String("user_id", userID))
	return domain.ReferralCode{}, domain.ErrCodeGeneration
}

func (s *Service) GetByCode(ctx context.Context, code string) (domain.ReferralCode, error) {
	code = normalizeCode(code)
	if code == "" {
		return domain.ReferralCode{}, domain.ErrInvalidCode
	}

	item, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return domain.ReferralCode{}, err
	}
	if item == nil {
		return domain.ReferralCode{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) ValidateCode(ctx context.Context, code string) (domain.ValidateCodeResponse, error) {
	item, err := s.GetByCode(ctx, code)
	if err != nil {
		return domain.ValidateCodeResponse{}, err
	}

	if item.Expired(s.clock.Now()) {
		return domain.ValidateCodeResponse{}, domain.ErrCodeExpired
	}
	if item.Exhausted() {
		return domain.ValidateCodeResponse{}, domain.ErrCodeExhausted
	}

	total, err := s.referralRepo.CountByReferrer(ctx, s.db, item.ReferrerUserID)
	if err != nil {
		return domain.ValidateCodeResponse{}, err
	}

	program := s.program.Get()
	return domain.ValidateCodeResponse{
		Code:           item.Code,
		ReferrerUserID: item.ReferrerUserID,
		ReferrerName:   item.ReferrerName,
		Valid:          true,
		ReferredBenefit: domain.Benefit{
			Headline: program.Referred.Description,
			Type:     program.Referred.Type,
			Amount:   program.Referred.Amount,
		},
		ReferrerBenefit: domain.Benefit{
			Headline: program.Referrer.Description,
			Type:     program.Referrer.Type,
			Amount:   program.Referrer.Amount,
		},
		TotalReferrals: total,
	}, nil
}

func (s *Service) CreateReferral(ctx context.Context, req domain.CreateReferralRequest) (referraldomain.Referral, error) {
	var referral referraldomain.Referral
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.CreateReferralTx(ctx, tx, req)
		if err != nil {
			return err
		}
		referral = created
		return nil
	})
	if err != nil {
		return referraldomain.Referral{}, err
	}

	s.metrics.RecordReferralCreated(ctx)
	return referral, nil
}

func (s *Service) CreateReferralTx(ctx context.Context, tx *gorm.DB, req domain.CreateReferralRequest) (referraldomain.Referral, error) {
	if req.CodeID == 0 || req.RestaurantID == 0 {
		return referraldomain.Referral{}, domain.ErrInvalidID
	}
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return referraldomain.Referral{}, domain.ErrInvalidUser
	}

	code, err := s.repo.FindByIDForUpdate(ctx, tx, req.CodeID)
	if err != nil {
		return referraldomain.Referral{}, err
	}
	if code == nil {
		return referraldomain.Referral{}, domain.ErrNotFound
	}

	now := s.clock.Now()
	if code.ReferrerUserID == ownerID {
		return referraldomain.Referral{}, domain.ErrSelfReferral
	}
	if code.Expired(now) {
		return referraldomain.Referral{}, domain.ErrCodeExpired
	}
	if code.Exhausted() {
		return referraldomain.Referral{}, domain.ErrCodeExhausted
	}

	existing, err := s.referralRepo.FindByRestaurantID(ctx, tx, req.RestaurantID)
	if err != nil {
		return referraldomain.Referral{}, err
	}
	if existing != nil {
		return referraldomain.Referral{}, domain.ErrAlreadyReferred
	}

	ok, err := s.repo.IncrementUseCount(ctx, tx, code.ID)
	if err != nil {
		return referraldomain.Referral{}, err
	}
	if !ok {
		return referraldomain.Referral{}, domain.ErrCodeExhausted
	}

	referral := referraldomain.Referral{
		ID:                   s.genID.Generate(),
		ReferralCodeID:       code.ID,
		ReferredRestaurantID: req.RestaurantID,
		PipelineStatus:       referraldomain.PipelineStatusPending,
		UsedCalculator:       req.Signals.UsedCalculator,
		UsedDiagnostic:       req.Signals.UsedDiagnostic,
		RequestedDemo:        req.Signals.RequestedDemo,
		FromMetaAd:           req.Signals.FromMetaAd,
		RespondedWa:          req.Signals.RespondedWa,
		OpenedMessages:       req.Signals.OpenedMessages,
		ResponseTimeMin:      req.Signals.ResponseTimeMin,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.referralRepo.Insert(ctx, tx, &referral); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return referraldomain.Referral{}, domain.ErrAlreadyReferred
		}
		return referraldomain.Referral{}, err
	}
	referral.Project()

	s.log.Info("referral created",
		zap.String("referral_id", referral.ID.String()),
		zap.String("code_id", code.ID.String()),
		zap.String("restaurant_id", req.RestaurantID.String()),
	)
	return referral, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
