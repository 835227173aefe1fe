package service

import (
	"context"
	"net/mail"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/clock"
	referraldomain "github.com/smallbiznis/referrals/internal/referral/domain"
	codedomain "github.com/smallbiznis/referrals/internal/referralcode/domain"
	"github.com/smallbiznis/referrals/internal/restaurant/domain"
	scoringdomain "github.com/smallbiznis/referrals/internal/scoring/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var whatsappPattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	ReferralRepo referraldomain.Repository
	Codes        codedomain.Service
	Scoring      scoringdomain.Service
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	referralRepo referraldomain.Repository
	codes        codedomain.Service
	scoring      scoringdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("restaurant.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		referralRepo: p.ReferralRepo,
		codes:        p.Codes,
		scoring:      p.Scoring,
	}
}

func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (domain.RegisterResponse, error) {
	restaurant, err := s.buildRestaurant(req)
	if err != nil {
		return domain.RegisterResponse{}, err
	}

	var code *codedomain.ReferralCode
	if strings.TrimSpace(req.ReferralCode) != "" {
		found, err := s.codes.GetByCode(ctx, req.ReferralCode)
		if err != nil {
			return domain.RegisterResponse{}, err
		}
		code = &found
	}

	var referral *referraldomain.Referral
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &restaurant); err != nil {
			return err
		}
		if code == nil {
			return nil
		}

		created, err := s.codes.CreateReferralTx(ctx, tx, codedomain.CreateReferralRequest{
			CodeID:       code.ID,
			RestaurantID: restaurant.ID,
			OwnerID:      restaurant.OwnerID,
			Signals: referraldomain.Signals{
				UsedCalculator: req.UsedCalculator,
				UsedDiagnostic: req.UsedDiagnostic,
				RequestedDemo:  req.RequestedDemo,
				FromMetaAd:     req.FromMetaAd,
			},
		})
		if err != nil {
			return err
		}
		referral = &created
		return nil
	})
	if err != nil {
		return domain.RegisterResponse{}, err
	}

	s.log.Info("restaurant registered",
		zap.String("restaurant_id", restaurant.ID.String()),
		zap.String("owner_id", restaurant.OwnerID),
		zap.Bool("referred", referral != nil),
	)

	resp := domain.RegisterResponse{Restaurant: restaurant}
	if referral == nil {
		return resp, nil
	}

	// Registration stands even if the first score fails; the next signal
	// update or score read computes it again.
	if _, err := s.scoring.ComputeAndSaveScore(ctx, referral.ID); err != nil {
		s.log.Warn("initial referral scoring failed",
			zap.String("referral_id", referral.ID.String()),
			zap.Error(err),
		)
		resp.Referral = referral
		return resp, nil
	}

	scored, err := s.referralRepo.FindByID(ctx, s.db, referral.ID)
	if err != nil {
		return domain.RegisterResponse{}, err
	}
	if scored == nil {
		scored = referral
	}
	resp.Referral = scored
	return resp, nil
}

func (s *Service) buildRestaurant(req domain.RegisterRequest) (domain.Restaurant, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return domain.Restaurant{}, domain.ErrInvalidOwner
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Restaurant{}, domain.ErrInvalidName
	}
	if req.NumLocations != nil && *req.NumLocations < 1 {
		return domain.Restaurant{}, domain.ErrInvalidNumLocations
	}
	if req.DeliveryPct != nil && (*req.DeliveryPct < 0 || *req.DeliveryPct > 100) {
		return domain.Restaurant{}, domain.ErrInvalidDeliveryPct
	}

	email := trimmed(req.OwnerEmail)
	if email != nil {
		if _, err := mail.ParseAddress(*email); err != nil {
			return domain.Restaurant{}, domain.ErrInvalidEmail
		}
	}
	whatsapp := trimmed(req.OwnerWhatsapp)
	if whatsapp != nil {
		digits := strings.NewReplacer(" ", "", "-", "").Replace(*whatsapp)
		if !whatsappPattern.MatchString(digits) {
			return domain.Restaurant{}, domain.ErrInvalidWhatsapp
		}
		whatsapp = &digits
	}

	now := s.clock.Now()
	return domain.Restaurant{
		ID:            s.genID.Generate(),
		OwnerID:       ownerID,
		Name:          name,
		Status:        domain.RestaurantStatusPending,
		City:          trimmed(req.City),
		NumLocations:  req.NumLocations,
		CurrentPOS:    trimmed(req.CurrentPOS),
		DeliveryPct:   req.DeliveryPct,
		OwnerWhatsapp: whatsapp,
		OwnerEmail:    email,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}
