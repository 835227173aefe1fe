package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	referraldomain "github.com/smallbiznis/referrals/internal/referral/domain"
	"gorm.io/gorm"
)

type GetOrCreateCodeRequest struct {
	UserID   string
	UserName string
}

type Benefit struct {
	Headline string  `json:"headline"`
	Type     string  `json:"type"`
	Amount   float64 `json:"amount"`
}

type ValidateCodeResponse struct {
	Code            string  `json:"code"`
	ReferrerUserID  string  `json:"referrer_user_id"`
	ReferrerName    string  `json:"referrer_name"`
	Valid           bool    `json:"valid"`
	ReferredBenefit Benefit `json:"referred_benefit"`
	ReferrerBenefit Benefit `json:"referrer_benefit"`
	TotalReferrals  int64   `json:"total_referrals"`
}

type CreateReferralRequest struct {
	CodeID       snowflake.ID
	RestaurantID snowflake.ID
	OwnerID      string
	Signals      referraldomain.Signals
}

type Service interface {
	GetOrCreateCode(ctx context.Context, req GetOrCreateCodeRequest) (ReferralCode, error)
	GetByCode(ctx context.Context, code string) (ReferralCode, error)
	ValidateCode(ctx context.Context, code string) (ValidateCodeResponse, error)
	// CreateReferral consumes one use of the code and records a PENDING
	// referral for the restaurant in a single transaction.
	CreateReferral(ctx context.Context, req CreateReferralRequest) (referraldomain.Referral, error)
	// CreateReferralTx is CreateReferral inside the caller's transaction.
	CreateReferralTx(ctx context.Context, tx *gorm.DB, req CreateReferralRequest) (referraldomain.Referral, error)
}

var (
	ErrInvalidUser     = errors.New("invalid_user")
	ErrInvalidCode     = errors.New("invalid_code")
	ErrInvalidID       = errors.New("invalid_id")
	ErrNotFound        = errors.New("not_found")
	ErrCodeExpired     = errors.New("code_expired")
	ErrCodeExhausted   = errors.New("code_exhausted")
	ErrSelfReferral    = errors.New("self_referral")
	ErrAlreadyReferred = errors.New("already_referred")
	ErrCodeGeneration  = errors.New("code_generation_failed")
)
