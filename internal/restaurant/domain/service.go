package domain

import (
	"context"
	"errors"

	referraldomain "github.com/smallbiznis/referrals/internal/referral/domain"
)

type RegisterRequest struct {
	OwnerID       string  `json:"-"`
	Name          string  `json:"name"`
	ReferralCode  string  `json:"referralCode"`
	City          *string `json:"city"`
	NumLocations  *int    `json:"numLocations"`
	CurrentPOS    *string `json:"currentPos"`
	DeliveryPct   *int    `json:"deliveryPct"`
	OwnerWhatsapp *string `json:"ownerWhatsapp"`
	OwnerEmail    *string `json:"ownerEmail"`

	UsedCalculator bool `json:"usedCalculator"`
	UsedDiagnostic bool `json:"usedDiagnostic"`
	RequestedDemo  bool `json:"requestedDemo"`
	FromMetaAd     bool `json:"fromMetaAd"`
}

type RegisterResponse struct {
	Restaurant Restaurant               `json:"restaurant"`
	Referral   *referraldomain.Referral `json:"referral,omitempty"`
}

type Service interface {
	// Register creates the restaurant and, when a referral code is given, the
	// referral in the same transaction. The new referral is scored after commit.
	Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error)
}

var (
	ErrInvalidOwner        = errors.New("invalid_owner")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidNumLocations = errors.New("invalid_num_locations")
	ErrInvalidDeliveryPct  = errors.New("invalid_delivery_pct")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvalidWhatsapp     = errors.New("invalid_whatsapp")
)
