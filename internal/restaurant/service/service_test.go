package service_test

import (
	"context"
	"testing"

	referraldomain "github.com/smallbiznis/referrals/internal/referral/domain"
	codedomain "github.com/smallbiznis/referrals/internal/referralcode/domain"
	"github.com/smallbiznis/referrals/internal/restaurant/domain"
	"github.com/smallbiznis/referrals/internal/testutil/harness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestRegisterWithoutCode(t *testing.T) {
	h := harness.New(t)
	ctx := context.Background()

	resp, err := h.Restaurants.Register(ctx, domain.RegisterRequest{
		OwnerID:       "owner-1",
		Name:          "  Tacos El Güero ",
		City:          ptr(" Guadalajara "),
		OwnerWhatsapp: ptr("+52 33-1234-5678"),
		OwnerEmail:    ptr("guero@example.com"),
	})
	require.NoError(t, err)
	assert.Nil(t, resp.Referral)
	assert.Equal(t, "Tacos El Güero", resp.Restaurant.Name)
	assert.Equal(t, domain.RestaurantStatusPending, resp.Restaurant.Status)
	assert.Equal(t, "Guadalajara", *resp.Restaurant.City)
	assert.Equal(t, "+523312345678", *resp.Restaurant.OwnerWhatsapp)

	stored, err := h.RestaurantRepo.FindByID(ctx, h.DB, resp.Restaurant.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "owner-1", stored.OwnerID)
}

func TestRegisterWithCodeCreatesScoredReferral(t *testing.T) {
	h := harness.New(t)
	ctx := context.Background()
	code := h.Code(t, "referrer-1")

	resp, err := h.Restaurants.Register(ctx, domain.RegisterRequest{
		OwnerID:        "owner-1",
		Name:           "La Fonda",
		ReferralCode:   " " + code.Code + " ",
		City:           ptr("Monterrey"),
		NumLocations:   ptr(2),
		UsedCalculator: true,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Referral)

	referral := resp.Referral
	assert.Equal(t, code.ID, referral.ReferralCodeID)
	assert.Equal(t, resp.Restaurant.ID, referral.ReferredRestaurantID)
	assert.True(t, referral.UsedCalculator)
	assert.NotNil(t, referral.ScoredAt)
	assert.Positive(t, referral.ScoreTotal)
	assert.Equal(t, referraldomain.PipelineStatusPending, referral.PipelineStatus)

	reloaded, err := h.Codes.GetByCode(ctx, code.Code)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.UseCount)
}

func TestRegisterRollsBackOnReferralFailure(t *testing.T) {
	h := harness.New(t)
	ctx := context.Background()
	code := h.Code(t, "referrer-1")

	_, err := h.Restaurants.Register(ctx, domain.RegisterRequest{
		OwnerID:      "referrer-1",
		Name:         "My Own Place",
		ReferralCode: code.Code,
	})
	assert.ErrorIs(t, err, codedomain.ErrSelfReferral)

	owned, err := h.RestaurantRepo.ListByOwner(ctx, h.DB, "referrer-1")
	require.NoError(t, err)
	assert.Empty(t, owned)

	_, err = h.Restaurants.Register(ctx, domain.RegisterRequest{
		OwnerID:      "owner-1",
		Name:         "Unknown Code Cafe",
		ReferralCode: "JUSTO-ZZZZZZZZ",
	})
	assert.ErrorIs(t, err, codedomain.ErrNotFound)

	owned, err = h.RestaurantRepo.ListByOwner(ctx, h.DB, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestRegisterValidation(t *testing.T) {
	h := harness.New(t)

	cases := []struct {
		name string
		req  domain.RegisterRequest
		err  error
	}{
		{"missing owner", domain.RegisterRequest{Name: "x"}, domain.ErrInvalidOwner},
		{"missing name", domain.RegisterRequest{OwnerID: "o", Name: " "}, domain.ErrInvalidName},
		{"zero locations", domain.RegisterRequest{OwnerID: "o", Name: "x", NumLocations: ptr(0)}, domain.ErrInvalidNumLocations},
		{"delivery over 100", domain.RegisterRequest{OwnerID: "o", Name: "x", DeliveryPct: ptr(101)}, domain.ErrInvalidDeliveryPct},
		{"negative delivery", domain.RegisterRequest{OwnerID: "o", Name: "x", DeliveryPct: ptr(-1)}, domain.ErrInvalidDeliveryPct},
		{"bad email", domain.RegisterRequest{OwnerID: "o", Name: "x", OwnerEmail: ptr("not-an-email")}, domain.ErrInvalidEmail},
		{"short whatsapp", domain.RegisterRequest{OwnerID: "o", Name: "x", OwnerWhatsapp: ptr("12345")}, domain.ErrInvalidWhatsapp},
		{"letters in whatsapp", domain.RegisterRequest{OwnerID: "o", Name: "x", OwnerWhatsapp: ptr("+52 abc 1234 5678")}, domain.ErrInvalidWhatsapp},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.Restaurants.Register(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}
