package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	codedomain "github.com/smallbiznis/referrals/internal/referralcode/domain"
	rewarddomain "github.com/smallbiznis/referrals/internal/reward/domain"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"duplicate key", gorm.ErrDuplicatedKey, http.StatusConflict, "conflict"},
		{"wrapped duplicate key", fmt.Errorf("create reward: %w", gorm.ErrDuplicatedKey), http.StatusConflict, "conflict"},
		{"sqlite unique violation", errors.New("UNIQUE constraint failed: restaurants.id"), http.StatusConflict, "conflict"},
		{"explicit conflict", ErrConflict, http.StatusConflict, "conflict"},
		{"already referred stays a validation error", codedomain.ErrAlreadyReferred, http.StatusBadRequest, "validation_error"},
		{"not beneficiary", rewarddomain.ErrNotBeneficiary, http.StatusForbidden, "forbidden"},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.typ, payload.Type)
		})
	}
}
