package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/referrals/internal/eventlog/domain"
	referraldomain "github.com/smallbiznis/referrals/internal/referral/domain"
	restaurantdomain "github.com/smallbiznis/referrals/internal/restaurant/domain"
	scoringdomain "github.com/smallbiznis/referrals/internal/scoring/domain"
	"github.com/smallbiznis/referrals/internal/testutil/harness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countEvents(t *testing.T, h *harness.Harness, referralID snowflake.ID, eventType eventdomain.EventType) int {
	t.Helper()
	events, err := h.Events.GetTimeline(context.Background(), referralID)
	require.NoError(t, err)
	n := 0
	for _, event := range events {
		if event.EventType == eventType {
			n++
		}
	}
	return n
}

func TestComputeAndSaveScoreAutoQualifiesOnce(t *testing.T) {
	h := harness.New(t)
	ctx := context.Background()
	code := h.Code(t, "referrer-1")

	// Registration scores the intake; FIT 35 + INTENT 30 clears the threshold.
	resp := h.Refer(t, code.Code, "owner-1", harness.HighFit())
	referralID := resp.Referral.ID

	assert.Equal(t, referraldomain.PipelineStatusQualified, resp.Referral.PipelineStatus)
	assert.Equal(t, referraldomain.StatusQualified, resp.Referral.Status)
	assert.Equal(t, 65, resp.Referral.ScoreTotal)
	require.NotNil(t, resp.Referral.QualifiedAt)
	assert.Equal(t, []snowflake.ID{referralID}, h.Dispatcher.Calls())

	// Engagement pushes the score to 95 without qualifying again.
	_, err := h.Referrals.UpdatePipeline(ctx, referralID.String(), referraldomain.UpdatePipelineRequest{
		RespondedWa:     ptr(true),
		OpenedMessages:  ptr(6),
		ResponseTimeMin: ptr(15),
	}, "admin-1")
	require.NoError(t, err)

	result, err := h.Scoring.GetScore(ctx, referralID)
	require.NoError(t, err)
	assert.Equal(t, scoringdomain.Score{Fit: 35, Intent: 30, Engage: 30, Total: 95}, result.Score)
	assert.False(t, result.AutoQualified)

	assert.Equal(t, 1, countEvents(t, h, referralID, eventdomain.EventTypeAutoQualified))
	assert.Equal(t, 2, countEvents(t, h, referralID, eventdomain.EventTypeScoreUpdate))
	assert.Len(t, h.Dispatcher.Calls(), 1)
}

func TestComputeAndSaveScoreBelowThresholdStaysPending(t *testing.T) {
	h := harness.New(t)
	code := h.Code(t, "referrer-1")

	resp := h.Refer(t, code.Code, "owner-1", restaurantdomain.RegisterRequest{
		City:         ptr("Cancun"),
		NumLocations: ptr(1),
	})

	assert.Equal(t, referraldomain.PipelineStatusPending, resp.Referral.PipelineStatus)
	assert.Equal(t, 3, resp.Referral.ScoreFit)
	assert.Equal(t, 3, resp.Referral.ScoreTotal)
	assert.Nil(t, resp.Referral.QualifiedAt)
	assert.Empty(t, h.Dispatcher.Calls())
	assert.Equal(t, 0, countEvents(t, h, resp.Referral.ID, eventdomain.EventTypeAutoQualified))
}

func TestComputeAndSaveScoreDoesNotRequalifyLaterStages(t *testing.T) {
	h := harness.New(t)
	ctx := context.Background()
	code := h.Code(t, "referrer-1")
	resp := h.Refer(t, code.Code, "owner-1", restaurantdomain.RegisterRequest{})

	_, err := h.Referrals.UpdatePipeline(ctx, resp.Referral.ID.String(), referraldomain.UpdatePipelineRequest{
		Status: ptr(referraldomain.PipelineStatusDead),
	}, "admin-1")
	require.NoError(t, err)

	require.NoError(t, h.DB.Exec("UPDATE restaurants SET city = 'cdmx', num_locations = 8, current_pos = 'toast', delivery_pct = 80 WHERE id = ?", resp.Restaurant.ID).Error)

	_, err = h.Referrals.UpdatePipeline(ctx, resp.Referral.ID.String(), referraldomain.UpdatePipelineRequest{
		UsedCalculator: ptr(true),
		UsedDiagnostic: ptr(true),
		RequestedDemo:  ptr(true),
		RespondedWa:    ptr(true),
	}, "admin-1")
	require.NoError(t, err)

	referral, err := h.Referrals.Get(ctx, resp.Referral.ID.String())
	require.NoError(t, err)
	assert.Equal(t, referraldomain.PipelineStatusDead, referral.PipelineStatus)
	assert.GreaterOrEqual(t, referral.ScoreTotal, scoringdomain.AutoQualifyThreshold)
	assert.Empty(t, h.Dispatcher.Calls())
}

func TestComputeAndSaveScoreSurfacesDispatchFailure(t *testing.T) {
	h := harness.New(t)
	code := h.Code(t, "referrer-1")
	resp := h.Refer(t, code.Code, "owner-1", restaurantdomain.RegisterRequest{})

	h.Dispatcher.Err = errors.New("redis down")
	_, err := h.Referrals.UpdatePipeline(context.Background(), resp.Referral.ID.String(), referraldomain.UpdatePipelineRequest{
		UsedCalculator:  ptr(true),
		UsedDiagnostic:  ptr(true),
		RequestedDemo:   ptr(true),
		FromMetaAd:      ptr(true),
		RespondedWa:     ptr(true),
		OpenedMessages:  ptr(6),
		ResponseTimeMin: ptr(15),
	}, "admin-1")
	require.Error(t, err)

	// The qualification committed; the reconciler picks up the emission.
	referral, err := h.Referrals.Get(context.Background(), resp.Referral.ID.String())
	require.NoError(t, err)
	assert.Equal(t, referraldomain.PipelineStatusQualified, referral.PipelineStatus)
	assert.Nil(t, referral.RewardedAt)
}

func TestGetScoreComputesLazily(t *testing.T) {
	h := harness.New(t)
	ctx := context.Background()
	code := h.Code(t, "referrer-1")
	resp := h.Refer(t, code.Code, "owner-1", restaurantdomain.RegisterRequest{NumLocations: ptr(3)})

	require.NoError(t, h.DB.Exec("UPDATE referrals SET scored_at = NULL, score_fit = 0, score_total = 0 WHERE id = ?", resp.Referral.ID).Error)

	result, err := h.Scoring.GetScore(ctx, resp.Referral.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, result.Fit)
	assert.Equal(t, 7, result.Total)

	referral, err := h.Referrals.Get(ctx, resp.Referral.ID.String())
	require.NoError(t, err)
	require.NotNil(t, referral.ScoredAt)
}

func TestGetScoreUnknownReferral(t *testing.T) {
	h := harness.New(t)

	_, err := h.Scoring.GetScore(context.Background(), h.Node.Generate())
	assert.ErrorIs(t, err, scoringdomain.ErrNotFound)

	_, err = h.Scoring.GetScore(context.Background(), 0)
	assert.ErrorIs(t, err, scoringdomain.ErrInvalidID)
}

func ptr[T any](v T) *T { return &v }
