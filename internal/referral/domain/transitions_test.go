package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from PipelineStatus
		to   PipelineStatus
		ok   bool
	}{
		{PipelineStatusPending, PipelineStatusQualified, true},
		{PipelineStatusPending, PipelineStatusDead, true},
		{PipelineStatusPending, PipelineStatusWon, false},
		{PipelineStatusPending, PipelineStatusPending, false},
		{PipelineStatusQualified, PipelineStatusDemoScheduled, true},
		{PipelineStatusQualified, PipelineStatusNurture, true},
		{PipelineStatusQualified, PipelineStatusMeetingHeld, false},
		{PipelineStatusDemoScheduled, PipelineStatusNoShow, true},
		{PipelineStatusMeetingHeld, PipelineStatusWon, true},
		{PipelineStatusMeetingHeld, PipelineStatusLost, true},
		{PipelineStatusLost, PipelineStatusNurture, true},
		{PipelineStatusLost, PipelineStatusDead, false},
		{PipelineStatusNoShow, PipelineStatusDemoScheduled, true},
		{PipelineStatusNurture, PipelineStatusDemoScheduled, true},
		{PipelineStatusNurture, PipelineStatusQualified, false},
		{PipelineStatusWon, PipelineStatusDead, false},
		{PipelineStatusDead, PipelineStatusPending, false},
		{PipelineStatusDead, PipelineStatusQualified, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to))
		})
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	assert.Empty(t, AllowedTransitions(PipelineStatusWon))
	assert.Empty(t, AllowedTransitions(PipelineStatusDead))
}

func TestAllowedTransitionsReturnsCopy(t *testing.T) {
	allowed := AllowedTransitions(PipelineStatusPending)
	allowed[0] = PipelineStatusWon
	assert.True(t, CanTransition(PipelineStatusPending, PipelineStatusQualified))
}

func TestPipelineStatusValid(t *testing.T) {
	assert.True(t, PipelineStatusNurture.Valid())
	assert.False(t, PipelineStatus("ARCHIVED").Valid())
	assert.False(t, PipelineStatus("").Valid())
}

func TestTransitionErrorNamesAllowedStatuses(t *testing.T) {
	err := TransitionError(PipelineStatusPending, PipelineStatusWon)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "QUALIFIED, DEAD")

	err = TransitionError(PipelineStatusDead, PipelineStatusPending)
	assert.Contains(t, err.Error(), "allowed: none")
}

func TestLegacyStatus(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		referral Referral
		want     Status
	}{
		{"pending", Referral{PipelineStatus: PipelineStatusPending}, StatusPending},
		{"qualified", Referral{PipelineStatus: PipelineStatusQualified, QualifiedAt: &now}, StatusQualified},
		{"demo after qualification", Referral{PipelineStatus: PipelineStatusDemoScheduled, QualifiedAt: &now}, StatusQualified},
		{"rewarded wins", Referral{PipelineStatus: PipelineStatusWon, QualifiedAt: &now, RewardedAt: &now}, StatusRewarded},
		{"expired", Referral{PipelineStatus: PipelineStatusDead, ExpiredAt: &now}, StatusExpired},
		{"dead after qualification", Referral{PipelineStatus: PipelineStatusDead, QualifiedAt: &now}, StatusQualified},
		{"dead without milestones", Referral{PipelineStatus: PipelineStatusDead}, StatusExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.referral.Project()
			assert.Equal(t, tc.want, tc.referral.Status)
		})
	}
}
