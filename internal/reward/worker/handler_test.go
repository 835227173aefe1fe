package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/referrals/internal/jobqueue"
	"github.com/smallbiznis/referrals/internal/reward/domain"
	"github.com/stretchr/testify/assert"
)

type stubRewards struct {
	domain.Service
	err     error
	emitted []snowflake.ID
}

func (s *stubRewards) EmitRewards(_ context.Context, referralID snowflake.ID) ([]domain.Reward, error) {
	s.emitted = append(s.emitted, referralID)
	return nil, s.err
}

func job(payload string) *jobqueue.Job {
	return &jobqueue.Job{ID: "reward-1", Name: domain.EmitRewardsJob, Payload: json.RawMessage(payload)}
}

func TestEmitRewardsHandler(t *testing.T) {
	cases := []struct {
		name      string
		payload   string
		err       error
		wantErr   bool
		permanent bool
	}{
		{name: "emits", payload: `{"referralId":"42"}`},
		{name: "malformed payload", payload: `{`, wantErr: true, permanent: true},
		{name: "bad id", payload: `{"referralId":"x"}`, wantErr: true, permanent: true},
		{name: "not qualified", payload: `{"referralId":"42"}`, err: domain.ErrNotQualified, wantErr: true, permanent: true},
		{name: "missing referral", payload: `{"referralId":"42"}`, err: domain.ErrReferralNotFound, wantErr: true, permanent: true},
		{name: "transient", payload: `{"referralId":"42"}`, err: errors.New("deadlock detected"), wantErr: true},
		{name: "serialization failure", payload: `{"referralId":"42"}`, err: &pgconn.PgError{Code: "40001"}, wantErr: true},
		{name: "sqlite busy", payload: `{"referralId":"42"}`, err: errors.New("database is locked"), wantErr: true},
		{
			name:    "lock timeout while loading referral",
			payload: `{"referralId":"42"}`,
			err:     fmt.Errorf("%w: %w", domain.ErrReferralIncomplete, &pgconn.PgError{Code: "55P03"}),
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rewards := &stubRewards{err: tc.err}
			err := EmitRewardsHandler(rewards)(context.Background(), job(tc.payload))
			if !tc.wantErr {
				assert.NoError(t, err)
				assert.Equal(t, []snowflake.ID{42}, rewards.emitted)
				return
			}
			assert.Error(t, err)
			assert.Equal(t, tc.permanent, jobqueue.IsPermanent(err))
		})
	}
}
