package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/referrals/internal/referralcode/domain"
	"github.com/smallbiznis/referrals/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrementUseCountHoldsUnderConcurrentConnections(t *testing.T) {
	r := Provide()
	db := testutil.OpenPooledDB(t, 8)
	ctx := context.Background()

	maxUses := 3
	code := domain.ReferralCode{
		ID:             testutil.Node(t).Generate(),
		ReferrerUserID: "user-1",
		Code:           "JUSTO-ABCDEFGH",
		MaxUses:        &maxUses,
		CreatedAt:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, r.Insert(ctx, db, &code))

	const callers = 16
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		granted int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := r.IncrementUseCount(ctx, db, code.ID)
			if !assert.NoError(t, err) {
				return
			}
			if ok {
				atomic.AddInt32(&granted, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(maxUses), atomic.LoadInt32(&granted))
	stored, err := r.FindByID(ctx, db, code.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, maxUses, stored.UseCount)
}

func TestIncrementUseCountIgnoresStaleReads(t *testing.T) {
	r := Provide()
	db := testutil.OpenPooledDB(t, 2)
	ctx := context.Background()

	maxUses := 1
	code := domain.ReferralCode{
		ID:             testutil.Node(t).Generate(),
		ReferrerUserID: "user-1",
		Code:           "JUSTO-ABCDEFGH",
		MaxUses:        &maxUses,
		CreatedAt:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, r.Insert(ctx, db, &code))

	// Both callers saw an unused code before either wrote.
	first, err := r.FindByID(ctx, db, code.ID)
	require.NoError(t, err)
	second, err := r.FindByID(ctx, db, code.ID)
	require.NoError(t, err)
	require.False(t, first.Exhausted())
	require.False(t, second.Exhausted())

	ok, err := r.IncrementUseCount(ctx, db, first.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.IncrementUseCount(ctx, db, second.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
