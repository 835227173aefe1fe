// Package harness assembles the referral services over an in-memory database
// for tests that span more than one component.
package harness

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/config"
	eventdomain "github.com/smallbiznis/referrals/internal/eventlog/domain"
	eventrepository "github.com/smallbiznis/referrals/internal/eventlog/repository"
	eventservice "github.com/smallbiznis/referrals/internal/eventlog/service"
	referraldomain "github.com/smallbiznis/referrals/internal/referral/domain"
	referralrepository "github.com/smallbiznis/referrals/internal/referral/repository"
	referralservice "github.com/smallbiznis/referrals/internal/referral/service"
	codedomain "github.com/smallbiznis/referrals/internal/referralcode/domain"
	coderepository "github.com/smallbiznis/referrals/internal/referralcode/repository"
	codeservice "github.com/smallbiznis/referrals/internal/referralcode/service"
	restaurantdomain "github.com/smallbiznis/referrals/internal/restaurant/domain"
	restaurantrepository "github.com/smallbiznis/referrals/internal/restaurant/repository"
	restaurantservice "github.com/smallbiznis/referrals/internal/restaurant/service"
	rewarddomain "github.com/smallbiznis/referrals/internal/reward/domain"
	rewardrepository "github.com/smallbiznis/referrals/internal/reward/repository"
	rewardservice "github.com/smallbiznis/referrals/internal/reward/service"
	scoringdomain "github.com/smallbiznis/referrals/internal/scoring/domain"
	scoringservice "github.com/smallbiznis/referrals/internal/scoring/service"
	"github.com/smallbiznis/referrals/internal/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RecordingDispatcher remembers every emission request. With Next set the
// request is forwarded, otherwise it only records.
type RecordingDispatcher struct {
	mu    sync.Mutex
	calls []snowflake.ID

	Next rewarddomain.Dispatcher
	Err  error
}

func (d *RecordingDispatcher) Mode() rewarddomain.DispatchMode {
	if d.Next != nil {
		return d.Next.Mode()
	}
	return rewarddomain.DispatchModeSync
}

func (d *RecordingDispatcher) EnqueueRewardEmission(ctx context.Context, referralID snowflake.ID) error {
	d.mu.Lock()
	d.calls = append(d.calls, referralID)
	d.mu.Unlock()

	if d.Err != nil {
		return d.Err
	}
	if d.Next != nil {
		return d.Next.EnqueueRewardEmission(ctx, referralID)
	}
	return nil
}

func (d *RecordingDispatcher) Calls() []snowflake.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]snowflake.ID(nil), d.calls...)
}

type Harness struct {
	DB      *gorm.DB
	Clock   *clock.FakeClock
	Node    *snowflake.Node
	Program *config.ProgramHolder
	Log     *zap.Logger

	CodeRepo       codedomain.Repository
	RestaurantRepo restaurantdomain.Repository
	ReferralRepo   referraldomain.Repository
	RewardRepo     rewarddomain.Repository
	EventRepo      eventdomain.Repository

	Events      eventdomain.Service
	Codes       codedomain.Service
	Scoring     scoringdomain.Service
	Rewards     rewarddomain.Service
	Referrals   referraldomain.Service
	Restaurants restaurantdomain.Service
	Dispatcher  *RecordingDispatcher
}

type options struct {
	syncEmission bool
}

type Option func(*options)

// WithSyncEmission forwards emission requests to the synchronous dispatcher
// so rewards are created inline.
func WithSyncEmission() Option {
	return func(o *options) { o.syncEmission = true }
}

func New(t testing.TB, opts ...Option) *Harness {
	t.Helper()

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	h := &Harness{
		DB:             testutil.OpenDB(t),
		Clock:          testutil.Clock(),
		Node:           testutil.Node(t),
		Program:        testutil.Program(),
		Log:            zap.NewNop(),
		CodeRepo:       coderepository.Provide(),
		RestaurantRepo: restaurantrepository.Provide(),
		ReferralRepo:   referralrepository.Provide(),
		RewardRepo:     rewardrepository.Provide(),
		EventRepo:      eventrepository.Provide(),
		Dispatcher:     &RecordingDispatcher{},
	}

	h.Events = eventservice.New(eventservice.Params{
		DB:    h.DB,
		Log:   h.Log,
		GenID: h.Node,
		Clock: h.Clock,
		Repo:  h.EventRepo,
	})
	h.Codes = codeservice.New(codeservice.Params{
		DB:           h.DB,
		Log:          h.Log,
		GenID:        h.Node,
		Clock:        h.Clock,
		Program:      h.Program,
		Repo:         h.CodeRepo,
		ReferralRepo: h.ReferralRepo,
	})
	h.Rewards = rewardservice.New(rewardservice.Params{
		DB:             h.DB,
		Log:            h.Log,
		GenID:          h.Node,
		Clock:          h.Clock,
		Program:        h.Program,
		Mode:           rewarddomain.DispatchModeSync,
		Repo:           h.RewardRepo,
		ReferralRepo:   h.ReferralRepo,
		CodeRepo:       h.CodeRepo,
		RestaurantRepo: h.RestaurantRepo,
	})

	if o.syncEmission {
		next, err := rewardservice.NewDispatcher(rewardservice.DispatcherParams{
			Log:     h.Log,
			Mode:    rewarddomain.DispatchModeSync,
			Rewards: h.Rewards,
		})
		if err != nil {
			t.Fatalf("dispatcher: %v", err)
		}
		h.Dispatcher.Next = next
	}

	h.Scoring = scoringservice.New(scoringservice.Params{
		DB:             h.DB,
		Log:            h.Log,
		Clock:          h.Clock,
		ReferralRepo:   h.ReferralRepo,
		RestaurantRepo: h.RestaurantRepo,
		Events:         h.Events,
		Dispatcher:     h.Dispatcher,
	})
	h.Referrals = referralservice.New(referralservice.Params{
		DB:             h.DB,
		Log:            h.Log,
		Clock:          h.Clock,
		Repo:           h.ReferralRepo,
		CodeRepo:       h.CodeRepo,
		RestaurantRepo: h.RestaurantRepo,
		RewardRepo:     h.RewardRepo,
		Events:         h.Events,
		Scoring:        h.Scoring,
		Dispatcher:     h.Dispatcher,
	})
	h.Restaurants = restaurantservice.New(restaurantservice.Params{
		DB:           h.DB,
		Log:          h.Log,
		GenID:        h.Node,
		Clock:        h.Clock,
		Repo:         h.RestaurantRepo,
		ReferralRepo: h.ReferralRepo,
		Codes:        h.Codes,
		Scoring:      h.Scoring,
	})

	return h
}

// Code returns the referrer's code, creating it on first use.
func (h *Harness) Code(t testing.TB, referrerID string) codedomain.ReferralCode {
	t.Helper()
	code, err := h.Codes.GetOrCreateCode(context.Background(), codedomain.GetOrCreateCodeRequest{
		UserID:   referrerID,
		UserName: "Referrer " + referrerID,
	})
	if err != nil {
		t.Fatalf("get or create code: %v", err)
	}
	return code
}

// Refer registers a restaurant owned by ownerID under code. A zero request
// registers a bare restaurant that scores FIT 0.
func (h *Harness) Refer(t testing.TB, code, ownerID string, req restaurantdomain.RegisterRequest) restaurantdomain.RegisterResponse {
	t.Helper()
	req.OwnerID = ownerID
	req.ReferralCode = code
	if req.Name == "" {
		req.Name = "Restaurant of " + ownerID
	}
	resp, err := h.Restaurants.Register(context.Background(), req)
	if err != nil {
		t.Fatalf("register restaurant: %v", err)
	}
	if resp.Referral == nil {
		t.Fatalf("register restaurant: no referral created")
	}
	return resp
}

// HighFit is a CDMX intake that scores FIT 35 and INTENT 30.
func HighFit() restaurantdomain.RegisterRequest {
	return restaurantdomain.RegisterRequest{
		City:           ptr("CDMX"),
		NumLocations:   ptr(6),
		CurrentPOS:     ptr("Square"),
		DeliveryPct:    ptr(60),
		OwnerWhatsapp:  ptr("+5215512345678"),
		OwnerEmail:     ptr("owner@example.com"),
		UsedCalculator: true,
		UsedDiagnostic: true,
		RequestedDemo:  true,
	}
}

func ptr[T any](v T) *T {
	return &v
}
