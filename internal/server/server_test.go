package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/referrals/internal/authorization"
	"github.com/smallbiznis/referrals/internal/config"
	"github.com/smallbiznis/referrals/internal/jobqueue"
	restaurantdomain "github.com/smallbiznis/referrals/internal/restaurant/domain"
	"github.com/smallbiznis/referrals/internal/testutil/harness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type testServer struct {
	h      *harness.Harness
	engine *gin.Engine
}

func newTestServer(t *testing.T, queue *jobqueue.Queue) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := harness.New(t)
	enforcer, err := authorization.NewEnforcer(h.DB)
	require.NoError(t, err)
	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	NewServer(ServerParams{
		Gin:           engine,
		Cfg:           config.Config{AuthJWTSecret: testSecret},
		Log:           zap.NewNop(),
		CodeSvc:       h.Codes,
		ReferralSvc:   h.Referrals,
		RestaurantSvc: h.Restaurants,
		RewardSvc:     h.Rewards,
		ScoringSvc:    h.Scoring,
		AuthzSvc:      authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		Queue:         queue,
	})
	return testServer{h: h, engine: engine}
}

func token(t *testing.T, subject, role string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		Name: "Name of " + subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s testServer) do(t *testing.T, method, path, bearer string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	payload, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error payload: %v", body)
	errs, ok := payload["errors"].([]any)
	if !ok || len(errs) == 0 {
		return payload["type"].(string)
	}
	return errs[0].(map[string]any)["code"].(string)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, nil)

	status, body := s.do(t, http.MethodGet, "/api/referrals/my-code", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", errorCode(t, body))

	status, _ = s.do(t, http.MethodGet, "/api/referrals/my-code", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	status, _ = s.do(t, http.MethodGet, "/api/referrals/my-code", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodGet, "/api/referrals/my-code", token(t, "", ""), nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = s.do(t, http.MethodGet, "/api/referrals/my-code", token(t, "user-1", ""), nil)
	assert.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, "user-1", data["referrer_user_id"])
	assert.Equal(t, "Name of user-1", data["referrer_name"])
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	s := newTestServer(t, nil)

	status, body := s.do(t, http.MethodGet, "/api/admin/referrals", token(t, "user-1", "owner"), nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", errorCode(t, body))

	status, body = s.do(t, http.MethodGet, "/api/admin/referrals", token(t, "admin-1", "admin"), nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body["data"], "referrals")
}

func TestSalesRoleWorksPipelineOnly(t *testing.T) {
	s := newTestServer(t, nil)
	code := s.h.Code(t, "referrer-1")
	resp := s.h.Refer(t, code.Code, "owner-1", restaurantdomain.RegisterRequest{})
	id := resp.Referral.ID.String()
	sales := token(t, "sales-1", "sales")

	status, body := s.do(t, http.MethodPatch, "/api/referrals/"+id+"/pipeline", sales, map[string]any{"note": "left a voicemail"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "PENDING", body["data"].(map[string]any)["pipeline_status"])

	status, _ = s.do(t, http.MethodGet, "/api/referrals/"+id+"/timeline", sales, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodGet, "/api/admin/referrals", sales, nil)
	assert.Equal(t, http.StatusOK, status)

	for _, path := range []string{"/api/admin/rewards", "/api/admin/jobs"} {
		status, body = s.do(t, http.MethodGet, path, sales, nil)
		assert.Equal(t, http.StatusForbidden, status, path)
		assert.Equal(t, "forbidden", errorCode(t, body))
	}
	status, _ = s.do(t, http.MethodPost, "/api/referrals/"+id+"/qualify", sales, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestValidateCodeIsPublic(t *testing.T) {
	s := newTestServer(t, nil)
	code := s.h.Code(t, "referrer-1")

	status, body := s.do(t, http.MethodGet, "/api/referrals/validate/"+code.Code, "", nil)
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["valid"])
	assert.Equal(t, "referrer-1", data["referrer_user_id"])

	status, body = s.do(t, http.MethodGet, "/api/referrals/validate/JUSTO-MISSING2", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errorCode(t, body))
}

func TestRegisterRestaurantAndPipeline(t *testing.T) {
	s := newTestServer(t, nil)
	code := s.h.Code(t, "referrer-1")
	owner := token(t, "owner-1", "")
	admin := token(t, "admin-1", "admin")

	status, body := s.do(t, http.MethodPost, "/api/restaurants", owner, map[string]any{
		"name":         "Mariscos Lupita",
		"referralCode": code.Code,
		"city":         "Puebla",
		"numLocations": 1,
	})
	require.Equal(t, http.StatusCreated, status)
	referral := body["data"].(map[string]any)["referral"].(map[string]any)
	id := referral["id"].(string)
	assert.Equal(t, "PENDING", referral["pipeline_status"])

	status, body = s.do(t, http.MethodPost, "/api/restaurants", token(t, "referrer-1", ""), map[string]any{
		"name":         "Self",
		"referralCode": code.Code,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "self_referral", errorCode(t, body))

	status, body = s.do(t, http.MethodPatch, "/api/referrals/"+id+"/pipeline", admin, map[string]any{"status": "won"})
	require.Equal(t, http.StatusBadRequest, status)
	errs := body["error"].(map[string]any)["errors"].([]any)
	first := errs[0].(map[string]any)
	assert.Equal(t, "invalid_transition", first["code"])
	assert.Equal(t, "status", first["field"])
	assert.Contains(t, first["message"], "QUALIFIED, DEAD")

	status, body = s.do(t, http.MethodPatch, "/api/referrals/"+id+"/pipeline", admin, map[string]any{
		"status": "qualified",
		"note":   "called the owner",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "QUALIFIED", body["data"].(map[string]any)["pipeline_status"])

	status, body = s.do(t, http.MethodGet, "/api/referrals/"+id+"/timeline", admin, nil)
	require.Equal(t, http.StatusOK, status)
	timeline := body["data"].([]any)
	require.NotEmpty(t, timeline)
	latest := timeline[0].(map[string]any)
	assert.Equal(t, "STATUS_CHANGE", latest["event_type"])
	assert.Equal(t, "admin-1", latest["created_by"])

	status, body = s.do(t, http.MethodGet, "/api/referrals/"+id+"/score", owner, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotNil(t, body["data"])

	status, _ = s.do(t, http.MethodPatch, "/api/referrals/"+id+"/pipeline", owner, map[string]any{"status": "DEAD"})
	assert.Equal(t, http.StatusForbidden, status)

	status, body = s.do(t, http.MethodPatch, "/api/referrals/"+id+"/pipeline", admin, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_update", errorCode(t, body))

	status, _ = s.do(t, http.MethodPost, "/api/referrals/"+s.h.Node.Generate().String()+"/qualify", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRedeemRewardRequiresBeneficiary(t *testing.T) {
	s := newTestServer(t, nil)
	code := s.h.Code(t, "referrer-1")
	resp := s.h.Refer(t, code.Code, "owner-1", harness.HighFit())
	rewards, err := s.h.Rewards.EmitRewards(t.Context(), resp.Referral.ID)
	require.NoError(t, err)

	var referrerReward string
	for _, reward := range rewards {
		if reward.BeneficiaryID == "referrer-1" {
			referrerReward = reward.ID.String()
		}
	}
	require.NotEmpty(t, referrerReward)

	status, _ := s.do(t, http.MethodPost, "/api/rewards/"+referrerReward+"/redeem", token(t, "owner-1", ""), nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := s.do(t, http.MethodPost, "/api/rewards/"+referrerReward+"/redeem", token(t, "referrer-1", ""), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "REDEEMED", body["data"].(map[string]any)["status"])

	status, body = s.do(t, http.MethodPost, "/api/rewards/"+referrerReward+"/redeem", token(t, "referrer-1", ""), nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "reward_already_redeemed", errorCode(t, body))

	status, body = s.do(t, http.MethodGet, "/api/rewards/me", token(t, "owner-1", ""), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 1)
}

func TestJobEndpoints(t *testing.T) {
	admin := token(t, "admin-1", "admin")

	without := newTestServer(t, nil)
	status, body := without.do(t, http.MethodGet, "/api/admin/jobs", admin, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "service_unavailable", errorCode(t, body))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	queue := jobqueue.NewQueue(client, jobqueue.Config{}, nil)
	_, err := queue.Enqueue(t.Context(), jobqueue.EnqueueRequest{Name: "emit-rewards", Key: "reward-1"})
	require.NoError(t, err)

	with := newTestServer(t, queue)
	status, body = with.do(t, http.MethodGet, "/api/admin/jobs", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["data"].(map[string]any)["waiting"])

	status, body = with.do(t, http.MethodGet, "/api/admin/jobs/failed?limit=5000", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["data"])
}
