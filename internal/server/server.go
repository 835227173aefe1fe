package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/referrals/internal/authorization"
	"github.com/smallbiznis/referrals/internal/config"
	"github.com/smallbiznis/referrals/internal/jobqueue"
	"github.com/smallbiznis/referrals/internal/observability"
	obsmiddleware "github.com/smallbiznis/referrals/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/referrals/internal/observability/metrics"
	obstracing "github.com/smallbiznis/referrals/internal/observability/tracing"
	referraldomain "github.com/smallbiznis/referrals/internal/referral/domain"
	codedomain "github.com/smallbiznis/referrals/internal/referralcode/domain"
	restaurantdomain "github.com/smallbiznis/referrals/internal/restaurant/domain"
	rewarddomain "github.com/smallbiznis/referrals/internal/reward/domain"
	scoringdomain "github.com/smallbiznis/referrals/internal/scoring/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves the HTTP API. Domain modules are supplied by the binary.
var Module = fx.Module("http.server",
	authorization.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	jwtSecret     []byte
	codeSvc       codedomain.Service
	referralSvc   referraldomain.Service
	restaurantSvc restaurantdomain.Service
	rewardSvc     rewarddomain.Service
	scoringSvc    scoringdomain.Service
	authzSvc      authorization.Service
	queue         *jobqueue.Queue
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	CodeSvc       codedomain.Service
	ReferralSvc   referraldomain.Service
	RestaurantSvc restaurantdomain.Service
	RewardSvc     rewarddomain.Service
	ScoringSvc    scoringdomain.Service
	AuthzSvc      authorization.Service
	Queue         *jobqueue.Queue `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		jwtSecret:     []byte(p.Cfg.AuthJWTSecret),
		codeSvc:       p.CodeSvc,
		referralSvc:   p.ReferralSvc,
		restaurantSvc: p.RestaurantSvc,
		rewardSvc:     p.RewardSvc,
		scoringSvc:    p.ScoringSvc,
		authzSvc:      p.AuthzSvc,
		queue:         p.Queue,
	}
	if len(svc.jwtSecret) == 0 {
		svc.log.Warn("AUTH_JWT_SECRET not set, authenticated routes will reject every request")
	}

	svc.registerPublicRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPublicRoutes() {
	api := s.engine.Group("/api")

	api.GET("/referrals/validate/:code", s.ValidateReferralCode)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.AuthRequired())

	// -------- Registration --------
	api.POST("/restaurants", s.RegisterRestaurant)

	// -------- Beneficiary --------
	api.GET("/referrals/my-code", s.GetMyReferralCode)
	api.GET("/referrals/sent", s.ListSentReferrals)
	api.GET("/referrals/received", s.GetReceivedReferral)
	api.GET("/referrals/:id/score", s.GetReferralScore)

	api.GET("/rewards/me", s.ListMyRewards)
	api.POST("/rewards/:id/redeem", s.RedeemReward)
}

func (s *Server) registerAdminRoutes() {
	api := s.engine.Group("/api", s.AuthRequired(), s.RequireRole(authorization.RoleAdmin, authorization.RoleSales))

	// -------- Pipeline --------
	api.PATCH("/referrals/:id/pipeline", s.authorize(authorization.ObjectPipeline, authorization.ActionPipelineUpdate), s.UpdateReferralPipeline)
	api.POST("/referrals/:id/qualify", s.authorize(authorization.ObjectPipeline, authorization.ActionPipelineQualify), s.QualifyReferral)
	api.POST("/referrals/:id/expire", s.authorize(authorization.ObjectPipeline, authorization.ActionPipelineExpire), s.ExpireReferral)
	api.GET("/referrals/:id/timeline", s.authorize(authorization.ObjectPipeline, authorization.ActionTimelineView), s.GetReferralTimeline)

	admin := api.Group("/admin")
	admin.GET("/referrals", s.authorize(authorization.ObjectReferral, authorization.ActionReferralList), s.ListReferrals)
	admin.GET("/rewards", s.authorize(authorization.ObjectReward, authorization.ActionRewardList), s.ListRewards)
	admin.GET("/jobs", s.authorize(authorization.ObjectJobQueue, authorization.ActionJobQueueView), s.GetJobCounts)
	admin.GET("/jobs/failed", s.authorize(authorization.ObjectJobQueue, authorization.ActionJobQueueView), s.ListFailedJobs)
}
