package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/openshelf/engage/internal/config"
	"github.com/openshelf/engage/internal/grant"
	grantdomain "github.com/openshelf/engage/internal/grant/domain"
	"github.com/openshelf/engage/internal/intake"
	intakedomain "github.com/openshelf/engage/internal/intake/domain"
	"github.com/openshelf/engage/internal/observability"
	obsmiddleware "github.com/openshelf/engage/internal/observability/logger"
	obsmetrics "github.com/openshelf/engage/internal/observability/metrics"
	obstracing "github.com/openshelf/engage/internal/observability/tracing"
	"github.com/openshelf/engage/internal/points"
	pointsdomain "github.com/openshelf/engage/internal/points/domain"
	"github.com/openshelf/engage/internal/ratelimit"
	"github.com/openshelf/engage/internal/referral"
	referraldomain "github.com/openshelf/engage/internal/referral/domain"
	"github.com/openshelf/engage/internal/streak"
	streakdomain "github.com/openshelf/engage/internal/streak/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	grant.Module,
	points.Module,
	streak.Module,
	referral.Module,
	intake.Module,
	ratelimit.Module,
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
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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
	engine       *gin.Engine
	cfg          config.Config
	genID        *snowflake.Node
	intakeSvc    intakedomain.Service
	pointsSvc    pointsdomain.Service
	streakSvc    streakdomain.Service
	referralSvc  referraldomain.Service
	grants       grantdomain.Store
	eventLimiter *ratelimit.EventIngestLimiter
	obsMetrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	GenID        *snowflake.Node
	IntakeSvc    intakedomain.Service
	PointsSvc    pointsdomain.Service
	StreakSvc    streakdomain.Service
	ReferralSvc  referraldomain.Service
	Grants       grantdomain.Store
	EventLimiter *ratelimit.EventIngestLimiter `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics           `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		genID:        p.GenID,
		intakeSvc:    p.IntakeSvc,
		pointsSvc:    p.PointsSvc,
		streakSvc:    p.StreakSvc,
		referralSvc:  p.ReferralSvc,
		grants:       p.Grants,
		eventLimiter: p.EventLimiter,
		obsMetrics:   p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/events", s.APIKeyRequired(), s.EventIngestRateLimit(), s.RecordEvent)

	api.GET("/users/:id/points", s.APIKeyRequired(), s.GetUserPoints)
	api.GET("/users/:id/streak", s.APIKeyRequired(), s.GetUserStreak)
	api.GET("/users/:id/referrals", s.APIKeyRequired(), s.GetUserReferrals)
	api.GET("/users/:id/rewards", s.APIKeyRequired(), s.GetUserRewards)
}
