package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/tripdeal/bargain/internal/auditlog/domain"
	"github.com/tripdeal/bargain/internal/config"
	negotiationdomain "github.com/tripdeal/bargain/internal/negotiation/domain"
	"github.com/tripdeal/bargain/internal/observability"
	obsmiddleware "github.com/tripdeal/bargain/internal/observability/logger"
	obsmetrics "github.com/tripdeal/bargain/internal/observability/metrics"
	obstracing "github.com/tripdeal/bargain/internal/observability/tracing"
	sessiondomain "github.com/tripdeal/bargain/internal/session/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
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
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
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
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	negotiationSvc negotiationdomain.Service
	sessionRepo    sessiondomain.Repository
	auditSvc       auditdomain.Recorder
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	NegotiationSvc negotiationdomain.Service
	SessionRepo    sessiondomain.Repository
	AuditSvc       auditdomain.Recorder
	ObsMetrics     *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		negotiationSvc: p.NegotiationSvc,
		sessionRepo:    p.SessionRepo,
		auditSvc:       p.AuditSvc,
		obsMetrics:     p.ObsMetrics,
	}

	svc.registerNegotiationRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerNegotiationRoutes() {
	session := s.engine.Group("/session")
	{
		session.POST("/start", s.StartSession)
		session.POST("/offer", s.SubmitOffer)
		session.POST("/accept", s.AcceptOffer)
		session.GET("/replay/:id", s.ReplaySession)
	}

	s.engine.POST("/event/log", s.LogClientEvents)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	admin.GET("/sessions", s.ListSessions)
}
