// Package server exposes the admin HTTP surface: XP mutations, member
// standings, and the audit/reconciliation endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opencafe/pointsd/internal/config"
	ledgerdomain "github.com/opencafe/pointsd/internal/ledger/domain"
	"github.com/opencafe/pointsd/internal/observability/logger"
	"github.com/opencafe/pointsd/internal/observability/metrics"
	"github.com/opencafe/pointsd/internal/observability/tracing"
	pointsdomain "github.com/opencafe/pointsd/internal/points/domain"
	"github.com/opencafe/pointsd/internal/reconcile"
	tokendomain "github.com/opencafe/pointsd/internal/token/domain"
	"github.com/opencafe/pointsd/internal/xpconfig"
)

type Server struct {
	cfg config.Config
	log *zap.Logger
	db  *gorm.DB

	pointsSvc    pointsdomain.Service
	reconcileSvc reconcile.Service
	ledgerRepo   ledgerdomain.Repository
	catalogSvc   xpconfig.Service
	tokenRepo    tokendomain.Repository

	limiter *rateLimiter
}

type Param struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
	DB  *gorm.DB

	PointsSvc    pointsdomain.Service
	ReconcileSvc reconcile.Service
	LedgerRepo   ledgerdomain.Repository
	CatalogSvc   xpconfig.Service
	TokenRepo    tokendomain.Repository
}

func NewServer(p Param) *Server {
	return &Server{
		cfg:          p.Cfg,
		log:          p.Log.Named("server"),
		db:           p.DB,
		pointsSvc:    p.PointsSvc,
		reconcileSvc: p.ReconcileSvc,
		ledgerRepo:   p.LedgerRepo,
		catalogSvc:   p.CatalogSvc,
		tokenRepo:    p.TokenRepo,
		limiter:      newRateLimiter(120, time.Minute),
	}
}

// Router builds the gin engine with middleware and every route mounted.
func (s *Server) Router() *gin.Engine {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(tracing.GinMiddleware(s.cfg.ServiceName))
	engine.Use(metrics.GinMiddleware(metrics.HTTPWithConfig(metrics.Config{
		ServiceName: s.cfg.ServiceName,
		Environment: s.cfg.Environment,
	})))
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	engine.GET("/healthz", s.Healthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := engine.Group("/", s.TokenRequired(), s.RateLimited())

	authed.POST("/users", s.CreateUser)
	authed.GET("/users/:userId/points", s.GetUserPoints)

	authed.POST("/xp/add", s.AddXP)
	authed.POST("/xp/remove", s.RemoveXP)
	authed.POST("/xp/award", s.AwardAction)

	authed.GET("/config/xp", s.GetXPConfig)
	authed.PUT("/config/xp/:action", s.SetXPAmount)

	audit := authed.Group("/audit")
	audit.GET("", s.AuditIndex)
	audit.GET("/validate/:userId", s.ValidateUser)
	audit.POST("/correct/:userId", s.CorrectUser)
	audit.POST("/validate-all", s.ValidateAll)
	audit.POST("/reverse/:auditId", s.ReverseEntry)
	audit.GET("/report", s.AuditReport)
	audit.GET("/duplicates", s.AuditDuplicates)
	audit.GET("/user-breakdown/:userId", s.UserBreakdown)
	audit.GET("/all-users-breakdown", s.AllUsersBreakdown)
	audit.GET("/detailed-logs/:userId", s.DetailedLogs)
	audit.GET("/export", s.ExportLedger)

	return engine
}

func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RateLimited throttles authenticated callers per token.
func (s *Server) RateLimited() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(contextTokenIDKey)
		if key == "" {
			key = c.ClientIP()
		}
		if !s.limiter.Allow(key) {
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

// Module wires the server and its HTTP lifecycle.
var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func RunHTTP(lc fx.Lifecycle, s *Server) {
	httpServer := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.log.Info("http server listening", zap.String("addr", s.cfg.HTTPAddr))
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
	})
}
