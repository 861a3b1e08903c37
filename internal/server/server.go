package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/dojopay/internal/audit/domain"
	"github.com/smallbiznis/dojopay/internal/authorization"
	checkoutdomain "github.com/smallbiznis/dojopay/internal/checkout/domain"
	"github.com/smallbiznis/dojopay/internal/config"
	freezedomain "github.com/smallbiznis/dojopay/internal/freeze/domain"
	"github.com/smallbiznis/dojopay/internal/observability"
	obsmiddleware "github.com/smallbiznis/dojopay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/dojopay/internal/observability/metrics"
	obstracing "github.com/smallbiznis/dojopay/internal/observability/tracing"
	"github.com/smallbiznis/dojopay/internal/ratelimit"
	refunddomain "github.com/smallbiznis/dojopay/internal/refund/domain"
	"github.com/smallbiznis/dojopay/internal/scheduler"
	webhookdomain "github.com/smallbiznis/dojopay/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	authorization.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

// SweepRunner runs one named sweep to completion.
type SweepRunner interface {
	RunJob(ctx context.Context, name string) (*scheduler.SweepResult, error)
}

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

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	if err := cfg.Validate(); err != nil {
		log.Warn("server.config.incomplete", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	checkout checkoutdomain.Service
	webhooks webhookdomain.Service
	freezes  freezedomain.Service
	refunds  refunddomain.Service
	authz    authorization.Service
	audit    auditdomain.Service
	sweeps   SweepRunner
	limiter  *ratelimit.ChargeLimiter
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	Log       *zap.Logger
	Checkout  checkoutdomain.Service
	Webhooks  webhookdomain.Service
	Freezes   freezedomain.Service
	Refunds   refunddomain.Service
	AuthzSvc  authorization.Service
	Audit     auditdomain.Service
	Scheduler *scheduler.Scheduler
	Limiter   *ratelimit.ChargeLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return newServer(p.Gin, p.Cfg, p.Log, p.Checkout, p.Webhooks, p.Freezes, p.Refunds, p.AuthzSvc, p.Audit, p.Scheduler, p.Limiter)
}

func newServer(
	engine *gin.Engine,
	cfg config.Config,
	log *zap.Logger,
	checkout checkoutdomain.Service,
	webhooks webhookdomain.Service,
	freezes freezedomain.Service,
	refunds refunddomain.Service,
	authz authorization.Service,
	audit auditdomain.Service,
	sweeps SweepRunner,
	limiter *ratelimit.ChargeLimiter,
) *Server {
	svc := &Server{
		engine:   engine,
		cfg:      cfg,
		log:      log.Named("http.server"),
		checkout: checkout,
		webhooks: webhooks,
		freezes:  freezes,
		refunds:  refunds,
		authz:    authz,
		audit:    audit,
		sweeps:   sweeps,
		limiter:  limiter,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerInternalRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.TokenRequired())

	// -------- Checkout --------
	api.POST("/checkout/sessions", s.authorize(authorization.ObjectCheckout, authorization.ActionCreate), s.CreateCheckoutSession)

	// -------- Charges --------
	api.POST("/charges", s.authorize(authorization.ObjectCharge, authorization.ActionCreate), s.ChargeRateLimit(), s.CreateCharge)

	// -------- Refunds --------
	api.POST("/payments/:id/refunds", s.authorize(authorization.ObjectRefund, authorization.ActionCreate), s.CreateRefund)

	// -------- Freezes --------
	api.POST("/subscriptions/:id/freezes", s.authorize(authorization.ObjectFreeze, authorization.ActionCreate), s.CreateFreeze)
	api.PATCH("/freezes/:id", s.authorize(authorization.ObjectFreeze, authorization.ActionUpdate), s.UpdateFreeze)
	api.DELETE("/freezes/:id", s.authorize(authorization.ObjectFreeze, authorization.ActionDelete), s.DeleteFreeze)

	// -------- Audit --------
	api.GET("/audit-logs", s.authorize(authorization.ObjectAudit, authorization.ActionRead), s.ListAuditLogs)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal", s.SweepSecretRequired())

	internal.POST("/sweeps/:job", s.authorize(authorization.ObjectSweep, authorization.ActionRun), s.RunSweep)
}
