package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/paygate/internal/authorization"
	"github.com/smallbiznis/paygate/internal/config"
	"github.com/smallbiznis/paygate/internal/gatewayconfig"
	gatewaydomain "github.com/smallbiznis/paygate/internal/gatewayconfig/domain"
	"github.com/smallbiznis/paygate/internal/ledger"
	"github.com/smallbiznis/paygate/internal/locker"
	"github.com/smallbiznis/paygate/internal/observability"
	obslogger "github.com/smallbiznis/paygate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paygate/internal/observability/metrics"
	obstracing "github.com/smallbiznis/paygate/internal/observability/tracing"
	"github.com/smallbiznis/paygate/internal/payment"
	"github.com/smallbiznis/paygate/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/smallbiznis/paygate/internal/quote"
	"github.com/smallbiznis/paygate/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	gatewayconfig.Module,
	ledger.Module,
	quote.Module,
	locker.Module,
	ratelimit.Module,
	payment.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(obslogger.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
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

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", srv.Addr))
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
	authzSvc      authorization.Service
	paymentSvc    paymentdomain.Service
	notifications paymentdomain.NotificationService
	gatewaySvc    gatewaydomain.Service
	registry      *adapters.Registry
	limiter       *ratelimit.WebhookLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	AuthzSvc      authorization.Service `optional:"true"`
	PaymentSvc    paymentdomain.Service
	Notifications paymentdomain.NotificationService
	GatewaySvc    gatewaydomain.Service
	Registry      *adapters.Registry        `optional:"true"`
	Limiter       *ratelimit.WebhookLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		authzSvc:      p.AuthzSvc,
		paymentSvc:    p.PaymentSvc,
		notifications: p.Notifications,
		gatewaySvc:    p.GatewaySvc,
		registry:      p.Registry,
		limiter:       p.Limiter,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.WebhookRateLimit(), s.HandlePaymentWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.OrgContext())
	api.Use(ActorContext())

	api.GET("/providers", s.ListProviders)

	// -------- Charges --------
	api.POST("/charges", s.CreateCharge)
	api.GET("/charges", s.ListCharges)
	api.GET("/charges/:id", s.GetCharge)
	api.POST("/charges/:id/refresh", s.RefreshCharge)
	api.POST("/charges/:id/cancel", s.authorizeOrgAction(authorization.ObjectCharge, authorization.ActionChargeCancel), s.CancelCharge)
	// Reset is authorized by the payment service itself.
	api.POST("/charges/:id/reset", s.ResetCharge)

	// -------- Gateway configs --------
	gateways := api.Group("/gateway-configs")
	gateways.GET("", s.ListGatewayConfigs)
	gateways.GET("/:provider", s.GetGatewayConfig)
	gateways.PUT("/:provider", s.authorizeOrgAction(authorization.ObjectGatewayConfig, authorization.ActionGatewayConfigManage), s.UpsertGatewayConfig)
	gateways.PATCH("/:provider/active", s.authorizeOrgAction(authorization.ObjectGatewayConfig, authorization.ActionGatewayConfigManage), s.UpdateGatewayConfigStatus)
	gateways.POST("/:provider/test", s.authorizeOrgAction(authorization.ObjectGatewayConfig, authorization.ActionGatewayConfigManage), s.TestGatewayConnection)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
