package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/tally/internal/account"
	accountdomain "github.com/smallbiznis/tally/internal/account/domain"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/identity"
	"github.com/smallbiznis/tally/internal/ledger"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	"github.com/smallbiznis/tally/internal/migration"
	obslogger "github.com/smallbiznis/tally/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tally/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tally/internal/observability/tracing"
	"github.com/smallbiznis/tally/internal/product"
	"github.com/smallbiznis/tally/internal/ratelimit"
	"github.com/smallbiznis/tally/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	"github.com/smallbiznis/tally/internal/usage"
	usagedomain "github.com/smallbiznis/tally/internal/usage/domain"
	"github.com/smallbiznis/tally/internal/webhook"
	webhookdomain "github.com/smallbiznis/tally/internal/webhook/domain"
	"github.com/smallbiznis/tally/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	config.Module,
	obslogger.Module,
	obstracing.Module,
	obsmetrics.Module,
	clock.Module,
	db.Module,
	migration.Module,
	identity.Module,
	product.Module,
	account.Module,
	ledger.Module,
	usage.Module,
	subscription.Module,
	webhook.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, reg *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return r
}

func registerGin(log *zap.Logger, reg *prometheus.Registry) *gin.Engine {
	return NewEngine(log, reg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
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
	engine          *gin.Engine
	cfg             config.Config
	verifier        identity.Verifier
	accountSvc      accountdomain.Service
	ledgerSvc       ledgerdomain.Service
	usageSvc        usagedomain.Service
	subscriptionSvc subscriptiondomain.Service
	webhookSvc      webhookdomain.Service
	limiter         ratelimit.Limiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Verifier        identity.Verifier
	AccountSvc      accountdomain.Service
	LedgerSvc       ledgerdomain.Service
	UsageSvc        usagedomain.Service
	SubscriptionSvc subscriptiondomain.Service
	WebhookSvc      webhookdomain.Service
	Limiter         ratelimit.Limiter
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		verifier:        p.Verifier,
		accountSvc:      p.AccountSvc,
		ledgerSvc:       p.LedgerSvc,
		usageSvc:        p.UsageSvc,
		subscriptionSvc: p.SubscriptionSvc,
		webhookSvc:      p.WebhookSvc,
		limiter:         p.Limiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerCreditRoutes()
	svc.registerAccountRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerCreditRoutes() {
	credits := s.engine.Group("/credits", s.AuthRequired())

	credits.GET("/balance", s.GetBalance)
	credits.GET("/usage", s.GetUsage)
	credits.GET("/history", s.GetHistory)
	credits.POST("/consume", s.RateLimited("credits.consume"), s.ConsumeCredits)
	credits.POST("/grant", s.AdminRequired(), s.GrantCredits)
}

func (s *Server) registerAccountRoutes() {
	accounts := s.engine.Group("/accounts", s.AuthRequired(), s.AdminRequired())

	accounts.POST("", s.CreateAccount)
	accounts.POST("/:id/suspend", s.SuspendAccount)
	accounts.POST("/:id/unsuspend", s.UnsuspendAccount)
	accounts.DELETE("/:id", s.DeleteAccount)

	// Subscription records are provisioned at checkout time, before the
	// provider confirms activation over the webhook channel.
	subscriptions := s.engine.Group("/subscriptions", s.AuthRequired(), s.AdminRequired())
	subscriptions.POST("", s.CreateSubscription)
	subscriptions.GET("/:id", s.GetSubscription)
}

func (s *Server) registerWebhookRoutes() {
	// Provider deliveries are unauthenticated at this layer; the dedup
	// marker and signature checks upstream bound the blast radius.
	s.engine.POST("/webhooks/provider", s.HandleProviderWebhook)
}
