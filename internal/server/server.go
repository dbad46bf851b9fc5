package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/unitledger/internal/audit"
	balancedomain "github.com/smallbiznis/unitledger/internal/balance/domain"
	"github.com/smallbiznis/unitledger/internal/config"
	"github.com/smallbiznis/unitledger/internal/observability"
	provisioningdomain "github.com/smallbiznis/unitledger/internal/provisioning/domain"
	subscriptiondomain "github.com/smallbiznis/unitledger/internal/subscription/domain"
	tariffdomain "github.com/smallbiznis/unitledger/internal/tariff/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, log *zap.Logger, metrics *observability.Metrics) *gin.Engine {
	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestIDMiddleware())
	r.Use(observability.GinLogger(log))
	r.Use(observability.GinTracing())
	r.Use(observability.GinMetrics(metrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type registerGinParams struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Metrics *observability.Metrics `optional:"true"`
}

func registerGin(p registerGinParams) *gin.Engine {
	return NewEngine(p.Cfg, p.Log, p.Metrics)
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	balanceSvc      balancedomain.Service
	tariffSvc       tariffdomain.Service
	subscriptionSvc subscriptiondomain.Service
	provisioningSvc provisioningdomain.Service
	auditRec        *audit.Recorder
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	BalanceSvc      balancedomain.Service
	TariffSvc       tariffdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	ProvisioningSvc provisioningdomain.Service
	AuditRec        *audit.Recorder `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		balanceSvc:      p.BalanceSvc,
		tariffSvc:       p.TariffSvc,
		subscriptionSvc: p.SubscriptionSvc,
		provisioningSvc: p.ProvisioningSvc,
		auditRec:        p.AuditRec,
	}
	s.RegisterRoutes()
	return s
}

// RegisterRoutes mounts the service-to-service billing surface.
func (s *Server) RegisterRoutes() {
	billing := s.engine.Group("/internal/billing")
	billing.Use(s.InternalKeyAuth())

	billing.POST("/check", s.checkBalance)
	billing.POST("/debit", s.debit)
	billing.POST("/credit", s.credit)
	billing.POST("/plan/apply", s.applyPlan)
	billing.POST("/users/init", s.initUser)

	billing.GET("/balance", s.getBalance)
	billing.GET("/plan", s.getPlan)
	billing.GET("/plans", s.listPlans)
	billing.GET("/subscription", s.getSubscription)
	billing.GET("/users/status", s.getUserStatus)
}

func run(lc fx.Lifecycle, s *Server, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: s.engine,
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
